package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mng "github.com/loykin/agentsync/internal/manager"
	"github.com/loykin/agentsync/internal/status"
	"github.com/loykin/agentsync/internal/store/file"
	tlsx "github.com/loykin/agentsync/internal/tls"
)

func newTestManager(t *testing.T) *mng.Manager {
	t.Helper()
	st, err := file.New(filepath.Join(t.TempDir(), "status"))
	require.NoError(t, err)
	m := mng.New(st, mng.Config{
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
		Timeout:        2 * time.Second,
		CheckInterval:  20 * time.Millisecond,
	})
	require.NoError(t, m.Initialize(context.Background()))
	return m
}

func setupRouter(t *testing.T, base string) (http.Handler, *mng.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mgr := newTestManager(t)
	return NewRouter(mgr, base, WithMetrics(true)).Handler(), mgr
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSetAndGetStatus(t *testing.T) {
	h, _ := setupRouter(t, "/api")

	rec := doReq(t, h, http.MethodPost, "/api/status", SetRequest{Agent: "coder", Status: "in_progress", Metadata: map[string]any{"step": "tests"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	written := decode[status.Record](t, rec)
	assert.Equal(t, status.StateInProgress, written.Status)

	rec = doReq(t, h, http.MethodGet, "/api/status?agent=coder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[status.Record](t, rec)
	assert.Equal(t, "tests", got.Metadata["step"])
	assert.Equal(t, written.Seq, got.Seq)
}

func TestGetStatusErrors(t *testing.T) {
	h, _ := setupRouter(t, "")
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodGet, "/status", nil).Code)
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/status?agent=ghost", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodGet, "/status?agent=a.b", nil).Code)
}

func TestSetStatusRejectsBadInput(t *testing.T) {
	h, _ := setupRouter(t, "")
	rec := doReq(t, h, http.MethodPost, "/status", SetRequest{Agent: "coder", Status: "finished"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid", decode[errorResp](t, rec).Kind)

	rec = doReq(t, h, http.MethodPost, "/status", SetRequest{Agent: "../x", Status: "complete"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/status", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndCleanup(t *testing.T) {
	h, mgr := setupRouter(t, "/api")
	ctx := context.Background()
	_, err := mgr.SetStatus(ctx, "product", status.StateComplete)
	require.NoError(t, err)
	_, err = mgr.SetStatus(ctx, "coder", status.StatePending)
	require.NoError(t, err)

	rec := doReq(t, h, http.MethodGet, "/api/statuses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[map[string]status.Record](t, rec)
	assert.Len(t, all, 2)

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodDelete, "/api/status?agent=coder", nil).Code)
	all = decode[map[string]status.Record](t, doReq(t, h, http.MethodGet, "/api/statuses", nil))
	assert.Len(t, all, 1)

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodDelete, "/api/status", nil).Code)
	all = decode[map[string]status.Record](t, doReq(t, h, http.MethodGet, "/api/statuses", nil))
	assert.Empty(t, all)
}

func TestWaitEndpoint(t *testing.T) {
	h, mgr := setupRouter(t, "/api")
	ctx := context.Background()

	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodGet, "/api/wait", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodGet, "/api/wait?agent=a&timeout=soon", nil).Code)

	_, err := mgr.SetStatus(ctx, "a", status.StateComplete)
	require.NoError(t, err)
	_, err = mgr.SetStatus(ctx, "b", status.StateComplete)
	require.NoError(t, err)
	rec := doReq(t, h, http.MethodGet, "/api/wait?agent=a&agent=b&timeout=1s&interval=10ms", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	recs := decode[[]status.Record](t, rec)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[1].Agent)

	_, err = mgr.SetStatus(ctx, "c", status.StateFailed, mng.WithError("bad"))
	require.NoError(t, err)
	rec = doReq(t, h, http.MethodGet, "/api/wait?agent=c", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "c", decode[errorResp](t, rec).Agent)

	rec = doReq(t, h, http.MethodGet, "/api/wait?agent=d&timeout=50ms&interval=10ms", nil)
	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
	assert.Equal(t, "timeout", decode[errorResp](t, rec).Kind)
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	gin.SetMode(gin.TestMode)
	st, err := file.New(filepath.Join(t.TempDir(), "never-created"))
	require.NoError(t, err)
	bad := NewRouter(mng.New(st, mng.Config{}), "").Handler()
	rec = doReq(t, bad, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, decode[map[string]any](t, rec)["details"])
}

func TestMetricsMount(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	gin.SetMode(gin.TestMode)
	noMetrics := NewRouter(newTestManager(t), "/api").Handler()
	assert.Equal(t, http.StatusNotFound, doReq(t, noMetrics, http.MethodGet, "/metrics", nil).Code)
}

func TestEventsWebsocket(t *testing.T) {
	h, mgr := setupRouter(t, "/api")
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events?agent=coder"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return mgr.Notifier().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	_, err = mgr.SetStatus(ctx, "product", status.StateComplete)
	require.NoError(t, err)
	_, err = mgr.SetStatus(ctx, "coder", status.StateComplete)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got status.Record
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "coder", got.Agent)
	assert.Equal(t, status.StateComplete, got.Status)

	_ = conn.Close()
	require.Eventually(t, func() bool { return mgr.Notifier().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventsRejectsInvalidAgent(t *testing.T) {
	h, _ := setupRouter(t, "")
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodGet, "/events?agent=a/b", nil).Code)
}

func TestNewServerBindsAndServes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv, err := NewServer("127.0.0.1:0", "/api", newTestManager(t))
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	resp, err := http.Get("http://" + srv.Addr + "/api/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewServerTLS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	tlsCfg, err := tlsx.Setup(tlsx.Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)

	srv, err := NewServer("127.0.0.1:0", "/api", newTestManager(t), WithTLS(tlsCfg))
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	pem, err := os.ReadFile(tlsx.CAPath(dir))
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(pem))
	hc := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS13}}}

	resp, err := hc.Get("https://" + srv.Addr + "/api/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorCodeStaleWrite(t *testing.T) {
	code, resp := errorCode(&status.StaleWriteError{Agent: "coder", Seq: 3})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "stale", resp.Kind)
	assert.Equal(t, "coder", resp.Agent)
}
