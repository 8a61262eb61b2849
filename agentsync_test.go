package agentsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	c := DefaultConfig()
	c.Sync.StatusDirectory = filepath.Join(t.TempDir(), "status")
	c.Sync.RetryBaseDelay = time.Millisecond
	c.Sync.Timeout = 2 * time.Second
	c.Sync.CheckInterval = 20 * time.Millisecond
	c.Log.Level = "error"
	return c
}

func TestNewFromConfigRoundTrip(t *testing.T) {
	m, err := New(testConfig(t))
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	_, err = m.SetStatus(ctx, "product", StateComplete, WithMetadata(map[string]any{"prd": "v1"}))
	require.NoError(t, err)
	rec, err := m.WaitForCompletion(ctx, "product", WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "v1", rec.Metadata["prd"])

	_, err = m.GetStatus(ctx, "nobody")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Sync.RetryAttempts = 0
	_, err := New(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.retry_attempts")
}

func TestNewWithHistory(t *testing.T) {
	c := testConfig(t)
	c.History.Enabled = true
	c.History.DSNs = []string{"sqlite://" + filepath.Join(t.TempDir(), "history.db")}
	m, err := New(c)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	require.NoError(t, m.Initialize(context.Background()))
	_, err = m.SetStatus(context.Background(), "coder", StateInProgress)
	require.NoError(t, err)
}

func TestManagerConfigFrom(t *testing.T) {
	c := testConfig(t)
	mc := ManagerConfigFrom(c)
	assert.Equal(t, 3, mc.RetryAttempts)
	assert.Equal(t, 2*time.Second, mc.Timeout)
	assert.Equal(t, 20*time.Millisecond, mc.CheckInterval)
}

func TestHTTPHandlerFacade(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	_, err = m.SetStatus(context.Background(), "architect", StateComplete)
	require.NoError(t, err)

	h := NewHTTPHandler(m, "/api")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?agent=architect", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseState(t *testing.T) {
	s, err := ParseState("In_Progress")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, s)
	_, err = ParseState("done")
	assert.ErrorIs(t, err, ErrInvalidState)
}
