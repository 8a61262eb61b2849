package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/agentsync/internal/health"
	mng "github.com/loykin/agentsync/internal/manager"
	"github.com/loykin/agentsync/internal/metrics"
	"github.com/loykin/agentsync/internal/status"
)

// Router provides embeddable HTTP handlers over a Manager.
// Endpoints (basePath may be empty or start with '/'; no trailing slash):
//
//	GET    {basePath}/status?agent=a          current record | 404
//	GET    {basePath}/statuses                agent -> record
//	POST   {basePath}/status                  body: SetRequest
//	DELETE {basePath}/status?agent=a          omit agent to delete all
//	GET    {basePath}/wait?agent=a&agent=b&timeout=30s&interval=1s
//	GET    {basePath}/health                  200 healthy, 503 otherwise
//	GET    {basePath}/events?agent=a          websocket stream of records
//	GET    /metrics                           when enabled
type Router struct {
	mgr      *mng.Manager
	basePath string
	metrics  bool
	monitor  *health.Monitor
	logger   *slog.Logger
	hub      *eventHub
	tls      *tls.Config
}

type RouterOption func(*Router)

// WithMetrics mounts the Prometheus handler at /metrics.
func WithMetrics(on bool) RouterOption { return func(r *Router) { r.metrics = on } }

// WithMonitor makes /health answer from the monitor's last scheduled check.
func WithMonitor(m *health.Monitor) RouterOption { return func(r *Router) { r.monitor = m } }

// WithTLS makes NewServer serve HTTPS. A nil config leaves plain HTTP.
func WithTLS(c *tls.Config) RouterOption { return func(r *Router) { r.tls = c } }

func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/wait, ...
func NewRouter(mgr *mng.Manager, basePath string, opts ...RouterOption) *Router {
	r := &Router{mgr: mgr, basePath: sanitizeBase(basePath), logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "server")
	r.hub = newEventHub(mgr, r.logger)
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleGetStatus)
	group.POST("/status", r.handleSetStatus)
	group.DELETE("/status", r.handleCleanup)
	group.GET("/statuses", r.handleListStatus)
	group.GET("/wait", r.handleWait)
	group.GET("/health", r.handleHealth)
	group.GET("/events", r.hub.handle)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewHTTPServer wraps handler with the daemon's timeouts. There is no write
// timeout: /wait and /events hold responses open.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// NewServer binds addr and serves this router in the background. Bind
// errors are returned; later serve errors are logged.
func NewServer(addr, basePath string, mgr *mng.Manager, opts ...RouterOption) (*http.Server, error) {
	r := NewRouter(mgr, basePath, opts...)
	srv := NewHTTPServer(addr, r.Handler())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv.Addr = ln.Addr().String()
	if r.tls != nil {
		srv.TLSConfig = r.tls
		ln = tls.NewListener(ln, r.tls)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server stopped", "error", err)
		}
	}()
	return srv, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
	Agent string `json:"agent,omitempty"`
	Kind  string `json:"kind,omitempty"`
	// Reason carries the agent's failure message for kind "failed".
	Reason string `json:"reason,omitempty"`
	// Timeout is the elapsed wait for kind "timeout".
	Timeout string `json:"timeout,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// SetRequest is the body of POST {basePath}/status.
type SetRequest struct {
	Agent    string         `json:"agent"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// errorCode maps domain errors onto HTTP statuses.
func errorCode(err error) (int, errorResp) {
	resp := errorResp{Error: err.Error()}
	var (
		fe *status.AgentFailedError
		te *status.TimeoutError
		we *status.WriteExhaustedError
		re *status.ReadError
	)
	switch {
	case errors.Is(err, status.ErrInvalidAgent), errors.Is(err, status.ErrInvalidState):
		resp.Kind = "invalid"
		return http.StatusBadRequest, resp
	case errors.Is(err, status.ErrNotFound):
		resp.Kind = "not_found"
		return http.StatusNotFound, resp
	case errors.Is(err, status.ErrStale):
		resp.Kind = "stale"
		var se *status.StaleWriteError
		if errors.As(err, &se) {
			resp.Agent = se.Agent
		}
		return http.StatusConflict, resp
	case errors.As(err, &fe):
		resp.Kind, resp.Agent, resp.Reason = "failed", fe.Agent, fe.Reason
		return http.StatusConflict, resp
	case errors.As(err, &te):
		resp.Kind, resp.Agent, resp.Timeout = "timeout", te.Agent, te.After.String()
		return http.StatusRequestTimeout, resp
	case errors.As(err, &we):
		resp.Kind, resp.Agent = "write_exhausted", we.Agent
		return http.StatusServiceUnavailable, resp
	case errors.As(err, &re):
		resp.Kind, resp.Agent = "read_error", re.Agent
		return http.StatusInternalServerError, resp
	}
	return http.StatusInternalServerError, resp
}

func (r *Router) fail(c *gin.Context, err error) {
	code, resp := errorCode(err)
	writeJSON(c, code, resp)
}

func (r *Router) handleGetStatus(c *gin.Context) {
	agent := c.Query("agent")
	if agent == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "agent query param required"})
		return
	}
	rec, err := r.mgr.GetStatus(c.Request.Context(), agent)
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleListStatus(c *gin.Context) {
	all, err := r.mgr.GetAllStatus(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, all)
}

func (r *Router) handleSetStatus(c *gin.Context) {
	var req SetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	state, err := status.ParseState(req.Status)
	if err != nil {
		r.fail(c, err)
		return
	}
	var opts []mng.SetOption
	if len(req.Metadata) > 0 {
		opts = append(opts, mng.WithMetadata(req.Metadata))
	}
	if req.Error != "" {
		opts = append(opts, mng.WithError(req.Error))
	}
	rec, err := r.mgr.SetStatus(c.Request.Context(), req.Agent, state, opts...)
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleCleanup(c *gin.Context) {
	if err := r.mgr.Cleanup(c.Request.Context(), c.Query("agent")); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleWait(c *gin.Context) {
	agents := c.QueryArray("agent")
	if len(agents) == 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "at least one agent query param required"})
		return
	}
	var opts []mng.WaitOption
	timeout, err := parseDurationParam(c, "timeout")
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid timeout: " + err.Error()})
		return
	}
	if timeout > 0 {
		opts = append(opts, mng.WithTimeout(timeout))
	}
	interval, err := parseDurationParam(c, "interval")
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid interval: " + err.Error()})
		return
	}
	if interval > 0 {
		opts = append(opts, mng.WithPollInterval(interval))
	}

	recs, err := r.mgr.WaitForMultiple(c.Request.Context(), agents, opts...)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// client went away
			c.Status(499)
			return
		}
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) handleHealth(c *gin.Context) {
	var rep health.Report
	if r.monitor != nil {
		rep = r.monitor.Last()
	}
	if rep.CheckedAt.IsZero() {
		rep = r.mgr.HealthCheck(c.Request.Context())
	}
	code := http.StatusOK
	if !rep.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, rep)
}
