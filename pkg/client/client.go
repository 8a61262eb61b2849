package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/loykin/agentsync/internal/status"
)

// Client talks to an agentsync daemon over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a client. Timeout bounds ordinary calls; Wait extends it by
// the requested wait timeout.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	reachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Daemon reachability check", "reachable", reachable, "status", resp.StatusCode)
	return reachable
}

// GetStatus returns the current record of agent. A missing record yields
// an error matching status.ErrNotFound.
func (c *Client) GetStatus(ctx context.Context, agent string) (Record, error) {
	var rec Record
	err := c.do(ctx, c.client, http.MethodGet, "/status?"+url.Values{"agent": {agent}}.Encode(), nil, &rec)
	return rec, err
}

// ListStatus returns every readable record keyed by agent.
func (c *Client) ListStatus(ctx context.Context) (map[string]Record, error) {
	out := map[string]Record{}
	err := c.do(ctx, c.client, http.MethodGet, "/statuses", nil, &out)
	return out, err
}

// SetStatus writes a record and returns it as persisted.
func (c *Client) SetStatus(ctx context.Context, req SetRequest) (Record, error) {
	c.logger.Debug("Setting status", "agent", req.Agent, "status", req.Status)
	var rec Record
	err := c.do(ctx, c.client, http.MethodPost, "/status", req, &rec)
	return rec, err
}

// Cleanup deletes the record of agent, or every record when agent is empty.
func (c *Client) Cleanup(ctx context.Context, agent string) error {
	path := "/status"
	if agent != "" {
		path += "?" + url.Values{"agent": {agent}}.Encode()
	}
	return c.do(ctx, c.client, http.MethodDelete, path, nil, nil)
}

// Wait blocks until every agent completes. Failures come back as
// *status.AgentFailedError and *status.TimeoutError.
func (c *Client) Wait(ctx context.Context, req WaitRequest) ([]Record, error) {
	q := url.Values{}
	for _, a := range req.Agents {
		q.Add("agent", a)
	}
	if req.Timeout > 0 {
		q.Set("timeout", req.Timeout.String())
	}
	if req.Interval > 0 {
		q.Set("interval", req.Interval.String())
	}
	// the server holds the response for up to the wait timeout
	hc := *c.client
	if req.Timeout > 0 {
		hc.Timeout = c.client.Timeout + req.Timeout
	} else {
		hc.Timeout = 0
	}
	var recs []Record
	err := c.do(ctx, &hc, http.MethodGet, "/wait?"+q.Encode(), nil, &recs)
	return recs, err
}

// Health returns the daemon's health report. An unhealthy daemon answers
// 503 with a report; that is returned without error.
func (c *Client) Health(ctx context.Context) (HealthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthReport{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return HealthReport{}, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return HealthReport{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var rep HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return HealthReport{}, fmt.Errorf("decode health: %w", err)
	}
	return rep, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns an API error back into the matching status error.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", er.Error, "status", resp.StatusCode)
	return decodeError(resp.StatusCode, er)
}

func decodeError(code int, er ErrorResponse) error {
	msg := errors.New(er.Error)
	switch er.Kind {
	case "not_found":
		return fmt.Errorf("%w: %s", status.ErrNotFound, er.Agent)
	case "failed":
		return &status.AgentFailedError{Agent: er.Agent, Reason: er.Reason}
	case "timeout":
		d, _ := time.ParseDuration(er.Timeout)
		return &status.TimeoutError{Agent: er.Agent, After: d}
	case "write_exhausted":
		return &status.WriteExhaustedError{Agent: er.Agent, Err: msg}
	case "stale":
		return &status.StaleWriteError{Agent: er.Agent}
	case "read_error":
		return &status.ReadError{Agent: er.Agent, Err: msg}
	case "invalid":
		return fmt.Errorf("API error (%d): %w", code, msg)
	}
	return fmt.Errorf("API error (%d): %s", code, er.Error)
}

func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}

func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}
