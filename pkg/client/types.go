package client

import (
	"time"

	"github.com/loykin/agentsync/internal/status"
)

// Record mirrors the server's status record.
type Record = status.Record

// SetRequest is the body of POST /status.
type SetRequest struct {
	Agent    string         `json:"agent"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// WaitRequest describes a blocking wait on one or more agents.
type WaitRequest struct {
	Agents   []string
	Timeout  time.Duration // zero uses the server default
	Interval time.Duration
}

// HealthReport mirrors GET /health.
type HealthReport struct {
	Healthy   bool      `json:"healthy"`
	Details   string    `json:"details"`
	CheckedAt time.Time `json:"checked_at"`
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error   string `json:"error"`
	Agent   string `json:"agent,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}
