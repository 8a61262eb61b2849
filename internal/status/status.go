package status

import (
	"strings"
	"time"
)

// State is the lifecycle state of an agent.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// States lists every known state in lifecycle order.
var States = []State{StatePending, StateInProgress, StateComplete, StateFailed}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateInProgress, StateComplete, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether waiting should stop once s is observed.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

func (s State) String() string { return string(s) }

// ParseState converts a user supplied string into a State.
func ParseState(v string) (State, error) {
	s := State(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", ErrInvalidState
	}
	return s, nil
}

// Record is the persisted status of one agent.
// Seq orders records written for the same agent; larger wins.
type Record struct {
	Agent     string         `json:"agent"`
	Status    State          `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       int64          `json:"seq,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Newer reports whether r should replace other as the current record.
// Records from older writers carry no seq; the timestamp breaks the tie.
func (r Record) Newer(other Record) bool {
	if r.Seq != other.Seq {
		return r.Seq > other.Seq
	}
	return r.Timestamp.After(other.Timestamp)
}

// ValidateAgent checks an agent identifier is usable as a file name stem.
func ValidateAgent(agent string) error {
	if agent == "" || strings.TrimSpace(agent) != agent {
		return ErrInvalidAgent
	}
	if strings.ContainsAny(agent, "./\\") {
		return ErrInvalidAgent
	}
	return nil
}

// Validate checks the record is safe to persist.
func (r Record) Validate() error {
	if err := ValidateAgent(r.Agent); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return ErrInvalidState
	}
	return nil
}
