package status

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for an agent.
	ErrNotFound = errors.New("status: not found")
	// ErrInvalidAgent rejects empty identifiers and identifiers containing dots or path separators.
	ErrInvalidAgent = errors.New("status: invalid agent identifier")
	// ErrInvalidState rejects unknown states.
	ErrInvalidState = errors.New("status: invalid state")
	// ErrStale means the store already holds a record with a higher seq.
	ErrStale = errors.New("status: stale write")
)

// StaleWriteError is returned by Store.Put when the stored record for the
// agent is newer than the one being written. Nothing was persisted.
type StaleWriteError struct {
	Agent string
	Seq   int64
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale write for agent %s: a record newer than seq %d is stored", e.Agent, e.Seq)
}

func (e *StaleWriteError) Is(target error) bool { return target == ErrStale }

// DirectoryInitError means the backing location could not be created.
type DirectoryInitError struct {
	Dir string
	Err error
}

func (e *DirectoryInitError) Error() string {
	return fmt.Sprintf("initialize status directory %s: %v", e.Dir, e.Err)
}

func (e *DirectoryInitError) Unwrap() error { return e.Err }

// IOError is a store write or delete failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ReadError is a failure to read or decode a persisted record.
// It is distinct from ErrNotFound so callers can tell corruption from absence.
type ReadError struct {
	Agent string
	Path  string
	Err   error
}

func (e *ReadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("read status of %s: %v", e.Agent, e.Err)
	}
	return fmt.Sprintf("read status of %s from %s: %v", e.Agent, e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteExhaustedError is returned once every write attempt failed.
type WriteExhaustedError struct {
	Agent    string
	Attempts int
	Err      error
}

func (e *WriteExhaustedError) Error() string {
	return fmt.Sprintf("set status of %s failed after %d attempts: %v", e.Agent, e.Attempts, e.Err)
}

func (e *WriteExhaustedError) Unwrap() error { return e.Err }

// AgentFailedError is returned to waiters when the agent reached StateFailed.
type AgentFailedError struct {
	Agent  string
	Reason string
}

func (e *AgentFailedError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("agent %s failed: %s", e.Agent, reason)
}

// TimeoutError is returned when no terminal state was observed in time.
type TimeoutError struct {
	Agent string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for agent %s after %s", e.Agent, e.After)
}

// Timeout lets callers treat it like net errors.
func (e *TimeoutError) Timeout() bool { return true }
