package history

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/loykin/agentsync/internal/status"
)

// EventType defines the kind of status transition.
type EventType string

const (
	EventSet    EventType = "set"
	EventDelete EventType = "delete"
)

// Event is one entry of the append-only transition log.
type Event struct {
	ID         string        `json:"id"`
	Type       EventType     `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Source     string        `json:"source"` // writer instance
	Record     status.Record `json:"record"`
}

// NewEvent stamps an event with a fresh ULID, so IDs sort by creation time.
func NewEvent(t EventType, source string, rec status.Record) Event {
	now := time.Now().UTC()
	return Event{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Type:       t,
		OccurredAt: now,
		Source:     source,
		Record:     rec,
	}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi sends each event to every sink and joins the failures.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
