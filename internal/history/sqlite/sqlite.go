package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/agentsync/internal/history"
	"github.com/loykin/agentsync/internal/store"
)

// Sink writes history events to SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// :memory: databases exist per connection
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_history(
			id TEXT PRIMARY KEY,
			occurred_at TEXT NOT NULL,
			event TEXT NOT NULL,
			source TEXT NOT NULL,
			agent TEXT NOT NULL,
			status TEXT NOT NULL,
			seq INTEGER NOT NULL,
			metadata TEXT,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_history_agent ON agent_history(agent);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	meta, err := store.EncodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_history(id, occurred_at, event, source, agent, status, seq, metadata, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.OccurredAt.UTC().Format(time.RFC3339Nano), string(e.Type), e.Source,
		rec.Agent, string(rec.Status), rec.Seq, meta, store.NullString(rec.Error))
	return err
}

// Count returns the number of events recorded for agent ("" = all).
func (s *Sink) Count(ctx context.Context, agent string) (int, error) {
	var n int
	var err error
	if agent == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_history`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_history WHERE agent = ?`, agent).Scan(&n)
	}
	return n, err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
