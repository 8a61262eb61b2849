package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/agentsync/internal/status"
	"github.com/loykin/agentsync/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	p = strings.TrimPrefix(p, "sqlite://")
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and avoids SQLITE_BUSY
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks from other processes
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_status(
			agent TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			seq INTEGER NOT NULL,
			metadata TEXT NULL,
			error TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_status_status ON agent_status(status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return &status.DirectoryInitError{Dir: "sqlite", Err: err}
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

// Put upserts the record unless a newer one (larger seq) is already stored.
func (s *DB) Put(ctx context.Context, rec status.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.put(ctx, rec)
}

func (s *DB) put(ctx context.Context, rec status.Record) error {
	meta, err := store.EncodeMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata of %s: %w", rec.Agent, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_status(agent, status, timestamp, seq, metadata, error)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent) DO UPDATE SET
			status=excluded.status,
			timestamp=excluded.timestamp,
			seq=excluded.seq,
			metadata=excluded.metadata,
			error=excluded.error
		WHERE excluded.seq >= agent_status.seq;`,
		rec.Agent, string(rec.Status), rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Seq, meta, store.NullString(rec.Error))
	if err != nil {
		return &status.IOError{Op: "upsert", Path: "agent_status/" + rec.Agent, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &status.StaleWriteError{Agent: rec.Agent, Seq: rec.Seq}
	}
	return nil
}

func (s *DB) Get(ctx context.Context, agent string) (status.Record, error) {
	if err := status.ValidateAgent(agent); err != nil {
		return status.Record{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT agent, status, timestamp, seq, metadata, error
		FROM agent_status WHERE agent=?;`, agent)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return status.Record{}, status.ErrNotFound
	}
	if err != nil {
		return status.Record{}, &status.ReadError{Agent: agent, Err: err}
	}
	return rec, nil
}

func (s *DB) List(ctx context.Context) ([]status.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, status, timestamp, seq, metadata, error
		FROM agent_status ORDER BY agent;`)
	if err != nil {
		return nil, &status.ReadError{Agent: "*", Err: err}
	}
	defer func() { _ = rows.Close() }()
	out := make([]status.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &status.ReadError{Agent: "*", Err: err}
		}
		if rec.Agent == store.SentinelAgent {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DB) DeleteAgent(ctx context.Context, agent string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_status WHERE agent=?;`, agent); err != nil {
		return &status.IOError{Op: "delete", Path: "agent_status/" + agent, Err: err}
	}
	return nil
}

func (s *DB) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_status;`); err != nil {
		return &status.IOError{Op: "delete", Path: "agent_status", Err: err}
	}
	return nil
}

// Probe pings the database and round-trips the sentinel row.
func (s *DB) Probe(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite not reachable: %w", err)
	}
	sentinel := status.Record{Agent: store.SentinelAgent, Status: status.StatePending, Timestamp: time.Now().UTC()}
	if err := s.put(ctx, sentinel); err != nil {
		return fmt.Errorf("sqlite not writable: %w", err)
	}
	return s.DeleteAgent(ctx, store.SentinelAgent)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (status.Record, error) {
	var (
		rec   status.Record
		st    string
		ts    string
		meta  sql.NullString
		errSt sql.NullString
	)
	if err := row.Scan(&rec.Agent, &st, &ts, &rec.Seq, &meta, &errSt); err != nil {
		return rec, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return rec, err
	}
	rec.Status = status.State(st)
	rec.Timestamp = t
	rec.Error = errSt.String
	if rec.Metadata, err = store.DecodeMetadata(meta); err != nil {
		return rec, err
	}
	return rec, nil
}

var (
	_ store.Store  = (*DB)(nil)
	_ store.Prober = (*DB)(nil)
)
