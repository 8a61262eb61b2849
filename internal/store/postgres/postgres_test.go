package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/agentsync/internal/status"
)

// startPostgresContainer starts a PostgreSQL container for tests
// and returns a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}

	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	// container may report ready before the DB accepts connections
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dsn, terminate := startPostgresContainer(t)
	defer terminate()
	waitForPostgres(t, dsn)

	db, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, db.Init(ctx))

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, db.Put(ctx, status.Record{Agent: "pg", Status: status.StateInProgress, Timestamp: now, Seq: 1, Metadata: map[string]any{"k": "v"}}))
	require.NoError(t, db.Put(ctx, status.Record{Agent: "pg", Status: status.StateComplete, Timestamp: now, Seq: 2}))
	assert.ErrorIs(t, db.Put(ctx, status.Record{Agent: "pg", Status: status.StatePending, Timestamp: now, Seq: 1}), status.ErrStale)

	got, err := db.Get(ctx, "pg")
	require.NoError(t, err)
	assert.Equal(t, status.StateComplete, got.Status)
	assert.True(t, got.Timestamp.Equal(now))

	require.NoError(t, db.Probe(ctx))
	recs, err := db.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, db.DeleteAgent(ctx, "pg"))
	_, err = db.Get(ctx, "pg")
	assert.ErrorIs(t, err, status.ErrNotFound)
}
