package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/agentsync/internal/history"
	"github.com/loykin/agentsync/internal/status"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	rec := status.Record{Agent: "coder", Status: status.StateInProgress, Seq: 1, Metadata: map[string]any{"step": "build"}}
	require.NoError(t, sink.Send(ctx, history.NewEvent(history.EventSet, "test", rec)))

	rec.Status = status.StateFailed
	rec.Seq = 2
	rec.Error = "compile error"
	require.NoError(t, sink.Send(ctx, history.NewEvent(history.EventSet, "test", rec)))
	require.NoError(t, sink.Send(ctx, history.NewEvent(history.EventDelete, "test", status.Record{Agent: "coder"})))
	require.NoError(t, sink.Send(ctx, history.NewEvent(history.EventSet, "test", status.Record{Agent: "product", Status: status.StateComplete})))

	n, err := sink.Count(ctx, "coder")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := sink.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, all)

	var errText string
	require.NoError(t, sink.db.QueryRowContext(ctx,
		`SELECT error FROM agent_history WHERE agent = ? AND status = ?`, "coder", "failed").Scan(&errText))
	assert.Equal(t, "compile error", errText)
}

func TestSQLiteSink_DuplicateIDRejected(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	e := history.NewEvent(history.EventSet, "test", status.Record{Agent: "a", Status: status.StatePending})
	require.NoError(t, sink.Send(context.Background(), e))
	assert.Error(t, sink.Send(context.Background(), e))
}

func TestNewEmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
	_, err = New("sqlite://")
	assert.Error(t, err)
}
