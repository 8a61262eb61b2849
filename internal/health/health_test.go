package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/agentsync/internal/status"
	"github.com/loykin/agentsync/internal/store"
	"github.com/loykin/agentsync/internal/store/file"
)

func TestCheckHealthyDirectory(t *testing.T) {
	s, err := file.New(filepath.Join(t.TempDir(), "status"))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))

	r := Check(context.Background(), s)
	assert.True(t, r.Healthy)
	assert.NotEmpty(t, r.Details)
	assert.False(t, r.CheckedAt.IsZero())

	_, err = os.Stat(filepath.Join(s.Dir(), store.SentinelAgent))
	assert.True(t, os.IsNotExist(err), "sentinel must be removed")
}

func TestCheckReadOnlyDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "status")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	s, err := file.New(dir)
	require.NoError(t, err)

	var r Report
	assert.NotPanics(t, func() { r = Check(context.Background(), s) })
	assert.False(t, r.Healthy)
	assert.NotEmpty(t, r.Details)
}

func TestCheckStatusPathIsAFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	s, err := file.New(path)
	require.NoError(t, err)

	r := Check(context.Background(), s)
	assert.False(t, r.Healthy)
	assert.NotEmpty(t, r.Details)
}

// listOnly has no Probe method, so Check falls back to List.
type listOnly struct {
	store.Store
	err error
}

func (l listOnly) List(context.Context) ([]status.Record, error) {
	return []status.Record{{Agent: "a"}}, l.err
}

func TestCheckFallsBackToList(t *testing.T) {
	r := Check(context.Background(), listOnly{})
	assert.True(t, r.Healthy)
	assert.Contains(t, r.Details, "1 agents")

	r = Check(context.Background(), listOnly{err: errors.New("connection refused")})
	assert.False(t, r.Healthy)
	assert.Equal(t, "connection refused", r.Details)
}

func TestCheckNilStore(t *testing.T) {
	r := Check(context.Background(), nil)
	assert.False(t, r.Healthy)
	assert.NotEmpty(t, r.Details)
}

func TestMonitorRejectsBadSchedule(t *testing.T) {
	_, err := NewMonitor(func(context.Context) Report { return Report{} }, "every now and then", nil)
	assert.Error(t, err)
}

func TestMonitorRunsOnSchedule(t *testing.T) {
	var n atomic.Int32
	m, err := NewMonitor(func(context.Context) Report {
		c := n.Add(1)
		return Report{Healthy: c%2 == 1, Details: "tick", CheckedAt: time.Now()}
	}, "@every 1s", nil)
	require.NoError(t, err)

	m.Start(context.Background())
	defer m.Stop()
	assert.True(t, m.Last().Healthy, "first check runs synchronously on Start")

	require.Eventually(t, func() bool { return n.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
	m.Stop()
	m.Stop()
}
