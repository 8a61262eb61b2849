package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/agentsync/internal/cache"
	"github.com/loykin/agentsync/internal/notify"
	"github.com/loykin/agentsync/internal/status"
	"github.com/loykin/agentsync/internal/store/file"
)

// Watcher follows a status directory with fsnotify. When another process
// writes a record it refreshes the cache entry and publishes the record, so
// subscribers see cross-process writes without polling.
type Watcher struct {
	dir      string
	cache    *cache.Cache
	notifier *notify.Notifier
	logger   *slog.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

func New(dir string, c *cache.Cache, n *notify.Notifier, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		cache:    c,
		notifier: n,
		logger:   logger.With("component", "watch", "dir", dir),
	}
}

// Start begins watching. The directory must exist. Events are processed
// until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("watching status directory")
	return nil
}

// Stop shuts down the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	if w.fsw == nil {
		return nil
	}
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	w.fsw = nil
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	agent, ok := file.AgentFromFile(ev.Name)
	if !ok {
		return
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Remove) {
		return
	}

	rec, err := w.cache.Refresh(ctx, agent)
	switch {
	case errors.Is(err, status.ErrNotFound):
		w.cache.Delete(agent)
		return
	case err != nil:
		w.logger.Debug("refresh after change failed", "agent", agent, "op", ev.Op.String(), "error", err)
		return
	}

	// writes made by this process were already published by the manager
	if w.notifier.PublishNew(rec) {
		w.logger.Debug("status changed on disk", "agent", agent, "status", rec.Status)
	}
}
