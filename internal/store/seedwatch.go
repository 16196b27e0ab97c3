package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// seedDebounce is how long the watcher waits after the last write event
// before re-importing. Editors save in bursts (truncate, write, rename);
// the pause lets the file settle.
const seedDebounce = 500 * time.Millisecond

// SeedWatcher re-imports the users seed file whenever it changes on
// disk, so operators can edit household configuration without
// restarting the server.
type SeedWatcher struct {
	store  *Store
	path   string
	logger *slog.Logger

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSeedWatcher creates a watcher for the seed file at path. The
// parent directory is watched rather than the file itself: editors that
// replace the file on save (vim, atomic writers) would otherwise
// silently detach the watch.
func NewSeedWatcher(store *Store, path string, logger *slog.Logger) (*SeedWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	return &SeedWatcher{
		store:   store,
		path:    path,
		logger:  logger.With("component", "seedwatch"),
		watcher: w,
		done:    make(chan struct{}),
	}, nil
}

// Start begins processing filesystem events. It returns immediately.
func (sw *SeedWatcher) Start(ctx context.Context) {
	sw.wg.Add(1)
	go sw.loop(ctx)
	sw.logger.Info("watching seed file", "path", sw.path)
}

// Stop halts the watcher. Safe to call more than once.
func (sw *SeedWatcher) Stop() error {
	var err error
	sw.stopOnce.Do(func() {
		close(sw.done)
		err = sw.watcher.Close()
		sw.wg.Wait()

		sw.mu.Lock()
		if sw.timer != nil {
			sw.timer.Stop()
		}
		sw.mu.Unlock()
	})
	return err
}

func (sw *SeedWatcher) loop(ctx context.Context) {
	defer sw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handleEvent(ctx, event)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warn("seed watcher error", "error", err)
		}
	}
}

func (sw *SeedWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != sw.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(seedDebounce, func() {
		sw.reimport(ctx)
	})
}

func (sw *SeedWatcher) reimport(ctx context.Context) {
	select {
	case <-sw.done:
		return
	default:
	}

	result, err := sw.store.ImportSeedFile(ctx, sw.path)
	if err != nil {
		sw.logger.Error("seed re-import failed", "path", sw.path, "error", err)
		return
	}
	sw.logger.Info("seed re-imported",
		"path", sw.path,
		"added", result.Added,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
	)
}
