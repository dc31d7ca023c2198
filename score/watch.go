package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/evermem/membench/storage"
)

// defaultWatchInterval is the debounce window for filesystem events.
const defaultWatchInterval = 500 * time.Millisecond

// Watcher re-runs scoring whenever the response log changes on disk, so a
// scoring process can trail a live dispatcher. Event bursts are debounced
// on a ticker and rescans are skipped when the file digest is unchanged.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(ctx context.Context) error
	logger   *slog.Logger

	mu         sync.Mutex
	pending    bool
	lastDigest string
}

// NewWatcher builds a watcher over the response log at path. onChange runs
// once at startup and again after each batch of changes; it is never
// invoked concurrently with itself.
func NewWatcher(path string, interval time.Duration, onChange func(ctx context.Context) error, logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, interval: interval, onChange: onChange, logger: logger}, nil
}

// Run watches until the context is cancelled. The parent directory is
// watched rather than the file itself so the log may be created or rotated
// while watching.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching response log", "path", w.path, "interval", w.interval)

	// Score whatever is already on disk before waiting for changes.
	w.rescan(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-ticker.C:
			w.mu.Lock()
			pending := w.pending
			w.pending = false
			w.mu.Unlock()
			if pending {
				w.rescan(ctx)
			}
		}
	}
}

// rescan runs the callback when the log content actually changed. The
// digest advances only on success so a failed pass is retried on the next
// change.
func (w *Watcher) rescan(ctx context.Context) {
	digest, err := storage.FileDigest(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.logger.Debug("response log not present yet", "path", w.path)
			return
		}
		w.logger.Warn("digest response log", "path", w.path, "error", err)
		return
	}
	if digest == w.lastDigest {
		w.logger.Debug("response log unchanged", "path", w.path)
		return
	}

	if err := w.onChange(ctx); err != nil {
		w.logger.Error("scoring pass failed", "path", w.path, "error", err)
		return
	}
	w.lastDigest = digest
}
