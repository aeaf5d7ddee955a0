package source

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

import (
	"github.com/fsnotify/fsnotify"
)

// Writer applies a pattern.
type Writer interface {
	Write(p []byte) (int, error)
}

// WatcherConfig controls the watch loop behavior.
type WatcherConfig struct {
	Debounce time.Duration
	// OnApply runs after a pattern from the file was written.
	OnApply func(ctx context.Context, pattern []byte)
}

// FileWatcher keeps the device pattern in sync with a file.
type FileWatcher struct {
	path     string
	dev      Writer
	debounce time.Duration
	onApply  func(ctx context.Context, pattern []byte)
	lastVer  string
	log      *slog.Logger
	mu       sync.Mutex
}

func NewFileWatcher(path string, dev Writer, cfg WatcherConfig) *FileWatcher {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &FileWatcher{
		path:     filepath.Clean(path),
		dev:      dev,
		debounce: debounce,
		onApply:  cfg.OnApply,
		log:      slog.Default(),
	}
}

// SyncOnce reads the file once and applies it.
func (w *FileWatcher) SyncOnce(ctx context.Context) error {
	_, err := w.pull(ctx)
	return err
}

// Start watches the file's directory until ctx is done. Editors that replace
// the file by rename are handled because the directory, not the file, is watched.
func (w *FileWatcher) Start(ctx context.Context) error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsW.Close()

	if err := fsW.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	if _, err := w.pull(ctx); err != nil {
		w.log.Warn("pattern file sync failed on startup", "path", w.path, "error", err)
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsW.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Debounce: reset timer on each event.
			timer.Reset(w.debounce)

		case <-timer.C:
			if _, err := w.pull(ctx); err != nil {
				w.log.Warn("pattern file sync failed", "path", w.path, "error", err)
			}

		case err, ok := <-fsW.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("pattern file watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *FileWatcher) pull(ctx context.Context) (bool, error) {
	body, err := os.ReadFile(w.path)
	if err != nil {
		return false, err
	}
	if len(body) == 0 {
		return false, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	sum := md5.Sum(body)
	version := fmt.Sprintf("%x", sum[:])
	if version == w.lastVer {
		return false, nil
	}

	n, err := w.dev.Write(body)
	if err != nil {
		return false, err
	}
	w.lastVer = version
	w.log.Info("applied pattern file", "path", w.path, "size", n)

	if w.onApply != nil {
		w.onApply(ctx, body)
	}
	return true, nil
}
