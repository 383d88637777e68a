package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Instructions holds the system prompt loaded from a file and keeps it
// current while Watch runs. A failed reload keeps the last good content.
type Instructions struct {
	path string

	mu      sync.RWMutex
	content string
	loaded  time.Time
}

// NewInstructions creates a holder for path. Call Reload to read it.
func NewInstructions(path string) *Instructions {
	return &Instructions{path: ExpandHome(path)}
}

// Path returns the watched file path.
func (in *Instructions) Path() string { return in.path }

// Get returns the current instructions.
func (in *Instructions) Get() string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.content
}

// LoadedAt returns the time of the last successful load.
func (in *Instructions) LoadedAt() time.Time {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.loaded
}

// Reload reads the file. On error the previous content is kept.
func (in *Instructions) Reload() error {
	data, err := os.ReadFile(in.path)
	if err != nil {
		return fmt.Errorf("read instructions %s: %w", in.path, err)
	}
	in.mu.Lock()
	in.content = strings.TrimSpace(string(data))
	in.loaded = time.Now()
	in.mu.Unlock()
	return nil
}

// Watch reloads the file on write or create until ctx is done.
// The parent directory is watched so editors that replace the file
// by rename are picked up.
func (in *Instructions) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(in.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	name := filepath.Clean(in.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := in.Reload(); err != nil {
				slog.Warn("instructions reload failed, keeping previous", "path", in.path, "error", err)
				continue
			}
			slog.Info("instructions reloaded", "path", in.path, "chars", len(in.Get()))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("instructions watcher error", "error", err)
		}
	}
}
