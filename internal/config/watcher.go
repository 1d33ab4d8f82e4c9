package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// defaultDebounce coalesces editor write bursts into one reload.
const defaultDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
//
// The watch is on the parent directory, not the file itself: editors and
// tools that replace files atomically (rename over the target) would
// otherwise detach the watch after the first change.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger
	fw       *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watcher path cannot be empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     absPath,
		debounce: defaultDebounce,
		logger:   logger,
	}, nil
}

// Start begins watching. onChange is invoked with the freshly loaded config
// after every successful reload; a reload that fails validation is logged
// and the previous configuration stays in effect. Start returns immediately;
// the watch loop stops when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context, onChange func(*Config)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	w.fw = fw
	go w.loop(ctx, onChange)
	return nil
}

func (w *Watcher) loop(ctx context.Context, onChange func(*Config)) {
	defer w.fw.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Collapse bursts of events into one reload.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-timer.C:
			cfg, err := LoadWithFile(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous configuration",
					zap.String("path", w.path),
					zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded", zap.String("path", w.path))
			onChange(cfg)
		}
	}
}
