package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Watcher reloads the dynamic subset of configuration when the watched
// config file changes on disk.
type Watcher struct {
	manager  Watched
	fsw      *fsnotify.Watcher
	path     string
	debounce time.Duration
	log      *zap.Logger

	mu           sync.Mutex
	lastModified time.Time
	lastSize     int64
}

// Watched is the narrow surface the watcher needs from the manager.
type Watched interface {
	ApplyDynamic(src *Config)
}

var _ Watched = (*Manager)(nil)

// NewWatcher creates a watcher for the given config file. The file does
// not need to exist yet; its directory does.
func NewWatcher(m Watched, path string, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}

	// Watching the directory survives editors that replace the file.
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		manager:  m,
		fsw:      fsw,
		path:     absPath,
		debounce: 500 * time.Millisecond,
		log:      log,
	}

	if stat, err := os.Stat(absPath); err == nil {
		w.lastModified = stat.ModTime()
		w.lastSize = stat.Size()
	}

	return w, nil
}

// Run blocks until the context is cancelled, reloading on change.
func (w *Watcher) Run(ctx context.Context) error {
	var timer *time.Timer
	var timerMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			w.fsw.Close()
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || abs != w.path {
				continue
			}

			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
			timerMu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	stat, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config file unreadable after change", zap.String("path", w.path), zap.Error(err))
		return
	}
	if stat.ModTime().Equal(w.lastModified) && stat.Size() == w.lastSize {
		return
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("config reload read failed", zap.String("path", w.path), zap.Error(err))
		return
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		// A half-written or invalid file leaves the running config intact.
		w.log.Warn("config reload parse failed", zap.String("path", w.path), zap.Error(err))
		return
	}

	w.lastModified = stat.ModTime()
	w.lastSize = stat.Size()

	w.manager.ApplyDynamic(&partial)
	w.log.Info("config reloaded", zap.String("path", w.path))
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
