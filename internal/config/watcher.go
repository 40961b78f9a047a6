package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow batches rapid successive writes (editors often emit several
// events per save) into one reload.
const debounceWindow = 250 * time.Millisecond

// Watcher watches a config file and invokes a callback with the freshly
// loaded, validated configuration whenever the file changes. Invalid or
// unreadable updates are logged and ignored; the previous configuration
// stays in effect.
type Watcher struct {
	path     string
	logger   *zap.Logger
	onChange func(*Config)

	fs       *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// Watch starts watching the config file at path. The parent directory is
// watched rather than the file itself so that editors replacing the file via
// rename keep triggering reloads.
func Watch(path string, logger *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}

	w := &Watcher{
		path:     abs,
		logger:   logger,
		onChange: onChange,
		fs:       fs,
		done:     make(chan struct{}),
	}
	go w.run()

	logger.Info("Watching config file", zap.String("path", abs))
	return w, nil
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fs.Close()
	})
}

func (w *Watcher) run() {
	debounce := time.NewTimer(debounceWindow)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(debounceWindow)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		case <-debounce.C:
			w.reload()
		}
	}
}

// reload loads and validates the file, then hands the result to the callback.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Failed to reload config, keeping previous",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("Reloaded config is invalid, keeping previous",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.logger.Info("Config file changed, applying", zap.String("path", w.path))
	w.onChange(cfg)
}
