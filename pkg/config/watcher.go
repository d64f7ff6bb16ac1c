package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/roost-io/roost/pkg/log"
)

// Watcher re-reads the config file when it changes and applies the subset
// of settings that are safe to change at runtime (currently the log
// level). Structural settings still require a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
	stopCh  chan struct{}
}

// NewWatcher creates a watcher for the given config file
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}

	// Watch the directory, not the file: editors and config management
	// tools replace files by rename, which drops a direct file watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}

	return &Watcher{
		path:    path,
		watcher: fw,
		logger:  log.WithComponent("config"),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching in the background
func (w *Watcher) Start() {
	go w.run()
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watcher error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("ignoring invalid config change")
		return
	}

	log.SetLevel(cfg.Log.Level)
	w.logger.Info().Str("level", string(cfg.Log.Level)).Msg("applied config change")
}
