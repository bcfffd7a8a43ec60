package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Logger is the minimal logging surface the watcher needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Watcher reloads the config file on change and hands each valid new
// configuration to the callback. Invalid intermediate states are logged and
// skipped, keeping the last good config in effect.
type Watcher struct {
	fw     *fsnotify.Watcher
	path   string
	logger Logger
	done   chan struct{}
}

// Watch observes path until Close. The parent directory is watched so the
// file may be replaced atomically (write + rename) by editors.
func Watch(path string, onChange func(*Config), logger Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{
		fw:     fw,
		path:   abs,
		logger: logger,
		done:   make(chan struct{}),
	}
	go w.loop(onChange)
	return w, nil
}

func (w *Watcher) loop(onChange func(*Config)) {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logf("config: reload skipped: %v", err)
				continue
			}
			onChange(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logf("config: watch error: %v", err)
		}
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
