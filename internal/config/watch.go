package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path     string
	onChange func(Config)
	log      zerolog.Logger
	debounce time.Duration

	fs        *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// Watch calls onChange with every configuration that loads and validates
// after path changes. Invalid edits are logged and skipped. The parent
// directory is watched so editors that replace the file are seen too.
func Watch(path string, onChange func(Config), log zerolog.Logger) (*Watcher, error) {
	return watch(path, onChange, log, defaultDebounce)
}

func watch(path string, onChange func(Config), log zerolog.Logger, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	path = filepath.Clean(path)
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		log:      log.With().Str(xlog.FieldComponent, "config").Logger(),
		debounce: debounce,
		fs:       fsw,
		done:     make(chan struct{}),
	}
	w.log.Info().
		Str(xlog.FieldEvent, "config.watcher_started").
		Str(xlog.FieldPath, path).
		Msg("watching config file for changes")
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.log.Debug().
				Str(xlog.FieldEvent, "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Str(xlog.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Error().
			Err(err).
			Str(xlog.FieldEvent, "config.reload_failed").
			Msg("config reload failed, keeping previous settings")
		return
	}
	w.log.Info().Str(xlog.FieldEvent, "config.reload_success").Msg("configuration reloaded")
	w.onChange(cfg)
}

// Close stops watching and waits for the watch goroutine.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fs.Close()
		<-w.done
	})
	return err
}
