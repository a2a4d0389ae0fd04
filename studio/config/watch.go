package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mostlygeek/genstudio/event"
)

// ConfigFileChangedEvent is emitted after a changed config file has been
// loaded successfully.
type ConfigFileChangedEvent struct {
	Path string
}

const ConfigFileChangedEventID = 0x20

func (e ConfigFileChangedEvent) Type() uint32 {
	return ConfigFileChangedEventID
}

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 250 * time.Millisecond

// Watch reloads the config file whenever it changes until ctx is done.
// onReload receives every config that loads; onError receives load and
// watcher errors. The directory is watched so that editors replacing the
// file by rename are picked up.
func Watch(ctx context.Context, path string, onReload func(Config), onError func(error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDelay)
				} else {
					timer.Reset(reloadDelay)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				config, err := LoadConfig(abs)
				if err != nil {
					onError(err)
					continue
				}
				onReload(config)
				event.Emit(ConfigFileChangedEvent{Path: abs})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(err)
			}
		}
	}()

	return nil
}
