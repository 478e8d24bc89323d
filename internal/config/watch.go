package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "ownclock/internal/log"
)

const defaultReloadDebounce = 250 * time.Millisecond

// FileWatcher reloads the config file whenever it changes on disk.
type FileWatcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)

	fsw  *fsnotify.Watcher
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// WatchFile starts watching path. onChange receives every successfully
// parsed version; parse errors are logged and the previous config stays in
// effect. A burst of events within debounce results in a single reload.
//
// The parent directory is watched rather than the file itself because Save
// replaces the file by rename.
func WatchFile(path string, debounce time.Duration, onChange func(*Config)) (*FileWatcher, error) {
	if onChange == nil {
		return nil, errors.New("config: onChange is nil")
	}
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	fw := &FileWatcher{
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	fw.wg.Add(1)
	go fw.run()
	return fw, nil
}

// Close stops watching. It is safe to call more than once.
func (fw *FileWatcher) Close() error {
	var err error
	fw.once.Do(func() {
		close(fw.done)
		err = fw.fsw.Close()
		fw.wg.Wait()
	})
	return err
}

func (fw *FileWatcher) run() {
	defer fw.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-fw.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != fw.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
			} else {
				timer.Reset(fw.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.fsw.Errors:
			if !ok {
				return
			}
			appLog.Error("config watch error", err, "path", fw.path)
		case <-fire:
			fire = nil
			fw.reload()
		case <-fw.done:
			return
		}
	}
}

func (fw *FileWatcher) reload() {
	// A rename away leaves nothing to read; Load would recreate defaults.
	if _, err := os.Stat(fw.path); err != nil {
		appLog.Debug("config file missing after change; keeping current settings", "path", fw.path)
		return
	}
	cfg, err := Load(fw.path)
	if err != nil {
		appLog.Error("config reload failed; keeping current settings", err, "path", fw.path)
		return
	}
	appLog.Info("config file reloaded", "path", fw.path)
	fw.onChange(cfg)
}
