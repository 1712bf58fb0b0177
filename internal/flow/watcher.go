package flow

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a flow config file and reloads it on change,
// delivering validated configs to a callback. Invalid edits are reported
// through the error callback and the previous config stays active, so a
// half-saved file never replaces a working flow.
type ConfigWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	onReload func(*Config, *Graph)
	onError  func(error)

	debounce    time.Duration
	lastEvent   time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	reloadCount int
}

// NewConfigWatcher creates a watcher for the given flow config file.
func NewConfigWatcher(path string, onReload func(*Config, *Graph), onError func(error)) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ConfigWatcher{
		watcher:  w,
		path:     filepath.Clean(path),
		onReload: onReload,
		onError:  onError,
		debounce: 500 * time.Millisecond, // editors fire bursts of writes
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Watching the directory rather than the file keeps
// the watch alive across atomic save (rename) cycles.
func (cw *ConfigWatcher) Start() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.running {
		return nil
	}
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return err
	}
	cw.running = true
	go cw.loop()
	return nil
}

func (cw *ConfigWatcher) loop() {
	defer close(cw.doneCh)
	for {
		select {
		case <-cw.stopCh:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cw.mu.Lock()
			now := time.Now()
			if now.Sub(cw.lastEvent) < cw.debounce {
				cw.mu.Unlock()
				continue
			}
			cw.lastEvent = now
			cw.mu.Unlock()
			cw.reload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			if cw.onError != nil {
				cw.onError(err)
			}
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, graph, err := LoadConfig(cw.path)
	if err != nil {
		if cw.onError != nil {
			cw.onError(err)
		}
		return
	}
	cw.mu.Lock()
	cw.reloadCount++
	cw.mu.Unlock()
	if cw.onReload != nil {
		cw.onReload(cfg, graph)
	}
}

// ReloadCount returns how many successful reloads have been delivered.
func (cw *ConfigWatcher) ReloadCount() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.reloadCount
}

// Stop stops watching and waits for the loop to exit.
func (cw *ConfigWatcher) Stop() {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return
	}
	cw.running = false
	cw.mu.Unlock()
	close(cw.stopCh)
	cw.watcher.Close()
	<-cw.doneCh
}
