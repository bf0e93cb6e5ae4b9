package confloader

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tari-project/keyvault-go/internal/telemetry/logger"
)

// Watcher watches configuration files and invokes callbacks on change,
// enabling live reload of the storage stack's tunables.
type Watcher struct {
	watcher *fsnotify.Watcher
	log     logger.Logger

	mu        sync.RWMutex
	callbacks []func(string)

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a configuration file watcher. A nil log uses the
// package default.
func NewWatcher(log logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	return &Watcher{
		watcher: fsw,
		log:     log.With("component", "confwatcher"),
		done:    make(chan struct{}),
	}, nil
}

// Watch adds a file to the watch set. The parent directory is watched
// rather than the file itself, so editor-style replace-by-rename still
// produces events.
func (w *Watcher) Watch(path string) error {
	dir := filepath.Dir(path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.log.Debug("watching directory", "dir", dir, "file", filepath.Base(path))
	return nil
}

// OnChange registers a callback invoked with the changed file's path.
func (w *Watcher) OnChange(cb func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start blocks, dispatching change events until Stop.
func (w *Watcher) Start() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.log.Debug("config file changed", "file", event.Name, "op", event.Op.String())
				w.notify(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", "error", err)
		case <-w.done:
			return
		}
	}
}

// StartAsync runs Start in a goroutine.
func (w *Watcher) StartAsync() {
	go w.Start()
}

// Stop halts event dispatch and releases the underlying watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) notify(path string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, cb := range w.callbacks {
		cb(path)
	}
}
