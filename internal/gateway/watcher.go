package gateway

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"nbexec/pkg/logger"
)

const debounceDelay = 100 * time.Millisecond

// Watcher calls onChange after the watched config file is written,
// created or renamed into place. Bursts of events are debounced.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func(path string)
	stopCh   chan struct{}
	stopOnce sync.Once
	timer    *time.Timer
	mu       sync.Mutex
}

// NewWatcher creates a watcher for the file at path.
func NewWatcher(path string, onChange func(path string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:  w,
		path:     filepath.Clean(path),
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched so editors that
// replace the file atomically are still seen.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.run()
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		logger.Debug().Str("path", w.path).Msg("Config file changed")
		w.onChange(w.path)
	})
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		w.watcher.Close()
	})
}
