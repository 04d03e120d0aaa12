package server

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/levkk/rwf/internal/logging"
)

// Watcher watches the application file and fires onChange when its
// content actually changes. Events are debounced, and the content hash
// gates the callback so editor noise (touch, atomic-save rename
// storms) does not trigger spurious reloads.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func()

	mu       sync.Mutex
	timer    *time.Timer
	lastHash uint64
}

// NewWatcher starts watching path. The watch covers the containing
// directory so atomic saves (write temp, rename over) are seen.
func NewWatcher(path string, debounce time.Duration, onChange func()) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w := &Watcher{
		watcher:  fsWatcher,
		path:     abs,
		debounce: debounce,
		onChange: onChange,
	}
	w.lastHash = w.fileHash()

	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Reload watcher error", zap.Error(err))
		}
	}
}

// schedule arms the debounce timer, resetting any pending one so a
// burst of events fires the callback once.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	hash := w.fileHash()

	w.mu.Lock()
	unchanged := hash != 0 && hash == w.lastHash
	if !unchanged {
		w.lastHash = hash
	}
	w.mu.Unlock()

	if unchanged {
		logging.Debug("Application file content unchanged, skipping reload",
			zap.String("path", w.path),
		)
		return
	}
	w.onChange()
}

// fileHash returns the content hash, or 0 when the file is unreadable
// (mid-rename). 0 never gates: the next real read decides.
func (w *Watcher) fileHash() uint64 {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

// Close stops the watcher. Pending debounced callbacks may still fire.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
