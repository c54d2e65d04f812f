// Package watch wraps fsnotify for the server loop's filesystem poll:
// the roots the server loop passes in (issues dir and doc roots) are
// watched for create/write/rename events, which the server loop folds
// into its next buffer-append pass. The watcher never blocks; it is
// drained with a non-blocking poll on every loop iteration.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Event is a filesystem change relevant to one configured root.
type Event struct {
	Path string
	Op   fsnotify.Op
}

// Watcher accumulates fsnotify events across a set of roots between
// Drain calls. It is not safe for concurrent use; the server loop is
// single-threaded, so none is needed.
type Watcher struct {
	fs     *fsnotify.Watcher
	logger *slog.Logger
	mu     sync.Mutex
	events []Event
}

// New creates a Watcher and adds roots (directories; missing roots are
// skipped rather than failing startup, since a fresh project may not
// have created its issues dir yet).
func New(roots []string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	w := &Watcher{fs: fsw, logger: logger}
	for _, root := range roots {
		if err := w.addRoot(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	go w.collect()
	return w, nil
}

func (w *Watcher) addRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			w.logger.Debug("watch: root does not exist, skipping", "root", root)
			return nil
		}
		return fmt.Errorf("watch: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return w.fs.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fs.Add(path); err != nil {
				return fmt.Errorf("watch: add %s: %w", path, err)
			}
		}
		return nil
	})
}

// collect runs for the lifetime of the watcher, appending events to the
// internal buffer under mu; Drain takes the same lock to swap it out.
func (w *Watcher) collect() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.mu.Lock()
			w.events = append(w.events, Event{Path: ev.Name, Op: ev.Op})
			w.mu.Unlock()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch: fsnotify error", "error", err)
		}
	}
}

// Drain returns and clears every event accumulated since the last
// Drain call. Called once per server-loop iteration.
func (w *Watcher) Drain() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	events := w.events
	w.events = nil
	return events
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
