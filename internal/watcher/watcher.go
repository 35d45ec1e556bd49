package watcher

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConflictCallback is invoked when the storage file is modified by a
// writer other than this process
type ConflictCallback func(path string, at time.Time)

// StoreWatcher watches the durable storage file for foreign writes.
// Two instances editing the same project race on the same keys; this
// watcher makes that race observable instead of silent. Writes issued
// by this process are suppressed via NoteSelfWrite.
type StoreWatcher struct {
	path     string
	debounce time.Duration
	callback ConflictCallback
	watcher  *fsnotify.Watcher
	done     chan struct{}
	started  bool
	closed   bool
	mu       sync.Mutex

	selfWriteMu    sync.Mutex
	lastSelfWrite  time.Time
	suppressWindow time.Duration

	timerMu sync.Mutex
	timer   *time.Timer
}

// New creates a StoreWatcher for the given storage file path
func New(path string, debounce time.Duration, callback ConflictCallback) (*StoreWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory: sqlite swaps WAL files around the db path
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch path %s: %w", path, err)
	}

	return &StoreWatcher{
		path:           path,
		debounce:       debounce,
		callback:       callback,
		watcher:        fsw,
		done:           make(chan struct{}),
		suppressWindow: 2 * time.Second,
	}, nil
}

// NoteSelfWrite records that this process just wrote the store, so the
// next file event within the suppression window is not a conflict
func (w *StoreWatcher) NoteSelfWrite() {
	w.selfWriteMu.Lock()
	defer w.selfWriteMu.Unlock()

	w.lastSelfWrite = time.Now()
}

// Start starts watching for events
func (w *StoreWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	go w.watch()

	return nil
}

// Close stops watching and cleans up resources
func (w *StoreWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.started {
		close(w.done)
	}

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

// watch is the main event loop
func (w *StoreWatcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			log.Printf("watcher error: %v", err)

		case <-w.done:
			return
		}
	}
}

// handleEvent filters events down to writes against the storage file
// that this process did not issue
func (w *StoreWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	// Only the db file and its sqlite side files matter
	base := filepath.Base(w.path)
	eventBase := filepath.Base(event.Name)
	if eventBase != base && eventBase != base+"-wal" && eventBase != base+"-journal" {
		return
	}

	w.selfWriteMu.Lock()
	selfWrite := time.Since(w.lastSelfWrite) < w.suppressWindow
	w.selfWriteMu.Unlock()

	if selfWrite {
		return
	}

	w.debounceConflict()
}

// debounceConflict coalesces a burst of foreign writes into one callback
func (w *StoreWatcher) debounceConflict() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.timerMu.Lock()
		w.timer = nil
		w.timerMu.Unlock()

		w.callback(w.path, time.Now())
	})
}
