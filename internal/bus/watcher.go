package bus

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LoginsWatcher publishes EventLoginsChanged when the browser's logins
// database file is written. Rapid consecutive writes are batched together
// with a debounce window so one save burst produces one event.
type LoginsWatcher struct {
	path     string
	bus      *Bus
	debounce time.Duration
	logger   *log.Logger

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   bool
	lastWrite time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoginsWatcher creates a watcher for the given logins database path.
//
// If logger is nil, a default logger writing to stderr is used.
func NewLoginsWatcher(path string, b *Bus, logger *log.Logger) (*LoginsWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("logins path cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &LoginsWatcher{
		path:     path,
		bus:      b,
		debounce: 500 * time.Millisecond,
		logger:   logger,
		watcher:  watcher,
	}, nil
}

// Start begins watching. The parent directory is watched so the event
// stream survives the atomic rename-into-place writes SQLite and most
// browsers use.
func (w *LoginsWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.watchEvents(ctx)
	go w.flushPending(ctx)

	w.logger.Printf("Watching logins database: %s", w.path)
	return nil
}

// Stop shuts the watcher down and waits for its goroutines.
func (w *LoginsWatcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	if err := w.watcher.Close(); err != nil {
		w.logger.Printf("Error closing watcher: %v", err)
	}
	w.wg.Wait()
	return nil
}

func (w *LoginsWatcher) watchEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}

			w.pendingMu.Lock()
			w.pending = true
			w.lastWrite = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (w *LoginsWatcher) flushPending(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.pendingMu.Lock()
			ready := w.pending && time.Since(w.lastWrite) >= w.debounce
			if ready {
				w.pending = false
			}
			w.pendingMu.Unlock()

			if ready {
				w.logger.Printf("Logins database changed")
				w.bus.Publish(EventLoginsChanged)
			}
		}
	}
}
