package filewatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ajkula/GoPIO/domain/port/outbound"
)

// DefaultDebounce coalesces editor save bursts into one hint per file
const DefaultDebounce = 200 * time.Millisecond

// FsWatcher reports writes and creations under the directories of watched
// files. Events are hints: the sync loop still confirms drift with a stat.
type FsWatcher struct {
	watcher     *fsnotify.Watcher
	events      chan outbound.FileChangeEvent
	errors      chan error
	writeEvents chan fsnotify.Event
	debounce    time.Duration
	debouncer   map[string]*time.Timer
	pendingOps  map[string]fsnotify.Op
	watchedDirs map[string]bool
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	stopped     bool
	wg          sync.WaitGroup
}

func NewFSWatcher(debounce time.Duration) (*FsWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())

	fw := &FsWatcher{
		watcher:     fsWatcher,
		events:      make(chan outbound.FileChangeEvent, 1000),
		errors:      make(chan error, 100),
		writeEvents: make(chan fsnotify.Event, 100),
		debounce:    debounce,
		debouncer:   make(map[string]*time.Timer),
		pendingOps:  make(map[string]fsnotify.Op),
		watchedDirs: make(map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
	}

	fw.wg.Add(2)
	go fw.filterToWriteEvents()
	go fw.processWriteEvents()

	return fw, nil
}

// Watch starts monitoring the directory containing path
func (fw *FsWatcher) Watch(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.stopped {
		return fmt.Errorf("watcher stopped")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}

	dir := filepath.Dir(absPath)
	if fw.watchedDirs[dir] {
		return nil
	}

	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	fw.watchedDirs[dir] = true

	return nil
}

// Stop releases the fsnotify watcher and closes the event channels.
// It is safe to call more than once.
func (fw *FsWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	fw.stopped = true
	fw.cancel()
	fw.cleanupDebouncers()
	fw.mu.Unlock()

	err := fw.watcher.Close()

	// wait for goroutines to finish before closing what they send on
	fw.wg.Wait()
	close(fw.events)
	close(fw.errors)

	if err != nil {
		return fmt.Errorf("failed to close fsnotify watcher: %w", err)
	}
	return nil
}

func (fw *FsWatcher) Events() <-chan outbound.FileChangeEvent {
	return fw.events
}

func (fw *FsWatcher) Errors() <-chan error {
	return fw.errors
}

func (fw *FsWatcher) IsWatching() bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	return !fw.stopped && len(fw.watchedDirs) > 0
}

func (fw *FsWatcher) GetWatchedPaths() []string {
	fw.mu.RLock()
	defer fw.mu.RUnlock()

	paths := make([]string, 0, len(fw.watchedDirs))
	for path := range fw.watchedDirs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// filterToWriteEvents keeps Write and Create events and debounces them
func (fw *FsWatcher) filterToWriteEvents() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				fw.debounceEvent(event)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.ctx.Done():
				return
			}
		}
	}
}

// processWriteEvents forwards debounced events to subscribers
func (fw *FsWatcher) processWriteEvents() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event := <-fw.writeEvents:
			changeEvent := convertEvent(event)
			if changeEvent == nil {
				continue
			}
			select {
			case fw.events <- *changeEvent:
			case <-fw.ctx.Done():
				return
			}
		}
	}
}

// debounceEvent restarts the per-file timer; the last event of a burst wins
func (fw *FsWatcher) debounceEvent(event fsnotify.Event) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.stopped {
		return
	}
	if timer, exists := fw.debouncer[event.Name]; exists {
		timer.Stop()
		// a creation followed by writes is still a creation
		if event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			if pending, ok := fw.pendingOps[event.Name]; ok && pending.Has(fsnotify.Create) {
				event.Op |= fsnotify.Create
			}
		}
	}
	fw.pendingOps[event.Name] = event.Op

	fw.debouncer[event.Name] = time.AfterFunc(fw.debounce, func() {
		fw.mu.Lock()
		delete(fw.debouncer, event.Name)
		delete(fw.pendingOps, event.Name)
		fw.mu.Unlock()

		select {
		case fw.writeEvents <- event:
		case <-fw.ctx.Done():
		}
	})
}

// cleanupDebouncers stops and removes all debounce timers
func (fw *FsWatcher) cleanupDebouncers() {
	for _, timer := range fw.debouncer {
		timer.Stop()
	}
	fw.debouncer = make(map[string]*time.Timer)
	fw.pendingOps = make(map[string]fsnotify.Op)
}

// convertEvent maps a Write/Create event to a change hint
func convertEvent(event fsnotify.Event) *outbound.FileChangeEvent {
	var eventType string

	if event.Has(fsnotify.Create) {
		eventType = "create"
	} else if event.Has(fsnotify.Write) {
		eventType = "modify"
	} else {
		return nil
	}

	return &outbound.FileChangeEvent{
		FilePath:  event.Name,
		EventType: eventType,
	}
}
