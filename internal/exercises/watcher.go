package exercises

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher invalidates a Source's caches when exercise content changes on
// disk, so long-lived batch processes pick up added or edited exercises
// without a restart.
type Watcher struct {
	source  *Source
	watcher *fsnotify.Watcher

	debounce time.Duration
	mu       sync.Mutex
	timer    *time.Timer

	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the source's root and prompts directory
func NewWatcher(source *Source) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		source:   source,
		watcher:  fsw,
		debounce: 500 * time.Millisecond, // Debounce rapid changes
	}

	if err := fsw.Add(source.Root()); err != nil {
		fsw.Close()
		return nil, err
	}
	// The prompts directory may not exist yet; watch it when it does
	promptsPath := filepath.Join(source.Root(), promptsDir)
	if _, err := os.Stat(promptsPath); err == nil {
		if err := fsw.Add(promptsPath); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	return w, nil
}

// Start begins watching for content changes
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[exercises] watch error: %v", err)
			}
		}
	}()
}

// Stop stops watching
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Collapse bursts of events into one invalidation
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.source.Invalidate()
		log.Printf("[exercises] content changed, cache invalidated")
	})
}
