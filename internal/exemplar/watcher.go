package exemplar

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"stacksbot/internal/embedding"
	"stacksbot/internal/logging"
)

// CatalogWatcher watches an external catalog file and rebuilds the exemplar
// store when it changes. The rebuild happens entirely off to the side; only
// a complete, validated store is swapped into the index.
type CatalogWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	index       *Index
	engine      embedding.Engine
	catalogPath string
	debounceDur time.Duration
	lastEvent   time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	// Stats for debugging
	stats CatalogWatcherStats
}

// CatalogWatcherStats tracks watcher activity.
type CatalogWatcherStats struct {
	ReloadsTriggered int
	ReloadsSucceeded int
	ReloadsFailed    int
	LastReloadTime   time.Time
}

// NewCatalogWatcher creates a watcher for the given catalog file.
func NewCatalogWatcher(catalogPath string, index *Index, engine embedding.Engine) (*CatalogWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &CatalogWatcher{
		watcher:     watcher,
		index:       index,
		engine:      engine,
		catalogPath: catalogPath,
		debounceDur: 500 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the catalog file's directory. Non-blocking.
func (cw *CatalogWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	if cw.running {
		cw.mu.Unlock()
		return nil
	}
	cw.running = true
	cw.mu.Unlock()

	// Watch the directory, not the file: editors replace files on save.
	dir := filepath.Dir(cw.catalogPath)
	if err := cw.watcher.Add(dir); err != nil {
		logging.Get(logging.CategoryStore).Warn("CatalogWatcher: initial watch failed: %v", err)
	} else {
		logging.Store("CatalogWatcher: watching %s", dir)
	}

	go cw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for cleanup.
func (cw *CatalogWatcher) Stop() {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return
	}
	cw.running = false
	cw.mu.Unlock()

	close(cw.stopCh)
	<-cw.doneCh

	if err := cw.watcher.Close(); err != nil {
		logging.Get(logging.CategoryStore).Error("CatalogWatcher: error closing watcher: %v", err)
	}
	logging.Store("CatalogWatcher: stopped")
}

// Stats returns a copy of the watcher statistics.
func (cw *CatalogWatcher) Stats() CatalogWatcherStats {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.stats
}

func (cw *CatalogWatcher) run(ctx context.Context) {
	defer close(cw.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopCh:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.catalogPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cw.mu.Lock()
			if time.Since(cw.lastEvent) < cw.debounceDur {
				cw.mu.Unlock()
				continue
			}
			cw.lastEvent = time.Now()
			cw.mu.Unlock()

			cw.reload(ctx)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryStore).Warn("CatalogWatcher: watch error: %v", err)
		}
	}
}

// reload rebuilds the store from the catalog file and swaps it in. Failures
// leave the previous store serving.
func (cw *CatalogWatcher) reload(ctx context.Context) {
	timer := logging.StartTimer(logging.CategoryStore, "CatalogWatcher.reload")
	defer timer.Stop()

	cw.mu.Lock()
	cw.stats.ReloadsTriggered++
	cw.mu.Unlock()

	cat, err := LoadCatalog(cw.catalogPath)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("CatalogWatcher: reload aborted, catalog unreadable: %v", err)
		cw.recordFailure()
		return
	}
	if err := cat.Validate(); err != nil {
		logging.Get(logging.CategoryStore).Error("CatalogWatcher: reload aborted, catalog invalid: %v", err)
		cw.recordFailure()
		return
	}

	store, err := BuildMemoryStore(ctx, cat, cw.engine)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("CatalogWatcher: reload aborted, build failed: %v", err)
		cw.recordFailure()
		return
	}

	old := cw.index.Swap(store)
	if old != nil {
		if err := old.Close(); err != nil {
			logging.Get(logging.CategoryStore).Warn("CatalogWatcher: failed to close old store: %v", err)
		}
	}

	cw.mu.Lock()
	cw.stats.ReloadsSucceeded++
	cw.stats.LastReloadTime = time.Now()
	cw.mu.Unlock()

	logging.Store("CatalogWatcher: reloaded catalog version=%s entries=%d", cat.Version, len(cat.Exemplars))
}

func (cw *CatalogWatcher) recordFailure() {
	cw.mu.Lock()
	cw.stats.ReloadsFailed++
	cw.mu.Unlock()
}
