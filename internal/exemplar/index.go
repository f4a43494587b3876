package exemplar

import (
	"sync"

	"stacksbot/internal/logging"
)

// Index is the handle request handlers search through. It holds the current
// Store and supports wholesale replacement: a refresh builds a complete new
// store off to the side and swaps it in under the lock, so concurrent
// searches see either the old set or the new set, never a mix.
type Index struct {
	mu    sync.RWMutex
	store Store
}

// NewIndex wraps an initial store.
func NewIndex(store Store) *Index {
	return &Index{store: store}
}

// Search delegates to the current store.
func (ix *Index) Search(queryEmbed []float32, topK int) ([]Match, error) {
	ix.mu.RLock()
	store := ix.store
	ix.mu.RUnlock()

	if store == nil {
		return nil, ErrStoreUnavailable
	}
	return store.Search(queryEmbed, topK)
}

// Len returns the size of the current store, 0 if none is installed.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.store == nil {
		return 0
	}
	return ix.store.Len()
}

// Version returns the current store's catalog version.
func (ix *Index) Version() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.store == nil {
		return ""
	}
	return ix.store.Version()
}

// Swap installs a fully built replacement store and returns the old one.
// The caller owns closing the returned store once in-flight reads drain;
// in practice the old store is closed immediately since reads hold their
// own reference for the duration of a single Search call.
func (ix *Index) Swap(next Store) Store {
	ix.mu.Lock()
	old := ix.store
	ix.store = next
	ix.mu.Unlock()

	if next != nil {
		logging.Store("Exemplar index swapped: version=%s entries=%d", next.Version(), next.Len())
	}
	return old
}

// Close closes the current store.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.store == nil {
		return nil
	}
	err := ix.store.Close()
	ix.store = nil
	return err
}
