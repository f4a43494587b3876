package exemplar

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCatalogFile(t *testing.T, path, version string, exemplars string) {
	t.Helper()
	content := "version: " + version + "\nexemplars:\n" + exemplars
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
}

const oneExemplar = `  - text: "when does the library close"
    category: "library_hours_rooms"
    in_scope: true
`

const twoExemplars = oneExemplar + `  - text: "borrow a laptop"
    category: "library_equipment_checkout"
    action_based: true
    in_scope: true
`

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestCatalogWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	writeCatalogFile(t, path, "v1", oneExemplar)

	engine := testEngine()
	cat, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	store, err := BuildMemoryStore(context.Background(), cat, engine)
	if err != nil {
		t.Fatalf("BuildMemoryStore: %v", err)
	}
	index := NewIndex(store)
	defer index.Close()

	watcher, err := NewCatalogWatcher(path, index, engine)
	if err != nil {
		t.Fatalf("NewCatalogWatcher: %v", err)
	}
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	writeCatalogFile(t, path, "v2", twoExemplars)

	if !waitFor(t, 5*time.Second, func() bool { return index.Version() == "v2" }) {
		t.Fatalf("index not swapped: version=%s stats=%+v", index.Version(), watcher.Stats())
	}
	if index.Len() != 2 {
		t.Errorf("index len = %d after reload, want 2", index.Len())
	}
	if s := watcher.Stats(); s.ReloadsSucceeded == 0 {
		t.Errorf("stats show no successful reload: %+v", s)
	}
}

func TestCatalogWatcherKeepsOldStoreOnBadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	writeCatalogFile(t, path, "v1", oneExemplar)

	engine := testEngine()
	cat, _ := LoadCatalog(path)
	store, err := BuildMemoryStore(context.Background(), cat, engine)
	if err != nil {
		t.Fatalf("BuildMemoryStore: %v", err)
	}
	index := NewIndex(store)
	defer index.Close()

	watcher, err := NewCatalogWatcher(path, index, engine)
	if err != nil {
		t.Fatalf("NewCatalogWatcher: %v", err)
	}
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	// A catalog that fails validation (duplicate texts) must not evict
	// the serving store.
	writeCatalogFile(t, path, "v2", oneExemplar+oneExemplar)

	if !waitFor(t, 5*time.Second, func() bool { return watcher.Stats().ReloadsFailed > 0 }) {
		t.Fatalf("expected a failed reload, stats=%+v", watcher.Stats())
	}
	if index.Version() != "v1" {
		t.Errorf("bad catalog replaced the store: version=%s", index.Version())
	}
	if index.Len() != 1 {
		t.Errorf("index len = %d, want untouched 1", index.Len())
	}
}

func TestCatalogWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	writeCatalogFile(t, path, "v1", oneExemplar)

	index := NewIndex(nil)
	watcher, err := NewCatalogWatcher(path, index, testEngine())
	if err != nil {
		t.Fatalf("NewCatalogWatcher: %v", err)
	}
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	watcher.Stop()
	watcher.Stop()
}
