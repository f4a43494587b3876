package exemplar

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreLoadAndSearch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "exemplars.db")
	store, err := OpenSQLiteStore(dbPath, 3)
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.LoadCatalog(ctx, testCatalog(), testEngine()); err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}

	if store.Len() != 3 {
		t.Errorf("expected 3 exemplars, got %d", store.Len())
	}
	if store.Version() != "test-1" {
		t.Errorf("expected version test-1, got %s", store.Version())
	}

	matches, err := store.Search([]float32{0, 1, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Category != "library_equipment_checkout" {
		t.Errorf("expected library_equipment_checkout first, got %s", matches[0].Category)
	}
	if !matches[0].ActionBased {
		t.Error("expected action_based to round-trip")
	}
}

func TestSQLiteStoreReloadReplacesWholesale(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "exemplars.db")
	store, err := OpenSQLiteStore(dbPath, 3)
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	engine := testEngine()
	if err := store.LoadCatalog(ctx, testCatalog(), engine); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}

	replacement := &Catalog{
		Version: "test-2",
		Exemplars: []Exemplar{
			{Text: "when does the library close", Category: "library_hours_rooms", Priority: 2, InScope: true},
		},
	}
	if err := store.LoadCatalog(ctx, replacement, engine); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if store.Len() != 1 {
		t.Errorf("reload should replace the whole set, got %d exemplars", store.Len())
	}
	if store.Version() != "test-2" {
		t.Errorf("expected version test-2, got %s", store.Version())
	}
}

func TestSQLiteStoreRejectsBadInput(t *testing.T) {
	if _, err := OpenSQLiteStore("", 3); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "x.db"), 0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestBlobRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.0}
	blob := encodeFloat32SliceToBlob(vec)
	got := decodeFloat32SliceFromBlob(blob)
	if len(got) != len(vec) {
		t.Fatalf("length mismatch: %d != %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("element %d: %f != %f", i, got[i], vec[i])
		}
	}

	if decodeFloat32SliceFromBlob([]byte{1, 2, 3}) != nil {
		t.Error("expected nil for misaligned blob")
	}
	if decodeFloat32SliceFromBlob(nil) != nil {
		t.Error("expected nil for empty blob")
	}
}
