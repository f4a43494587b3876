package exemplar

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"stacksbot/internal/embedding"
	"stacksbot/internal/logging"
)

// SQLiteStore persists an embedded exemplar catalog in SQLite, with a
// sqlite-vec virtual table for ANN search when the extension is available
// and brute-force cosine search as the fallback. It lets large catalogs
// skip re-embedding on every startup.
type SQLiteStore struct {
	db         *sql.DB
	dbPath     string
	dimensions int
	version    string
	mu         sync.RWMutex
}

// OpenSQLiteStore creates or opens the exemplar database.
func OpenSQLiteStore(dbPath string, dimensions int) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenSQLiteStore")
	defer timer.Stop()

	if dbPath == "" {
		return nil, fmt.Errorf("database path required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions required")
	}

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	store := &SQLiteStore{
		db:         db,
		dbPath:     dbPath,
		dimensions: dimensions,
	}
	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("SQLite exemplar store opened at %s", dbPath)
	return store, nil
}

func (s *SQLiteStore) initializeSchema() error {
	mainTable := `
	CREATE TABLE IF NOT EXISTS exemplars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL,
		action_based INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 1,
		in_scope INTEGER NOT NULL DEFAULT 1,
		catalog_version TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_exemplars_category ON exemplars(category);
	CREATE INDEX IF NOT EXISTS idx_exemplars_version ON exemplars(catalog_version);
	`
	if _, err := s.db.Exec(mainTable); err != nil {
		return fmt.Errorf("failed to create exemplars table: %w", err)
	}

	vecTable := fmt.Sprintf(`
	CREATE VIRTUAL TABLE IF NOT EXISTS vec_exemplars USING vec0(
		embedding float[%d],
		text TEXT
	);
	`, s.dimensions)
	if _, err := s.db.Exec(vecTable); err != nil {
		// Non-fatal: vec extension might not be compiled in; brute force covers it.
		logging.Get(logging.CategoryStore).Warn("Failed to create vec_exemplars table (sqlite-vec may not be available): %v", err)
	}
	return nil
}

// LoadCatalog replaces the stored exemplar set with the given catalog in a
// single transaction, so a reader connected mid-load never observes a
// partial set.
func (s *SQLiteStore) LoadCatalog(ctx context.Context, cat *Catalog, engine embedding.Engine) error {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteStore.LoadCatalog")
	defer timer.Stop()

	if cat == nil || len(cat.Exemplars) == 0 {
		return fmt.Errorf("catalog is empty")
	}
	if engine == nil {
		return fmt.Errorf("embedding engine required")
	}

	texts := make([]string, len(cat.Exemplars))
	for i, ex := range cat.Exemplars {
		texts[i] = ex.Text
	}

	var embeds [][]float32
	var err error
	if taskAware, ok := engine.(embedding.TaskAwareEngine); ok {
		embeds, err = taskAware.EmbedBatchWithTask(ctx, texts, embedding.TaskDocument)
	} else {
		embeds, err = engine.EmbedBatch(ctx, texts)
	}
	if err != nil {
		return fmt.Errorf("failed to embed catalog: %w", err)
	}
	if len(embeds) != len(texts) {
		return fmt.Errorf("embedding count mismatch: got %d for %d exemplars", len(embeds), len(texts))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM exemplars"); err != nil {
		return fmt.Errorf("failed to clear exemplars: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM vec_exemplars"); err != nil {
		logging.Get(logging.CategoryStore).Warn("Failed to clear vec_exemplars: %v", err)
	}

	for i, ex := range cat.Exemplars {
		blob := encodeFloat32SliceToBlob(embeds[i])
		if _, err := tx.Exec(`
			INSERT INTO exemplars (text, category, action_based, priority, in_scope, catalog_version, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, ex.Text, ex.Category, boolToInt(ex.ActionBased), ex.Priority, boolToInt(ex.InScope), cat.Version, blob); err != nil {
			return fmt.Errorf("failed to insert exemplar %q: %w", ex.Text, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO vec_exemplars (embedding, text) VALUES (?, ?)
		`, blob, ex.Text); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to insert into vec_exemplars (ANN may be unavailable): %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog load: %w", err)
	}

	s.version = cat.Version
	logging.Store("SQLite exemplar store loaded: version=%s entries=%d", cat.Version, len(cat.Exemplars))
	return nil
}

// Search performs ANN search against the stored exemplars, falling back to
// brute-force cosine search when sqlite-vec is unavailable.
func (s *SQLiteStore) Search(queryEmbed []float32, topK int) ([]Match, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteStore.Search")
	defer timer.Stop()

	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrStoreUnavailable
	}

	matches, err := s.searchVec(encodeFloat32SliceToBlob(queryEmbed), topK)
	if err != nil {
		logging.StoreDebug("Falling back to brute-force search: %v", err)
		return s.searchBruteForce(queryEmbed, topK)
	}
	return matches, nil
}

func (s *SQLiteStore) searchVec(queryBlob []byte, topK int) ([]Match, error) {
	query := `
		SELECT
			ex.text,
			ex.category,
			ex.action_based,
			ex.priority,
			ex.in_scope,
			vec_distance_cosine(ve.embedding, ?) AS distance
		FROM vec_exemplars ve
		JOIN exemplars ex ON ve.text = ex.text
		ORDER BY distance ASC
		LIMIT ?
	`
	rows, err := s.db.Query(query, queryBlob, topK)
	if err != nil {
		return nil, fmt.Errorf("vec search failed: %w", err)
	}
	defer rows.Close()

	var matches []Match
	rank := 1
	for rows.Next() {
		var m Match
		var actionBased, inScope int
		var distance float64
		if err := rows.Scan(&m.Text, &m.Category, &actionBased, &m.Priority, &inScope, &distance); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to scan exemplar row: %v", err)
			continue
		}
		m.ActionBased = actionBased != 0
		m.InScope = inScope != 0
		m.Similarity = 1.0 - distance
		m.Rank = rank
		rank++
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *SQLiteStore) searchBruteForce(queryEmbed []float32, topK int) ([]Match, error) {
	rows, err := s.db.Query(`
		SELECT text, category, action_based, priority, in_scope, embedding
		FROM exemplars
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query exemplars: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var actionBased, inScope int
		var blob []byte
		if err := rows.Scan(&m.Text, &m.Category, &actionBased, &m.Priority, &inScope, &blob); err != nil {
			continue
		}
		vec := decodeFloat32SliceFromBlob(blob)
		if len(vec) == 0 {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryEmbed, vec)
		if err != nil {
			continue
		}
		m.ActionBased = actionBased != 0
		m.InScope = inScope != 0
		m.Similarity = sim
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exemplars: %w", err)
	}

	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len returns the number of stored exemplars.
func (s *SQLiteStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM exemplars").Scan(&n); err != nil {
		return 0
	}
	return n
}

// Version identifies the catalog snapshot loaded into this store.
func (s *SQLiteStore) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.version != "" {
		return s.version
	}
	var v string
	_ = s.db.QueryRow("SELECT catalog_version FROM exemplars LIMIT 1").Scan(&v)
	return v
}

// Stats returns summary statistics for the catalog commands.
func (s *SQLiteStore) Stats() (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]interface{})

	var total int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM exemplars").Scan(&total); err == nil {
		stats["total_exemplars"] = total
	}

	catRows, err := s.db.Query("SELECT category, COUNT(*) FROM exemplars GROUP BY category ORDER BY COUNT(*) DESC")
	if err == nil {
		byCategory := make(map[string]int64)
		for catRows.Next() {
			var cat string
			var count int64
			if err := catRows.Scan(&cat, &count); err == nil {
				byCategory[cat] = count
			}
		}
		catRows.Close()
		stats["by_category"] = byCategory
	}

	stats["db_path"] = s.dbPath
	stats["dimensions"] = s.dimensions
	stats["catalog_version"] = s.version
	return stats, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return err
		}
		s.db = nil
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeFloat32SliceToBlob encodes a float32 slice as a little-endian blob,
// the layout sqlite-vec expects.
func encodeFloat32SliceToBlob(vec []float32) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

// decodeFloat32SliceFromBlob decodes a binary blob back to a float32 slice.
func decodeFloat32SliceFromBlob(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	reader := bytes.NewReader(blob)
	if err := binary.Read(reader, binary.LittleEndian, &vec); err != nil {
		return nil
	}
	return vec
}
