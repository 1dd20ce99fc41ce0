// Package runstore persists two pieces of cross-run state in a local
// SQLite database (pure-Go driver, no cgo): a content-addressed
// embedding cache keyed by (text hash, model), read and written through
// GetEmbedding/PutEmbedding, and a run manifest table recording one row
// per completed engine run for later audit. Nothing else in this
// repository calls GetEmbedding or PutEmbedding; the embedding gateways
// do not consult the cache. Grounded on internal/storage/sqlite.go's
// sql.Open("sqlite", dsn)+pragma+schema-init bootstrap shape and
// internal/knowledge/embedding_cache.go's content-keyed
// INSERT-OR-REPLACE/SELECT cache shape, generalized from an
// entity-ID key to a (text hash, model) key since this cache serves
// arbitrary embedding calls rather than named KG entities.
package runstore

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite-backed embedding cache and run manifest table.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path, configuring it
// with the same pragmas as the teacher's SQLiteStorage (WAL for
// concurrent reads, NORMAL synchronous as an acceptable durability/
// throughput tradeoff for a local cache), and initializes the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("runstore: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstore: pinging %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("runstore: setting pragma %q: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS embedding_cache (
			text_hash TEXT NOT NULL,
			model     TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (text_hash, model)
		)`,
		`CREATE TABLE IF NOT EXISTS run_manifest (
			run_id      TEXT PRIMARY KEY,
			user_idea   TEXT NOT NULL,
			success     INTEGER NOT NULL,
			reason      TEXT,
			iterations  INTEGER NOT NULL,
			pivots      INTEGER NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("runstore: initializing schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// HashText returns the cache key for a piece of embedding input text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// GetEmbedding returns a cached embedding for (textHash, model), or
// nil if absent.
func (s *Store) GetEmbedding(textHash, model string) ([]float32, error) {
	var embeddingJSON string
	err := s.db.QueryRow(
		`SELECT embedding FROM embedding_cache WHERE text_hash = ? AND model = ?`,
		textHash, model,
	).Scan(&embeddingJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runstore: querying embedding cache: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
		return nil, fmt.Errorf("runstore: unmarshaling cached embedding: %w", err)
	}
	return vec, nil
}

// PutEmbedding caches an embedding under (textHash, model).
func (s *Store) PutEmbedding(textHash, model string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("runstore: marshaling embedding: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO embedding_cache (text_hash, model, embedding, created_at) VALUES (?, ?, ?, ?)`,
		textHash, model, data, time.Now().Unix(),
	)
	return err
}

// RunManifestEntry is one row of the run_manifest table.
type RunManifestEntry struct {
	RunID      string
	UserIdea   string
	Success    bool
	Reason     string
	Iterations int
	Pivots     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// RecordRun inserts or replaces a run_manifest row for one completed
// engine run.
func (s *Store) RecordRun(e RunManifestEntry) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO run_manifest
			(run_id, user_idea, success, reason, iterations, pivots, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.UserIdea, boolToInt(e.Success), e.Reason, e.Iterations, e.Pivots,
		e.StartedAt.Unix(), e.FinishedAt.Unix(),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
