// Package store implements the engine's persistence capability set on
// SQLite: symbol lookup, regex grep over indexed files, vector-similarity
// search, bounded file reads, directory enumeration, read-only git
// operations, session state, and the append-only event log.
//
// The rest of the engine depends only on the capability interfaces
// (tools.Storage, the runtime's persistence adapter); this package is the
// reference implementation behind them.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	_ "modernc.org/sqlite"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
    path       TEXT PRIMARY KEY,
    content    TEXT NOT NULL,
    language   TEXT NOT NULL DEFAULT '',
    indexed_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS code_index (
    id         INTEGER PRIMARY KEY,
    path       TEXT NOT NULL,
    symbol     TEXT NOT NULL,
    kind       TEXT NOT NULL,
    line_start INTEGER NOT NULL,
    line_end   INTEGER NOT NULL,
    language   TEXT NOT NULL DEFAULT '',
    embedding  BLOB
);
CREATE INDEX IF NOT EXISTS idx_code_index_symbol ON code_index(symbol);
CREATE INDEX IF NOT EXISTS idx_code_index_path ON code_index(path);

CREATE TABLE IF NOT EXISTS code_imports (
    path     TEXT NOT NULL,
    imported TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_code_imports_path ON code_imports(path);
CREATE INDEX IF NOT EXISTS idx_code_imports_imported ON code_imports(imported);

CREATE TABLE IF NOT EXISTS code_understanding (
    fingerprint TEXT PRIMARY KEY,
    explanation TEXT NOT NULL,
    created_at  TIMESTAMP NOT NULL,
    ttl_seconds INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS code_analysis_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    timestamp  TIMESTAMP NOT NULL,
    event_type TEXT NOT NULL,
    payload    BLOB
);
CREATE INDEX IF NOT EXISTS idx_events_request ON code_analysis_events(request_id);

CREATE TABLE IF NOT EXISTS session_state (
    session_id TEXT PRIMARY KEY,
    state      BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// Store is the SQLite-backed persistence adapter.
type Store struct {
	db       *sql.DB
	repoRoot string
	logger   commbus.Logger
	embedder commbus.EmbeddingProvider

	// understanding is the in-process LRU in front of code_understanding:
	// repeated fingerprint lookups within a process skip the database.
	understanding *lru.LRU[string, string]
}

// Options configure a Store.
type Options struct {
	// RepoRoot is the repository the git primitives operate on.
	RepoRoot string
	// Embedder populates and queries the embedding column; nil disables
	// the semantic strategies (they report clean misses).
	Embedder commbus.EmbeddingProvider
	// UnderstandingCacheSize bounds the in-process explanation cache.
	UnderstandingCacheSize int
	// UnderstandingTTL expires cached explanations.
	UnderstandingTTL time.Duration
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts Options, logger commbus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent request load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	cacheSize := opts.UnderstandingCacheSize
	if cacheSize <= 0 {
		cacheSize = 512
	}
	ttl := opts.UnderstandingTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Store{
		db:            db,
		repoRoot:      opts.RepoRoot,
		logger:        logger,
		embedder:      opts.Embedder,
		understanding: lru.NewLRU[string, string](cacheSize, nil, ttl),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for tests and migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// =============================================================================
// SESSION STATE
// =============================================================================

// SaveSession persists serialized working memory for a session.
func (s *Store) SaveSession(ctx context.Context, sessionID string, state []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_state (session_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		sessionID, state, time.Now().UTC())
	return err
}

// LoadSession loads serialized working memory for a session. A missing
// session returns (nil, nil): an empty session is not an error.
func (s *Store) LoadSession(ctx context.Context, sessionID string) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM session_state WHERE session_id = ?`, sessionID).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return state, err
}

// SaveState implements the runtime's persistence adapter.
func (s *Store) SaveState(ctx context.Context, sessionID string, state []byte) error {
	return s.SaveSession(ctx, sessionID, state)
}

// LoadState implements the runtime's persistence adapter.
func (s *Store) LoadState(ctx context.Context, sessionID string) ([]byte, error) {
	return s.LoadSession(ctx, sessionID)
}

// =============================================================================
// EVENT LOG
// =============================================================================

// AppendEvent appends one event to the append-only analysis log.
func (s *Store) AppendEvent(ctx context.Context, requestID, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO code_analysis_events (request_id, timestamp, event_type, payload) VALUES (?, ?, ?, ?)`,
		requestID, time.Now().UTC(), eventType, payload)
	return err
}

// EventsForRequest returns the event types logged for a request, in order.
func (s *Store) EventsForRequest(ctx context.Context, requestID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type FROM code_analysis_events WHERE request_id = ? ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// =============================================================================
// UNDERSTANDING CACHE
// =============================================================================

// GetUnderstanding looks up a cached explanation by content fingerprint,
// consulting the in-process LRU before the table.
func (s *Store) GetUnderstanding(ctx context.Context, fingerprint string) (string, bool, error) {
	if explanation, ok := s.understanding.Get(fingerprint); ok {
		return explanation, true, nil
	}

	var explanation string
	var createdAt time.Time
	var ttlSeconds int
	err := s.db.QueryRowContext(ctx,
		`SELECT explanation, created_at, ttl_seconds FROM code_understanding WHERE fingerprint = ?`,
		fingerprint).Scan(&explanation, &createdAt, &ttlSeconds)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if ttlSeconds > 0 && time.Since(createdAt) > time.Duration(ttlSeconds)*time.Second {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM code_understanding WHERE fingerprint = ?`, fingerprint)
		return "", false, nil
	}

	s.understanding.Add(fingerprint, explanation)
	return explanation, true, nil
}

// PutUnderstanding stores an explanation under its content fingerprint.
func (s *Store) PutUnderstanding(ctx context.Context, fingerprint, explanation string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO code_understanding (fingerprint, explanation, created_at, ttl_seconds) VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET explanation = excluded.explanation, created_at = excluded.created_at, ttl_seconds = excluded.ttl_seconds`,
		fingerprint, explanation, time.Now().UTC(), int(ttl.Seconds()))
	if err != nil {
		return err
	}
	s.understanding.Add(fingerprint, explanation)
	return nil
}

// InvalidateUnderstanding drops a cached explanation, or all of them when
// fingerprint is empty.
func (s *Store) InvalidateUnderstanding(ctx context.Context, fingerprint string) error {
	if fingerprint == "" {
		s.understanding.Purge()
		_, err := s.db.ExecContext(ctx, `DELETE FROM code_understanding`)
		return err
	}
	s.understanding.Remove(fingerprint)
	_, err := s.db.ExecContext(ctx, `DELETE FROM code_understanding WHERE fingerprint = ?`, fingerprint)
	return err
}
