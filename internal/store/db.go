// Package store is the database-backed Library Index: media files, parses,
// cached catalog subjects/episodes, match candidates, confirmed matches, and
// the durable job queue all live behind this package's transactional API.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps a sqlite connection pool and exposes the Library Index and
// Job Queue Runtime operations as methods, following the original daemon's
// single-Store-struct-per-schema shape.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dsn and runs
// migrations. dsn is expected in the "file:<path>" form; the WAL/busy-timeout
// pragmas are appended the same way library store does it.
func Open(dsn string) (*Store, error) {
	full := dsn
	if !hasQuery(dsn) {
		full = fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL&_pragma=foreign_keys(ON)", dsn)
	}

	db, err := sql.Open("sqlite", full)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer, WAL handles readers
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func hasQuery(dsn string) bool {
	for _, c := range dsn {
		if c == '?' {
			return true
		}
	}
	return false
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for packages that need direct access
// (e.g. tests constructing fixtures).
func (s *Store) DB() *sql.DB { return s.db }

const schema = `
CREATE TABLE IF NOT EXISTS media_files (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL UNIQUE,
	filename TEXT NOT NULL,
	size INTEGER NOT NULL,
	modified_at INTEGER NOT NULL,
	last_seen_token TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS media_parses (
	media_id TEXT PRIMARY KEY REFERENCES media_files(id) ON DELETE CASCADE,
	parse_ok INTEGER NOT NULL,
	anime_title TEXT,
	episode_number TEXT,
	episode_number_alt TEXT,
	episode_title TEXT,
	anime_season TEXT,
	anime_year TEXT,
	release_group TEXT,
	video_resolution TEXT,
	source TEXT,
	audio_term TEXT,
	video_term TEXT,
	subtitles TEXT,
	language TEXT,
	raw_elements TEXT NOT NULL,
	parsed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog_subjects (
	id INTEGER PRIMARY KEY,
	subject_type INTEGER NOT NULL,
	name TEXT NOT NULL,
	name_cn TEXT,
	summary TEXT,
	air_date TEXT,
	total_episodes INTEGER,
	images TEXT,
	payload TEXT,
	synced_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog_episodes (
	id INTEGER PRIMARY KEY,
	subject_id INTEGER NOT NULL REFERENCES catalog_subjects(id) ON DELETE CASCADE,
	episode_type INTEGER NOT NULL,
	sort REAL NOT NULL,
	ep REAL,
	name TEXT,
	name_cn TEXT,
	air_date TEXT,
	payload TEXT
);
CREATE INDEX IF NOT EXISTS idx_catalog_episodes_subject ON catalog_episodes(subject_id);

CREATE TABLE IF NOT EXISTS match_candidates (
	media_id TEXT NOT NULL REFERENCES media_files(id) ON DELETE CASCADE,
	subject_id INTEGER NOT NULL,
	confidence REAL NOT NULL,
	reason TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (media_id, subject_id)
);

CREATE TABLE IF NOT EXISTS media_matches (
	media_id TEXT PRIMARY KEY REFERENCES media_files(id) ON DELETE CASCADE,
	subject_id INTEGER NOT NULL,
	episode_id INTEGER,
	method TEXT NOT NULL,
	confidence REAL,
	reason TEXT,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_type TEXT NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	scheduled_at INTEGER NOT NULL,
	locked_at INTEGER,
	locked_by TEXT,
	dedup_key TEXT,
	result TEXT,
	last_error TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_scheduled ON jobs(status, scheduled_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_dedup_active ON jobs(job_type, dedup_key)
	WHERE dedup_key IS NOT NULL AND status IN ('queued', 'running', 'retry');

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role_level INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// BeginTx starts a transaction, matching pattern of exposing
// transaction control to callers that need multi-step atomicity (scan_and_index).
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
