package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // Import for registration side-effect.
)

// Store is the derived SQLite cache of a workspace. The filesystem owns
// truth; every row here is rebuildable from it.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the index database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	// One writer at a time; the workspace lock serializes mutators anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	project_id      TEXT NOT NULL,
	run_id          TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	status          TEXT NOT NULL,
	provider        TEXT NOT NULL,
	agent_id        TEXT,
	context_pack_id TEXT,
	events_relpath  TEXT NOT NULL,
	PRIMARY KEY (project_id, run_id)
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);

CREATE TABLE IF NOT EXISTS events (
	project_id      TEXT NOT NULL,
	run_id          TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	type            TEXT NOT NULL,
	ts_wallclock    TEXT,
	ts_monotonic_ms INTEGER,
	actor           TEXT,
	session_ref     TEXT,
	visibility      TEXT,
	payload_json    TEXT NOT NULL,
	raw_json        TEXT NOT NULL,
	PRIMARY KEY (project_id, run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_ts_wallclock ON events(ts_wallclock DESC);

CREATE TABLE IF NOT EXISTS event_parse_errors (
	project_id TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	error      TEXT NOT NULL,
	raw_line   TEXT NOT NULL,
	PRIMARY KEY (project_id, run_id, seq)
);

CREATE TABLE IF NOT EXISTS artifacts (
	project_id      TEXT NOT NULL,
	artifact_id     TEXT NOT NULL,
	type            TEXT NOT NULL,
	title           TEXT,
	visibility      TEXT,
	produced_by     TEXT,
	run_id          TEXT,
	context_pack_id TEXT,
	created_at      TEXT,
	relpath         TEXT NOT NULL,
	PRIMARY KEY (project_id, artifact_id)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_type ON artifacts(type);
CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_artifacts_run_id ON artifacts(run_id);

CREATE TABLE IF NOT EXISTS reviews (
	review_id           TEXT PRIMARY KEY,
	created_at          TEXT NOT NULL,
	decision            TEXT NOT NULL,
	actor_id            TEXT NOT NULL,
	actor_role          TEXT NOT NULL,
	subject_kind        TEXT NOT NULL,
	subject_artifact_id TEXT NOT NULL,
	project_id          TEXT NOT NULL,
	notes               TEXT
);
CREATE INDEX IF NOT EXISTS idx_reviews_created_at ON reviews(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_reviews_project_id ON reviews(project_id);

CREATE TABLE IF NOT EXISTS help_requests (
	help_request_id TEXT PRIMARY KEY,
	created_at      TEXT NOT NULL,
	title           TEXT NOT NULL,
	visibility      TEXT NOT NULL,
	requester       TEXT NOT NULL,
	target_manager  TEXT NOT NULL,
	project_id      TEXT,
	share_pack_id   TEXT
);
CREATE INDEX IF NOT EXISTS idx_help_requests_created_at ON help_requests(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_help_requests_target_manager ON help_requests(target_manager);
`

func (s *Store) createSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create index schema: %w", err)
	}
	return nil
}

// dropAll removes every row; used by Rebuild inside its transaction.
func dropAll(tx *sql.Tx) error {
	for _, table := range []string{"runs", "events", "event_parse_errors", "artifacts", "reviews", "help_requests"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
