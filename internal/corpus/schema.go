package corpus

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const SchemaSQL = `
CREATE TABLE IF NOT EXISTS fingerprints (
    id INTEGER PRIMARY KEY,
    scope_type TEXT NOT NULL,
    course_id INTEGER NOT NULL,
    assignment_id INTEGER NOT NULL,
    identity TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL,
    shingle_size INTEGER NOT NULL,
    shingle_count INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE(scope_type, course_id, assignment_id, identity)
);

CREATE TABLE IF NOT EXISTS chunk_signatures (
    fingerprint_id INTEGER NOT NULL,
    signature TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunk_signature ON chunk_signatures(signature);
CREATE INDEX IF NOT EXISTS idx_chunk_fingerprint ON chunk_signatures(fingerprint_id);

CREATE TABLE IF NOT EXISTS verdicts (
    submission_id INTEGER PRIMARY KEY,
    plagiarism_score REAL NOT NULL,
    ai_probability REAL,
    status TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    matches_json TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL
);
`

func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(SchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
