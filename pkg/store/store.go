// Package store implements the local SQLite store that accumulates scraped
// records incrementally. It is the durable boundary between the scrape and
// import paths: extractors write to it, the reconciler only reads entity
// rows and writes back destination-side identifiers into the mapping table.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	errs "immichporter/pkg/errors"
	"immichporter/pkg/logger"
)

// Store wraps the SQLite database holding all scraped entities, checkpoints
// and the source-id to destination-id mapping.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

// Open opens (or creates) the store at the given path, applies the schema
// and any pending additive migrations.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	// WAL allows reporting queries to read while an extraction run writes.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// A single writer at a time; reads go through the same pool.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: log}

	if err := s.checkIntegrity(); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	log.DebugWithFields("store opened", map[string]interface{}{"path": path})
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) checkIntegrity() error {
	var result string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return errs.Newf(errs.ErrorTypeStoreCorrupt, "integrity check failed: %v", err)
	}
	if result != "ok" {
		return errs.Newf(errs.ErrorTypeStoreCorrupt, "integrity check reported: %s", result)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id        INTEGER PRIMARY KEY,
	name      TEXT NOT NULL UNIQUE,
	email     TEXT,
	role      TEXT NOT NULL DEFAULT 'shared',
	include   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS albums (
	id              INTEGER PRIMARY KEY,
	source_id       TEXT NOT NULL UNIQUE,
	title           TEXT NOT NULL,
	shared          INTEGER NOT NULL DEFAULT 0,
	owner_id        INTEGER REFERENCES users(id),
	items           INTEGER NOT NULL DEFAULT 0,
	processed_items INTEGER NOT NULL DEFAULT 0,
	source_url      TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS assets (
	id          INTEGER PRIMARY KEY,
	source_id   TEXT NOT NULL UNIQUE,
	filename    TEXT NOT NULL,
	media_type  TEXT NOT NULL DEFAULT 'image',
	captured_at TIMESTAMP,
	owner_id    INTEGER REFERENCES users(id),
	saved       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS album_assets (
	album_id INTEGER NOT NULL REFERENCES albums(id),
	asset_id INTEGER NOT NULL REFERENCES assets(id),
	position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (album_id, asset_id)
);

CREATE TABLE IF NOT EXISTS album_users (
	album_id INTEGER NOT NULL REFERENCES albums(id),
	user_id  INTEGER NOT NULL REFERENCES users(id),
	PRIMARY KEY (album_id, user_id)
);

CREATE TABLE IF NOT EXISTS tags (
	id    INTEGER PRIMARY KEY,
	label TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS asset_tags (
	asset_id INTEGER NOT NULL REFERENCES assets(id),
	tag_id   INTEGER NOT NULL REFERENCES tags(id),
	PRIMARY KEY (asset_id, tag_id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	unit         TEXT PRIMARY KEY,
	completed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS id_mappings (
	entity         TEXT NOT NULL,
	source_key     TEXT NOT NULL,
	destination_id TEXT NOT NULL,
	PRIMARY KEY (entity, source_key)
);

CREATE TABLE IF NOT EXISTS scrape_errors (
	id         INTEGER PRIMARY KEY,
	album_id   INTEGER REFERENCES albums(id),
	message    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Additive migrations for stores created by earlier versions.
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"users", "email", "ALTER TABLE users ADD COLUMN email TEXT"},
		{"users", "include", "ALTER TABLE users ADD COLUMN include INTEGER NOT NULL DEFAULT 1"},
		{"assets", "saved", "ALTER TABLE assets ADD COLUMN saved INTEGER NOT NULL DEFAULT 0"},
		{"album_assets", "position", "ALTER TABLE album_assets ADD COLUMN position INTEGER NOT NULL DEFAULT 0"},
	}

	for _, m := range migrations {
		hasColumn, err := s.hasColumn(m.table, m.column)
		if err != nil {
			return err
		}
		if !hasColumn {
			if _, err := s.db.Exec(m.ddl); err != nil {
				return fmt.Errorf("migration %s.%s: %w", m.table, m.column, err)
			}
			s.logger.InfoWithFields("applied migration", map[string]interface{}{
				"table":  m.table,
				"column": m.column,
			})
		}
	}

	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// RecordError logs a structural extraction failure against an album. These
// are surfaced as aggregated warnings in the final run report.
func (s *Store) RecordError(albumID int64, message string) error {
	var album interface{}
	if albumID > 0 {
		album = albumID
	}
	_, err := s.db.Exec("INSERT INTO scrape_errors (album_id, message) VALUES (?, ?)", album, message)
	return err
}

// ScrapeError is a recorded extraction failure.
type ScrapeError struct {
	ID        int64
	AlbumID   int64
	Message   string
	CreatedAt time.Time
}

// Errors returns all recorded extraction failures, oldest first.
func (s *Store) Errors() ([]ScrapeError, error) {
	rows, err := s.db.Query("SELECT id, COALESCE(album_id, 0), message, created_at FROM scrape_errors ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScrapeError
	for rows.Next() {
		var e ScrapeError
		if err := rows.Scan(&e.ID, &e.AlbumID, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
