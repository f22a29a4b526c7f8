package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/clipvault/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Vault layout under the base directory.
const (
	FileName   = "clipvault.db"
	ExportsDir = "exports"
	AssetsDir  = "assets"
	LogsDir    = "logs"
)

// Init initializes the SQLite database at baseDir/clipvault.db and the vault
// subdirectories next to it.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.clipvault.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	for _, sub := range []string{ExportsDir, AssetsDir, LogsDir} {
		dir := filepath.Join(baseDir, sub)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
		_ = os.Chmod(dir, 0700)
	}

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// ftsBody is the indexed body of a snippet: its text, derived fields and
// the OCR text of its assets.
const ftsBody = `new.content_text || ' ' || new.summary || ' ' || new.keywords || ' ' ||
	coalesce((SELECT group_concat(ocr_text, ' ') FROM assets WHERE snippet_id = new.id), '')`

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS notes (
		  id          TEXT PRIMARY KEY,
		  note_key    TEXT NOT NULL UNIQUE,
		  title       TEXT NOT NULL,
		  source_url  TEXT NOT NULL DEFAULT '',
		  source_app  TEXT NOT NULL DEFAULT '',
		  created_at  INTEGER NOT NULL,
		  updated_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at DESC);

		CREATE TABLE IF NOT EXISTS snippets (
		  id               TEXT PRIMARY KEY,
		  note_id          TEXT NOT NULL REFERENCES notes(id),
		  content_text     TEXT NOT NULL DEFAULT '',
		  content_html     TEXT NOT NULL DEFAULT '',
		  content_markdown TEXT NOT NULL DEFAULT '',
		  source_app       TEXT NOT NULL DEFAULT '',
		  source_url       TEXT NOT NULL DEFAULT '',
		  source_title     TEXT NOT NULL DEFAULT '',
		  source_type      TEXT NOT NULL,
		  summary          TEXT NOT NULL DEFAULT '',
		  keywords         TEXT NOT NULL DEFAULT '',
		  topics           TEXT NOT NULL DEFAULT '',
		  citation_md      TEXT NOT NULL DEFAULT '',
		  ai_status        TEXT NOT NULL DEFAULT 'pending',
		  tags_json        TEXT,
		  created_at       INTEGER NOT NULL,
		  updated_at       INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snippets_created ON snippets(created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_snippets_note ON snippets(note_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_snippets_status ON snippets(ai_status);

		CREATE TABLE IF NOT EXISTS assets (
		  id           TEXT PRIMARY KEY,
		  snippet_id   TEXT NOT NULL REFERENCES snippets(id) ON DELETE CASCADE,
		  file_path    TEXT NOT NULL,
		  content_hash TEXT NOT NULL,
		  width        INTEGER NOT NULL DEFAULT 0,
		  height       INTEGER NOT NULL DEFAULT 0,
		  ocr_text     TEXT NOT NULL DEFAULT '',
		  created_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_assets_snippet ON assets(snippet_id);

		CREATE TABLE IF NOT EXISTS embeddings (
		  snippet_id TEXT PRIMARY KEY REFERENCES snippets(id) ON DELETE CASCADE,
		  dim        INTEGER NOT NULL,
		  vector     BLOB NOT NULL,
		  updated_at INTEGER NOT NULL
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS snippets_fts USING fts5(
		  snippet_id UNINDEXED,
		  title,
		  body,
		  tokenize = 'unicode61'
		);

		CREATE TRIGGER IF NOT EXISTS snippets_fts_insert AFTER INSERT ON snippets BEGIN
		  INSERT INTO snippets_fts(snippet_id, title, body)
		  VALUES (new.id, new.source_title || ' ' || new.source_app, ` + ftsBody + `);
		END;

		CREATE TRIGGER IF NOT EXISTS snippets_fts_update AFTER UPDATE ON snippets BEGIN
		  DELETE FROM snippets_fts WHERE snippet_id = old.id;
		  INSERT INTO snippets_fts(snippet_id, title, body)
		  VALUES (new.id, new.source_title || ' ' || new.source_app, ` + ftsBody + `);
		END;

		CREATE TRIGGER IF NOT EXISTS snippets_fts_delete AFTER DELETE ON snippets BEGIN
		  DELETE FROM snippets_fts WHERE snippet_id = old.id;
		END;

		CREATE TRIGGER IF NOT EXISTS assets_fts_ocr AFTER UPDATE OF ocr_text ON assets BEGIN
		  UPDATE snippets SET updated_at = updated_at WHERE id = new.snippet_id;
		END;
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
