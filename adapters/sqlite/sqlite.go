// Package sqlite provides SQLite implementations of the data source ports
// for running without the remote pricing and auth services.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/artpar/meterbill/ports"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB is a SQLite handle with the meterbill schema.
type DB struct {
	*sql.DB
}

// Open opens the database at path. File databases run in WAL mode with a
// busy timeout; the in-memory database is pinned to one connection so every
// query sees the same data.
func Open(p string) (*DB, error) {
	params := url.Values{}
	params.Set("_foreign_keys", "on")

	dsn := "file::memory:"
	if p != MemoryPath {
		params.Set("_journal_mode", "WAL")
		params.Set("_busy_timeout", "5000")
		params.Set("_synchronous", "NORMAL")
		dsn = p
	}

	sqlDB, err := sql.Open("sqlite3", dsn+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if p == MemoryPath {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open database %s: %w", p, err)
	}
	return &DB{DB: sqlDB}, nil
}

type migration struct {
	version string
	script  string
}

func loadMigrations() ([]migration, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		script, err := migrations.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, migration{
			version: strings.TrimSuffix(path.Base(name), ".sql"),
			script:  string(script),
		})
	}
	return out, nil
}

// Migrate brings the schema up to date. Each pending migration runs in its
// own transaction together with its bookkeeping row, so it is applied at
// most once.
func (db *DB) Migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	pending, err := loadMigrations()
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := db.migrate(m); err != nil {
			return fmt.Errorf("migration %s: %w", m.version, err)
		}
	}
	return nil
}

func (db *DB) migrate(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var one int
	switch err := tx.QueryRow(`SELECT 1 FROM schema_migrations WHERE version = ?`, m.version).Scan(&one); {
	case err == nil:
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if _, err := tx.Exec(m.script); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the newest applied migration, or "" on a fresh
// database.
func (db *DB) SchemaVersion() (string, error) {
	var v sql.NullString
	err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return "", fmt.Errorf("schema version: %w", err)
	}
	return v.String, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.DB.Close()
}

// notFound maps a missing row to ports.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ports.ErrNotFound
	}
	return err
}
