package database

import (
	"database/sql"
	"fmt"

	"sfo-go/internal/database/migrations"
	"sfo-go/internal/sfo"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var _ sfo.HashStore = (*SQLiteHashStore)(nil)

// SQLiteHashStore implements sfo.HashStore using SQLite.
type SQLiteHashStore struct {
	db     *sql.DB
	path   string
	schema migrations.Status
}

// NewSQLiteHashStore opens the database at path, or ":memory:" for an
// in-memory database, and migrates it to the latest schema.
func NewSQLiteHashStore(path string) (*SQLiteHashStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	st, err := migrations.Up(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return &SQLiteHashStore{db: db, path: path, schema: st}, nil
}

// Schema returns the schema status recorded when the store was opened.
func (s *SQLiteHashStore) Schema() migrations.Status {
	return s.schema
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: is its own database, and the workers write
	// from several goroutines, so a single connection serializes both cases.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

func (s *SQLiteHashStore) LoadHashRecords() ([]*sfo.HashRecord, error) {
	rows, err := s.db.Query(`SELECT path, size, partial_hash, full_hash FROM hash_records ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("querying hash records: %w", err)
	}
	defer rows.Close()

	var out []*sfo.HashRecord
	for rows.Next() {
		var r sfo.HashRecord
		if err := rows.Scan(&r.Path, &r.Size, &r.PartialHash, &r.FullHash); err != nil {
			return nil, fmt.Errorf("scanning hash record: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hash records: %w", err)
	}
	return out, nil
}

func (s *SQLiteHashStore) PutHashRecord(rec *sfo.HashRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO hash_records (path, size, partial_hash, full_hash, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			partial_hash = excluded.partial_hash,
			full_hash = excluded.full_hash,
			updated_at = excluded.updated_at`,
		rec.Path, rec.Size, rec.PartialHash, rec.FullHash)
	if err != nil {
		return fmt.Errorf("storing hash record for %s: %w", rec.Path, err)
	}
	return nil
}

func (s *SQLiteHashStore) DeleteHashRecord(path string) error {
	if _, err := s.db.Exec(`DELETE FROM hash_records WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting hash record for %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteHashStore) RenameHashRecord(oldPath, newPath string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM hash_records WHERE path = ?`, newPath); err != nil {
		return fmt.Errorf("clearing %s: %w", newPath, err)
	}
	if _, err := tx.Exec(`UPDATE hash_records SET path = ?, updated_at = CURRENT_TIMESTAMP WHERE path = ?`, newPath, oldPath); err != nil {
		return fmt.Errorf("renaming %s: %w", oldPath, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rename: %w", err)
	}
	return nil
}

func (s *SQLiteHashStore) ClearHashRecords() error {
	if _, err := s.db.Exec(`DELETE FROM hash_records`); err != nil {
		return fmt.Errorf("clearing hash records: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteHashStore) Close() error {
	return s.db.Close()
}
