package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteBackend keeps the blob in an embedded sqlite file, meta as key/value rows and one row per entry.
// A damaged file may still load partially and fail later on other pages, Probe runs quick_check for that.
type SQLiteBackend struct {
	path string
}

// NewSQLiteBackend makes sqlite backend for path
func NewSQLiteBackend(path string) *SQLiteBackend {
	return &SQLiteBackend{path: path}
}

type sqliteMeta struct {
	Key   string `db:"name"`
	Value string `db:"value"`
}

type sqliteEntry struct {
	Name          string         `db:"name"`
	Spec          string         `db:"spec"`
	Command       string         `db:"command"`
	Args          string         `db:"args"`
	Kwargs        string         `db:"kwargs"`
	Options       string         `db:"options"`
	LastRunAt     sql.NullString `db:"last_run_at"`
	TotalRunCount int64          `db:"total_run_count"`
}

func (s *SQLiteBackend) open() (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", s.path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Load reads meta and entries tables. Missing entries table means entries key is absent.
func (s *SQLiteBackend) Load() (*Blob, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewBlob(), nil
		}
		return nil, fmt.Errorf("can't stat %s: %w", s.path, err)
	}

	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	tables := []string{}
	if err = db.Select(&tables, `SELECT name FROM sqlite_master WHERE type='table'`); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, s.path, err)
	}

	res := NewBlob()
	if slices.Contains(tables, "meta") {
		rows := []sqliteMeta{}
		if err = db.Select(&rows, `SELECT name, value FROM meta`); err != nil {
			return nil, fmt.Errorf("%w: failed to query meta: %v", ErrDecode, err)
		}
		for _, r := range rows {
			res.Meta[r.Key] = r.Value
		}
	}

	if !slices.Contains(tables, "entries") {
		return res, nil
	}
	rows := []sqliteEntry{}
	q := `SELECT name, spec, command, args, kwargs, options, last_run_at, total_run_count FROM entries`
	if err = db.Select(&rows, q); err != nil {
		return nil, fmt.Errorf("%w: failed to query entries: %v", ErrDecode, err)
	}
	res.Entries = make(map[string]*Entry, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrDecode, r.Name, err)
		}
		res.Entries[e.Name] = e
	}
	return res, nil
}

// Probe runs sqlite quick_check
func (s *SQLiteBackend) Probe(*Blob) error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	db, err := s.open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendFault, err)
	}
	defer db.Close()

	res := []string{}
	if err := db.Select(&res, `PRAGMA quick_check`); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendFault, err)
	}
	if len(res) != 1 || res[0] != "ok" {
		return fmt.Errorf("%w: quick_check %v", ErrBackendFault, res)
	}
	return nil
}

// Persist replaces meta and entries in a single transaction
func (s *SQLiteBackend) Persist(b *Blob) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint no-op after commit

	queries := []string{
		`CREATE TABLE IF NOT EXISTS meta (name TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`DELETE FROM meta`,
	}
	if b.Entries == nil {
		queries = append(queries, `DROP TABLE IF EXISTS entries`)
	} else {
		queries = append(queries, `CREATE TABLE IF NOT EXISTS entries (
			name TEXT PRIMARY KEY,
			spec TEXT NOT NULL,
			command TEXT NOT NULL,
			args TEXT NOT NULL,
			kwargs TEXT NOT NULL,
			options TEXT NOT NULL,
			last_run_at TEXT,
			total_run_count INTEGER NOT NULL DEFAULT 0
		)`, `DELETE FROM entries`)
	}
	for _, q := range queries {
		if _, err = tx.Exec(q); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	for k, v := range b.Meta {
		if _, err = tx.NamedExec(`INSERT INTO meta (name, value) VALUES (:name, :value)`, sqliteMeta{Key: k, Value: v}); err != nil {
			return fmt.Errorf("failed to save meta %s: %w", k, err)
		}
	}
	for _, name := range b.Names() {
		row, err := newSQLiteEntry(b.Entries[name])
		if err != nil {
			return fmt.Errorf("failed to prepare entry %s: %w", name, err)
		}
		_, err = tx.NamedExec(`INSERT INTO entries (name, spec, command, args, kwargs, options, last_run_at, total_run_count)
			VALUES (:name, :spec, :command, :args, :kwargs, :options, :last_run_at, :total_run_count)`, row)
		if err != nil {
			return fmt.Errorf("failed to save entry %s: %w", name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Files returns sqlite journal sidecars
func (s *SQLiteBackend) Files() []string {
	return []string{s.path + "-journal", s.path + "-wal", s.path + "-shm"}
}

func (s *SQLiteBackend) String() string { return BackendSQLite }

func newSQLiteEntry(e *Entry) (sqliteEntry, error) {
	res := sqliteEntry{Name: e.Name, Spec: e.Spec, Command: e.Command, TotalRunCount: int64(e.TotalRunCount)} // nolint gosec
	for dst, src := range map[*string]any{&res.Args: e.Args, &res.Kwargs: e.Kwargs, &res.Options: e.Options} {
		data, err := json.Marshal(src)
		if err != nil {
			return sqliteEntry{}, err
		}
		*dst = string(data)
	}
	if e.LastRunAt != nil {
		res.LastRunAt = sql.NullString{String: e.LastRunAt.Format(time.RFC3339Nano), Valid: true}
	}
	return res, nil
}

func (r sqliteEntry) entry() (*Entry, error) {
	res := &Entry{Name: r.Name, Spec: r.Spec, Command: r.Command, TotalRunCount: uint64(r.TotalRunCount)} // nolint gosec
	if err := json.Unmarshal([]byte(r.Args), &res.Args); err != nil {
		return nil, fmt.Errorf("args: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Kwargs), &res.Kwargs); err != nil {
		return nil, fmt.Errorf("kwargs: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Options), &res.Options); err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	if r.LastRunAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, r.LastRunAt.String)
		if err != nil {
			return nil, fmt.Errorf("last_run_at: %w", err)
		}
		res.LastRunAt = &ts
	}
	return res, nil
}
