// Package sqlite persists storage scopes in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"github.com/rexliu/acrpc/pkg/storage"
)

// Options tunes the connection pragmas.
type Options struct {
	JournalMode string
	Synchronous string
	BusyTimeout time.Duration
}

// DB owns the SQLite database for a profile.
type DB struct {
	db   *sql.DB
	path string
	opts Options
}

// Path returns the underlying SQLite file path.
func (d *DB) Path() string {
	return d.path
}

// Open initializes a SQLite database at path.
func Open(path string, opts Options) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "create database dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	// One writer keeps Apply transactions serialized.
	db.SetMaxOpenConns(1)
	return &DB{db: db, path: path, opts: opts}, nil
}

// Close releases database resources.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Init ensures pragmas and schema are configured.
func (d *DB) Init(ctx context.Context) error {
	if d == nil || d.db == nil {
		return errors.New("nil database")
	}
	journal := strings.ToUpper(lo.CoalesceOrEmpty(d.opts.JournalMode, "DELETE"))
	sync := strings.ToUpper(lo.CoalesceOrEmpty(d.opts.Synchronous, "FULL"))
	busy := d.opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode = %s;", journal),
		fmt.Sprintf("PRAGMA synchronous = %s;", sync),
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busy.Milliseconds()),
	}
	for _, stmt := range pragmas {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply pragma %q", stmt)
		}
	}
	return d.applySchema(ctx)
}

func (d *DB) applySchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS entries (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (scope, key)
		);`,
	}
	for _, stmt := range ddl {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}
	return nil
}

// SchemaVersion returns the stored schema version.
func (d *DB) SchemaVersion(ctx context.Context) (string, error) {
	var v string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schemaVersion'`).Scan(&v)
	return v, errors.Wrap(err, "read schema version")
}

// Scope returns a storage.Store whose keys live in the named scope.
func (d *DB) Scope(name string) *Store {
	return &Store{db: d, scope: name}
}

// Entry is one persisted row.
type Entry struct {
	Scope     string `json:"scope"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Entries lists every row ordered by scope and key.
func (d *DB) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT scope, key, value, updated_at
		FROM entries
		ORDER BY scope, key;
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list entries")
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Scope, &e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan entry")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "list entries")
}

// Store is a storage.Store bound to one scope.
type Store struct {
	db    *DB
	scope string
}

var _ storage.Store = (*Store)(nil)

// Available pings the database.
func (s *Store) Available(ctx context.Context) bool {
	return s.db != nil && s.db.db != nil && s.db.db.PingContext(ctx) == nil
}

func (s *Store) Read(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.db.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE scope = ? AND key = ?`, s.scope, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrapf(err, "read %s/%s", s.scope, key)
	}
	return value, true, nil
}

func (s *Store) Write(ctx context.Context, key, value string) error {
	return s.Apply(ctx, storage.WriteOp{Key: key, Value: value})
}

func (s *Store) Clear(ctx context.Context, key string) error {
	return s.Apply(ctx, storage.ClearOp{Key: key})
}

// Apply applies a batch atomically.
func (s *Store) Apply(ctx context.Context, ops ...storage.Op) (err error) {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	now := time.Now().UnixMilli()
	for _, op := range ops {
		switch v := op.(type) {
		case storage.WriteOp:
			err = s.applyWrite(ctx, tx, v, now)
		case storage.ClearOp:
			err = s.applyClear(ctx, tx, v)
		default:
			err = fmt.Errorf("unsupported op %T", op)
		}
		if err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *Store) applyWrite(ctx context.Context, tx *sql.Tx, op storage.WriteOp, now int64) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO entries(scope, key, value, updated_at) VALUES(?,?,?,?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;
	`, s.scope, op.Key, op.Value, now)
	return errors.Wrapf(wrapRowsAffected(res, err), "write %s/%s", s.scope, op.Key)
}

func (s *Store) applyClear(ctx context.Context, tx *sql.Tx, op storage.ClearOp) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE scope = ? AND key = ?`, s.scope, op.Key)
	return errors.Wrapf(err, "clear %s/%s", s.scope, op.Key)
}

func wrapRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return errors.New("no rows affected")
	}
	return nil
}
