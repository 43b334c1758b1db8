package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/tablemon/pkg/dlogger"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// MemoryDSN opens a private in-memory metadata store
const MemoryDSN = ":memory:"

const (
	// maxParams bounds the number of bound parameters in IN clauses
	maxParams = 500

	// timeLayout is a fixed-width UTC layout, so that timestamps sort lexicographically
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store implements the metadata store over SQLite
type Store struct {
	db          *sql.DB
	dsn         string
	l           *zap.Logger
	busyTimeout int
}

// querier is implemented by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Open a metadata store at some path. Use MemoryDSN for a transient store.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		dsn:         path,
		l:           dlogger.MustGetLogger("info"),
		busyTimeout: 5000,
	}
	for _, apply := range opts {
		apply(s)
	}

	dsn := path
	if path != MemoryDSN {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, s.busyTimeout)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	// a single connection serializes writers, and keeps an in-memory database alive
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	if err := s.migrate(context.Background()); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to migrate metadata store: %w", err), db.Close())
	}
	s.l.Debug("metadata store opened", zap.String("dsn", path))
	return s, nil
}

// Close the metadata store
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) String() string {
	return "sqlite@" + s.dsn
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		namespace TEXT NOT NULL,
		repository TEXT NOT NULL,
		PRIMARY KEY (namespace, repository)
	);

	CREATE TABLE IF NOT EXISTS images (
		namespace TEXT NOT NULL,
		repository TEXT NOT NULL,
		image_hash TEXT NOT NULL,
		parent_id TEXT,
		created TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (namespace, repository, image_hash)
	);

	CREATE TABLE IF NOT EXISTS tags (
		namespace TEXT NOT NULL,
		repository TEXT NOT NULL,
		image_hash TEXT NOT NULL,
		tag TEXT NOT NULL,
		PRIMARY KEY (namespace, repository, tag)
	);

	CREATE TABLE IF NOT EXISTS tables (
		namespace TEXT NOT NULL,
		repository TEXT NOT NULL,
		image_hash TEXT NOT NULL,
		table_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		object_id TEXT NOT NULL,
		schema TEXT NOT NULL,
		PRIMARY KEY (namespace, repository, image_hash, table_name, position)
	);

	CREATE TABLE IF NOT EXISTS objects (
		object_id TEXT PRIMARY KEY,
		format TEXT NOT NULL,
		namespace TEXT NOT NULL,
		size INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS object_parents (
		object_id TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		PRIMARY KEY (object_id, parent_id)
	);

	CREATE TABLE IF NOT EXISTS object_locations (
		object_id TEXT NOT NULL,
		location TEXT NOT NULL,
		handler TEXT NOT NULL,
		PRIMARY KEY (object_id, location, handler)
	);

	CREATE INDEX IF NOT EXISTS idx_images_parent ON images(namespace, repository, parent_id);
	CREATE INDEX IF NOT EXISTS idx_tags_image ON tags(namespace, repository, image_hash);
	CREATE INDEX IF NOT EXISTS idx_tables_object ON tables(object_id);
	CREATE INDEX IF NOT EXISTS idx_object_parents_parent ON object_parents(parent_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// withTx runs a function in a transaction, committed only if the function succeeds.
//
// The function must only use the transaction: the store holds a single connection.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// placeholders builds "?, ?, ..." for n parameters
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// chunks splits a list of strings in slices of at most maxParams
func chunks(values []string) [][]string {
	var res [][]string
	for len(values) > maxParams {
		res = append(res, values[:maxParams])
		values = values[maxParams:]
	}
	if len(values) > 0 {
		res = append(res, values)
	}
	return res
}

func args(prefix []interface{}, values []string) []interface{} {
	res := make([]interface{}, 0, len(prefix)+len(values))
	res = append(res, prefix...)
	for _, v := range values {
		res = append(res, v)
	}
	return res
}

// queryStrings runs a query returning a single string column, and collects all results
func queryStrings(ctx context.Context, q querier, query string, params ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
