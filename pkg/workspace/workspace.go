package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/zap"
)

// Workspace holds the checked out tables of a repository
type Workspace struct {
	db   *sql.DB
	repo model.Repository
	path string
	l    *zap.Logger
}

// Repository checked out in this workspace
func (w *Workspace) Repository() model.Repository {
	return w.repo
}

func (w *Workspace) String() string {
	return "workspace@" + w.path
}

// Close the workspace
func (w *Workspace) Close() error {
	return w.db.Close()
}

// Tables lists the tables of the workspace, sorted by name
func (w *Workspace) Tables(ctx context.Context) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// HasTable tells if a table exists in the workspace
func (w *Workspace) HasTable(ctx context.Context, table string) (bool, error) {
	var one int
	err := w.db.QueryRowContext(ctx, `
		SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?
	`, table).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Schema of a table
func (w *Workspace) Schema(ctx context.Context, table string) (model.Schema, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT cid, name, type, pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schema model.Schema
	for rows.Next() {
		var (
			col model.Column
			pk  int
		)
		if err := rows.Scan(&col.Ordinal, &col.Name, &col.Type, &pk); err != nil {
			return nil, err
		}
		col.Ordinal++
		col.Type = strings.ToUpper(col.Type)
		col.PrimaryKey = pk > 0
		schema = append(schema, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(schema) == 0 {
		return nil, status.ErrNotFound.Wrapf("table %s in workspace of %s", table, w.repo)
	}
	return schema, nil
}

// Snapshot reads the schema and the content of a table.
//
// Rows are sorted on all columns, so the snapshot of some content does not depend on
// the order in which rows were inserted.
func (w *Workspace) Snapshot(ctx context.Context, table string) (model.Schema, []cafs.Row, error) {
	schema, err := w.Schema(ctx, table)
	if err != nil {
		return nil, nil, err
	}

	ordering := make([]string, len(schema))
	for i := range schema {
		ordering[i] = strconv.Itoa(i + 1)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		quoteAll(schema.ColumnNames()), quote(table), strings.Join(ordering, ", "),
	)
	_, rows, err := w.query(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	if rows, err = cafs.NormalizeRows(rows); err != nil {
		return nil, nil, fmt.Errorf("reading table %s of %s: %w", table, w.repo, err)
	}
	return schema, rows, nil
}

// Load replaces a table with some content
func (w *Workspace) Load(ctx context.Context, table string, schema model.Schema, rows []cafs.Row) error {
	if len(schema) == 0 {
		return status.ErrInvalidArgument.Wrapf("cannot load table %s without columns", table)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err = tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quote(table)); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, createStatement(table, schema)); err != nil {
		return err
	}

	if len(rows) > 0 {
		params := strings.TrimSuffix(strings.Repeat("?, ", len(schema)), ", ")
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quote(table), quoteAll(schema.ColumnNames()), params,
		))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, row := range rows {
			if len(row) != len(schema) {
				return status.ErrInvalidArgument.Wrapf("row has %d values, but table %s has %d columns", len(row), table, len(schema))
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	w.l.Debug("table loaded", zap.Stringer("repository", w.repo), zap.String("table", table), zap.Int("rows", len(rows)))
	return nil
}

// Drop a table. Dropping a table that does not exist is a no-op.
func (w *Workspace) Drop(ctx context.Context, table string) error {
	_, err := w.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+quote(table))
	return err
}

// Reset drops all tables
func (w *Workspace) Reset(ctx context.Context) error {
	tables, err := w.Tables(ctx)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if err := w.Drop(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// Exec runs some SQL statements against the workspace
func (w *Workspace) Exec(ctx context.Context, statement string, args ...interface{}) error {
	if _, err := w.db.ExecContext(ctx, statement, args...); err != nil {
		return fmt.Errorf("executing SQL in workspace of %s: %w", w.repo, err)
	}
	return nil
}

// Query runs a SQL query against the workspace, and returns the column names with all resulting rows
func (w *Workspace) Query(ctx context.Context, query string, args ...interface{}) ([]string, []cafs.Row, error) {
	columns, rows, err := w.query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("querying workspace of %s: %w", w.repo, err)
	}
	if rows, err = cafs.NormalizeRows(rows); err != nil {
		return nil, nil, fmt.Errorf("querying workspace of %s: %w", w.repo, err)
	}
	return columns, rows, nil
}

func (w *Workspace) query(ctx context.Context, query string, args ...interface{}) ([]string, []cafs.Row, error) {
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var res []cafs.Row
	for rows.Next() {
		values := make(cafs.Row, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, nil, err
		}
		res = append(res, values)
	}
	return columns, res, rows.Err()
}

func createStatement(table string, schema model.Schema) string {
	var (
		b    strings.Builder
		keys []string
	)
	b.WriteString("CREATE TABLE ")
	b.WriteString(quote(table))
	b.WriteString(" (")
	for i, col := range schema {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(col.Name))
		if col.Type != "" {
			b.WriteString(" ")
			b.WriteString(col.Type)
		}
		if col.PrimaryKey {
			keys = append(keys, col.Name)
		}
	}
	if len(keys) > 0 {
		b.WriteString(", PRIMARY KEY (")
		b.WriteString(quoteAll(keys))
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

// quote an SQL identifier
func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func quoteAll(identifiers []string) string {
	quoted := make([]string, len(identifiers))
	for i, id := range identifiers {
		quoted[i] = quote(id)
	}
	return strings.Join(quoted, ", ")
}
