package workspace

import (
	"context"
	"testing"

	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testRepo   = model.NewRepository("acme", "weather")
	testSchema = model.Schema{
		{Ordinal: 1, Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Ordinal: 2, Name: "city", Type: "TEXT"},
		{Ordinal: 3, Name: "temp", Type: "REAL"},
	}
)

func setupWorkspace(t testing.TB, dir string) (*Manager, *Workspace) {
	t.Helper()

	m := NewManager(dir, WithLogger(zap.NewNop()))
	t.Cleanup(func() { _ = m.Close() })
	w, err := m.Open(testRepo)
	require.NoError(t, err)
	return m, w
}

func TestLoadSnapshot(t *testing.T) {
	ctx := context.Background()
	_, w := setupWorkspace(t, "")

	rows := []cafs.Row{
		{int64(2), "Paris", 12.5},
		{int64(1), "Oslo", nil},
	}
	require.NoError(t, w.Load(ctx, "readings", testSchema, rows))

	schema, got, err := w.Snapshot(ctx, "readings")
	require.NoError(t, err)
	assert.Equal(t, testSchema, schema)
	assert.Equal(t, []cafs.Row{
		{int64(1), "Oslo", nil},
		{int64(2), "Paris", 12.5},
	}, got, "snapshots are sorted")

	// reloading replaces the content
	require.NoError(t, w.Load(ctx, "readings", testSchema, rows[:1]))
	_, got, err = w.Snapshot(ctx, "readings")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	err = w.Load(ctx, "readings", testSchema, []cafs.Row{{int64(1)}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidArgument))

	_, _, err = w.Snapshot(ctx, "unknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestExecQuery(t *testing.T) {
	ctx := context.Background()
	_, w := setupWorkspace(t, "")

	require.NoError(t, w.Exec(ctx, `
		CREATE TABLE "odd ""name""" (key TEXT, value INTEGER);
		INSERT INTO "odd ""name""" VALUES ('b', 2), ('a', 1);
	`))

	tables, err := w.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{`odd "name"`}, tables)

	has, err := w.HasTable(ctx, `odd "name"`)
	require.NoError(t, err)
	assert.True(t, has)

	columns, rows, err := w.Query(ctx, `SELECT key, value FROM "odd ""name""" WHERE value > ?`, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"key", "value"}, columns)
	assert.Equal(t, []cafs.Row{{"b", int64(2)}}, rows)

	require.Error(t, w.Exec(ctx, `SELECT * FROM nowhere`))

	require.NoError(t, w.Reset(ctx))
	tables, err = w.Tables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, w := setupWorkspace(t, dir)

	require.NoError(t, w.Load(ctx, "readings", testSchema, []cafs.Row{{int64(1), "Oslo", -3.0}}))

	again, err := m.Open(testRepo)
	require.NoError(t, err)
	assert.Same(t, w, again)
	assert.Equal(t, testRepo, again.Repository())

	// persisted across managers
	require.NoError(t, m.Close())
	other := NewManager(dir, WithLogger(zap.NewNop()))
	defer func() { _ = other.Close() }()
	reopened, err := other.Open(testRepo)
	require.NoError(t, err)
	tables, err := reopened.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"readings"}, tables)

	require.NoError(t, other.Remove(testRepo))
	fresh, err := other.Open(testRepo)
	require.NoError(t, err)
	tables, err = fresh.Tables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}
