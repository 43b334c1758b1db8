package splitfile

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/metastore"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/oneconcern/tablemon/pkg/storage/localfs"
	"github.com/oneconcern/tablemon/pkg/workspace"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	output = model.NewRepository("acme", "output")
	fruits = model.NewRepository("acme", "fruits")
)

// recorder is a custom command which counts its executions
type recorder struct {
	hash  string
	calls int
	args  [][]string
	apply func(context.Context, model.Repository) error
}

func (r *recorder) CalcHash(_ context.Context, _ model.Repository, args []string) (string, error) {
	return r.hash, nil
}

func (r *recorder) Execute(ctx context.Context, repo model.Repository, args []string) error {
	r.calls++
	r.args = append(r.args, args)
	if r.apply != nil {
		return r.apply(ctx, repo)
	}
	return nil
}

type fixture struct {
	engine   *core.Engine
	executor *Executor
	fs       afero.Fs
	commands *Registry
}

func setupFixture(t testing.TB) *fixture {
	t.Helper()

	meta, err := metastore.Open(metastore.MemoryDSN, metastore.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	store, err := localfs.New(afero.NewMemMapFs())
	require.NoError(t, err)
	cache, err := cafs.New(store, cafs.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	workspaces := workspace.NewManager("", workspace.WithLogger(zap.NewNop()))
	t.Cleanup(func() { _ = workspaces.Close() })

	engine := core.New(meta, cache, workspaces, core.WithLogger(zap.NewNop()))
	fs := afero.NewMemMapFs()
	commands := NewRegistry(fs)
	return &fixture{
		engine:   engine,
		executor: NewExecutor(engine, WithLogger(zap.NewNop()), WithCommands(commands), WithMetrics(true)),
		fs:       fs,
		commands: commands,
	}
}

func (f *fixture) register(name string, cmd Command) {
	f.commands.Register(strings.ToLower(name), func(*core.Engine) (Command, error) { return cmd, nil })
	f.commands.Configure(name, strings.ToLower(name))
}

// seedFruits creates a source repository with one table
func (f *fixture) seedFruits(t testing.TB) model.Image {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.engine.Init(ctx, fruits))
	w, err := f.engine.Workspace(fruits)
	require.NoError(t, err)
	require.NoError(t, w.Exec(ctx, `CREATE TABLE fruits (fruit_id INTEGER PRIMARY KEY, name TEXT)`))
	require.NoError(t, w.Exec(ctx, `INSERT INTO fruits VALUES (1, 'apple')`))
	require.NoError(t, w.Exec(ctx, `INSERT INTO fruits VALUES (2, 'orange')`))
	img, err := f.engine.Commit(ctx, fruits, "")
	require.NoError(t, err)
	return img
}

func (f *fixture) images(t testing.TB, repo model.Repository) []string {
	t.Helper()

	images, err := f.engine.MetaStore().GetImages(context.Background(), repo)
	require.NoError(t, err)
	return model.Images(images).Hashes()
}

func (f *fixture) query(t testing.TB, repo model.Repository, q string) []cafs.Row {
	t.Helper()

	w, err := f.engine.Workspace(repo)
	require.NoError(t, err)
	_, rows, err := w.Query(context.Background(), q)
	require.NoError(t, err)
	return rows
}

func TestExecuteSQL(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	script := `
SQL CREATE TABLE my_fruits (id INTEGER PRIMARY KEY, name TEXT)
SQL INSERT INTO my_fruits VALUES (1, 'pineapple')
SQL {
    INSERT INTO my_fruits VALUES (2, 'banana')
}
`
	result, err := f.executor.Execute(ctx, script, output, nil)
	require.NoError(t, err)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, 3, result.NewImages())
	assert.Equal(t, result.Steps[2].Image, result.Image)
	assert.Equal(t, model.CombineHashes(model.ZeroHash, model.ContextHash("SQL", "CREATE TABLE my_fruits (id INTEGER PRIMARY KEY, name TEXT)")),
		result.Steps[0].Image)

	head, err := f.engine.Head(ctx, output)
	require.NoError(t, err)
	assert.Equal(t, result.Image, head.Hash)
	assert.Equal(t, "SQL INSERT INTO my_fruits VALUES (2, 'banana')", head.Comment)

	expected := [][]cafs.Row{
		nil,
		{{int64(1), "pineapple"}},
		{{int64(1), "pineapple"}, {int64(2), "banana"}},
	}
	for i, step := range result.Steps {
		_, err := f.engine.Checkout(ctx, output, step.Image)
		require.NoError(t, err)
		assert.Equal(t, expected[i], f.query(t, output, `SELECT id, name FROM my_fruits ORDER BY id`))
	}

	// unchanged script: no new image
	before := f.images(t, output)
	again, err := f.executor.Execute(ctx, script, output, nil)
	require.NoError(t, err)
	assert.Equal(t, result.Image, again.Image)
	assert.Zero(t, again.NewImages())
	assert.Equal(t, before, f.images(t, output))

	head, err = f.engine.Head(ctx, output)
	require.NoError(t, err)
	assert.Equal(t, result.Image, head.Hash, "the final image is checked out")
	assert.Len(t, f.query(t, output, `SELECT * FROM my_fruits`), 2)
}

func TestExecuteImport(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.seedFruits(t)

	script := `
FROM acme/fruits IMPORT fruits AS my_fruits
SQL CREATE TABLE join_table AS SELECT fruit_id AS id, name AS fruit FROM my_fruits WHERE fruit_id = 2
`
	result, err := f.executor.Execute(ctx, script, output, nil)
	require.NoError(t, err)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, "FROM acme/fruits IMPORT fruits AS my_fruits", result.Steps[0].Command)
	assert.Equal(t, []cafs.Row{{int64(2), "orange"}}, f.query(t, output, `SELECT id, fruit FROM join_table`))

	head, err := f.engine.Head(ctx, output)
	require.NoError(t, err)
	assert.Equal(t, []string{"join_table", "my_fruits"}, head.Tables.Names())

	// the import step only depends on the source image
	_, err = f.engine.Checkout(ctx, output, result.Steps[0].Image)
	require.NoError(t, err)
	assert.Len(t, f.query(t, output, `SELECT * FROM my_fruits`), 2)

	_, err = f.executor.Execute(ctx, "FROM acme/unknown IMPORT x", output, nil)
	require.True(t, errors.Is(err, status.ErrNotFound))
}

func TestCustomCommand(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.seedFruits(t)

	dummy := &recorder{}
	f.register("DUMMY", dummy)

	script := "FROM acme/fruits IMPORT fruits\nDUMMY arg1 --arg2 \"argument three\"\n"
	first, err := f.executor.Execute(ctx, script, output, nil)
	require.NoError(t, err)
	require.Equal(t, 1, dummy.calls)
	assert.Equal(t, [][]string{{"arg1", "--arg2", "argument three"}}, dummy.args)

	history, err := f.engine.Log(ctx, output, model.HeadTag)
	require.NoError(t, err)
	require.Len(t, history, 3, "root, import, DUMMY")
	assert.Equal(t, `DUMMY arg1 --arg2 "argument three"`, history[0].Comment)
	assert.True(t, history[0].Tables.Equal(history[1].Tables))

	// without a hash, the command runs every time
	second, err := f.executor.Execute(ctx, script, output, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, dummy.calls)
	assert.Equal(t, first.Steps[0].Image, second.Steps[0].Image)
	assert.True(t, second.Steps[0].Cached)
	assert.NotEqual(t, first.Image, second.Image)
}

func TestCalcHashShortCircuit(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.seedFruits(t)

	dropper := &recorder{hash: strings.Repeat("deadbeef", 8)}
	dropper.apply = func(ctx context.Context, repo model.Repository) error {
		w, err := f.engine.Workspace(repo)
		if err != nil {
			return err
		}
		return w.Drop(ctx, "fruits")
	}
	f.register("DROP_FRUITS", dropper)

	script := "FROM acme/fruits IMPORT fruits\nDROP_FRUITS\n"

	// run 1: the table gets dropped
	first, err := f.executor.Execute(ctx, script, output, nil)
	require.NoError(t, err)
	require.Equal(t, 1, dropper.calls)
	assert.Equal(t, model.CombineHashes(first.Steps[0].Image, strings.Repeat("deadbeef", 8)), first.Image)
	head, err := f.engine.Head(ctx, output)
	require.NoError(t, err)
	assert.Empty(t, head.Tables)

	// run 2: same hash, same source: nothing is executed
	before := f.images(t, output)
	second, err := f.executor.Execute(ctx, script, output, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, dropper.calls)
	assert.Equal(t, first.Image, second.Image)
	assert.Equal(t, before, f.images(t, output))

	// run 3: the source changes, so does the image the command applies to
	w, err := f.engine.Workspace(fruits)
	require.NoError(t, err)
	require.NoError(t, w.Exec(ctx, `UPDATE fruits SET name = 'banana' WHERE fruit_id = 1`))
	_, err = f.engine.Commit(ctx, fruits, "")
	require.NoError(t, err)

	third, err := f.executor.Execute(ctx, script, output, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, dropper.calls)
	assert.NotEqual(t, first.Steps[0].Image, third.Steps[0].Image)
	assert.Equal(t, model.CombineHashes(third.Steps[0].Image, strings.Repeat("deadbeef", 8)), third.Image)
	assert.Len(t, f.images(t, output), len(before)+2)
}

func TestCustomCommandErrors(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.seedFruits(t)

	f.commands.Register("broken", func(*core.Engine) (Command, error) { return nil, fmt.Errorf("missing dependency") })
	f.commands.Configure("BROKEN1", "broken")
	f.commands.Configure("BROKEN2", "not_registered")
	dummy := &recorder{}
	f.register("DUMMY", dummy)

	script := "FROM acme/fruits IMPORT fruits\nDUMMY arg1\n"

	_, err := f.executor.Execute(ctx, strings.Replace(script, "DUMMY", "NOP", 1), output, nil)
	require.True(t, errors.Is(err, status.ErrUnresolvedCommand))
	assert.False(t, errors.Is(err, status.ErrCommandLoad))
	assert.Contains(t, err.Error(), "custom command NOP not found in the config")

	for _, name := range []string{"BROKEN1", "BROKEN2"} {
		_, err = f.executor.Execute(ctx, strings.Replace(script, "DUMMY", name, 1), output, nil)
		require.True(t, errors.Is(err, status.ErrUnresolvedCommand))
		require.True(t, errors.Is(err, status.ErrCommandLoad))
		assert.Contains(t, err.Error(), "error loading custom command: "+name)
	}

	// nothing ran: the output repository was not even created
	exists, err := f.engine.Exists(ctx, output)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, dummy.calls)
}

func TestStepFailure(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	failing := &recorder{hash: model.ContextHash("failing")}
	failing.apply = func(context.Context, model.Repository) error { return fmt.Errorf("boom") }
	f.register("FAIL", failing)

	script := "SQL CREATE TABLE t (id INTEGER)\nFAIL\nSQL INSERT INTO t VALUES (1)\n"
	result, err := f.executor.Execute(ctx, script, output, nil)
	require.Error(t, err)
	require.Len(t, result.Steps, 1)

	// partial progress is kept, and reused by the next run
	assert.ElementsMatch(t, []string{model.ZeroHash, result.Steps[0].Image}, f.images(t, output))

	failing.apply = nil
	again, err := f.executor.Execute(ctx, script, output, nil)
	require.NoError(t, err)
	assert.True(t, again.Steps[0].Cached)
	assert.Equal(t, 2, again.NewImages())
}

func TestLoadCSVEndToEnd(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, afero.WriteFile(f.fs, "/data/t.csv", []byte("id,name\n1,x\n"), 0600))
	script := "LOAD_CSV ${FILE} t\n"
	params := map[string]string{"FILE": "/data/t.csv"}

	// the output repository starts from its root image
	first, err := f.executor.Execute(ctx, script, output, params)
	require.NoError(t, err)
	i1 := first.Image
	require.Len(t, first.Steps, 1)
	assert.NotEqual(t, model.ZeroHash, i1)
	assert.Equal(t, []cafs.Row{{int64(1), "x"}}, f.query(t, output, `SELECT id, name FROM t`))

	img, err := f.engine.MetaStore().GetImage(ctx, output, i1)
	require.NoError(t, err)
	assert.Equal(t, model.ZeroHash, img.Parent)
	assert.Equal(t, "INTEGER", img.Tables["t"].Schema()[0].Type)

	_, err = f.engine.Tag(ctx, output, i1, "v1")
	require.NoError(t, err)

	// unchanged source: same head, no new image
	before := f.images(t, output)
	again, err := f.executor.Execute(ctx, script, output, params)
	require.NoError(t, err)
	assert.Equal(t, i1, again.Image)
	assert.Equal(t, before, f.images(t, output))

	// changed source: exactly one new image, the tag is unaffected
	require.NoError(t, afero.WriteFile(f.fs, "/data/t.csv", []byte("id,name\n1,x\n2,y\n"), 0600))
	changed, err := f.executor.Execute(ctx, script, output, params)
	require.NoError(t, err)
	i2 := changed.Image
	assert.NotEqual(t, i1, i2)
	assert.Len(t, f.images(t, output), len(before)+1)

	tagged, err := f.engine.Resolve(ctx, output, "v1")
	require.NoError(t, err)
	assert.Equal(t, i1, tagged)

	// every execution restarts from the root image: I2 is a sibling of I1, not a descendant
	rebuilt, err := f.engine.MetaStore().GetImage(ctx, output, i2)
	require.NoError(t, err)
	assert.Equal(t, model.ZeroHash, rebuilt.Parent)

	history, err := f.engine.Log(ctx, output, i2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, i2, history[0].Hash)
	assert.Equal(t, model.ZeroHash, history[1].Hash)
	assert.ElementsMatch(t, []cafs.Row{{int64(1), "x"}, {int64(2), "y"}}, f.query(t, output, `SELECT id, name FROM t`))

	_, err = f.executor.Execute(ctx, "LOAD_CSV /data/missing.csv t", output, nil)
	require.True(t, errors.Is(err, status.ErrNotFound))
}

func TestSQLLiteralWhitespace(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	wide, err := f.executor.Execute(ctx, "SQL CREATE TABLE t AS SELECT 'a  b' AS v\n", output, nil)
	require.NoError(t, err)
	assert.Equal(t, []cafs.Row{{"a  b"}}, f.query(t, output, `SELECT v FROM t`))

	// the same statement with different spacing outside literals reuses the image
	spaced, err := f.executor.Execute(ctx, "SQL CREATE   TABLE t\tAS SELECT 'a  b'   AS v\n", output, nil)
	require.NoError(t, err)
	assert.Equal(t, wide.Image, spaced.Image)
	assert.True(t, spaced.Steps[0].Cached)

	// whitespace inside a literal changes the data, hence the image
	narrow, err := f.executor.Execute(ctx, "SQL CREATE TABLE t AS SELECT 'a b' AS v\n", output, nil)
	require.NoError(t, err)
	assert.NotEqual(t, wide.Image, narrow.Image)
	assert.False(t, narrow.Steps[0].Cached)
	assert.Equal(t, []cafs.Row{{"a b"}}, f.query(t, output, `SELECT v FROM t`))
}
