package core

import (
	"context"
	"testing"

	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/handlers"
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
	testRepo  = model.NewRepository("acme", "weather")
	otherRepo = model.NewRepository("acme", "stations")
)

func setupEngine(t testing.TB, opts ...Option) *Engine {
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

	return New(meta, cache, workspaces, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
}

// exec runs statements in the workspace of a repository
func exec(t testing.TB, e *Engine, repo model.Repository, statements ...string) {
	t.Helper()

	w, err := e.Workspace(repo)
	require.NoError(t, err)
	for _, stmt := range statements {
		require.NoError(t, w.Exec(context.Background(), stmt))
	}
}

func query(t testing.TB, e *Engine, repo model.Repository, q string) []cafs.Row {
	t.Helper()

	w, err := e.Workspace(repo)
	require.NoError(t, err)
	_, rows, err := w.Query(context.Background(), q)
	require.NoError(t, err)
	return rows
}

// seed initializes a repository with one committed table
func seed(t testing.TB, e *Engine, repo model.Repository) model.Image {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, e.Init(ctx, repo))
	exec(t, e, repo,
		`CREATE TABLE cities (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO cities VALUES (1, 'paris')`,
		`INSERT INTO cities VALUES (2, 'oslo')`,
	)
	img, err := e.Commit(ctx, repo, "seed")
	require.NoError(t, err)
	return img
}

func TestInit(t *testing.T) {
	e := setupEngine(t, WithMetrics(true))
	ctx := context.Background()

	exists, err := e.Exists(ctx, testRepo)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = e.Head(ctx, testRepo)
	require.True(t, errors.Is(err, status.ErrNotFound))

	require.NoError(t, e.Init(ctx, testRepo))
	require.NoError(t, e.Init(ctx, testRepo), "init is idempotent")

	head, err := e.Head(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, model.ZeroHash, head.Hash)
	assert.Empty(t, head.Tables)

	repos, err := e.Repositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Repository{testRepo}, repos)
}

func TestInitRepairsPartialRepository(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	// a repository registered without its root image nor HEAD
	require.NoError(t, e.MetaStore().CreateRepository(ctx, testRepo))
	_, err := e.Head(ctx, testRepo)
	require.True(t, errors.Is(err, status.ErrNotFound))

	require.NoError(t, e.Init(ctx, testRepo))
	head, err := e.Head(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, model.ZeroHash, head.Hash)

	// an initialized repository is left untouched
	first := seed(t, e, testRepo)
	require.NoError(t, e.Init(ctx, testRepo))
	head, err = e.Head(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, head.Hash)
}

func TestCommitCheckout(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	first := seed(t, e, testRepo)
	assert.Equal(t, model.ZeroHash, first.Parent)
	require.Contains(t, first.Tables, "cities")
	require.Len(t, first.Tables["cities"].Objects, 1)

	meta, err := e.MetaStore().GetObjectMeta(ctx, first.Tables["cities"].ObjectIDs())
	require.NoError(t, err)
	assert.Equal(t, model.FormatSnapshot, meta[first.Tables["cities"].Objects[0].ID].Format)

	head, err := e.Head(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, head.Hash)

	// a change is stored as a delta on top of the previous version
	exec(t, e, testRepo, `INSERT INTO cities VALUES (3, 'lima')`, `DELETE FROM cities WHERE id = 1`)
	second, err := e.Commit(ctx, testRepo, "change")
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.Parent)
	require.Len(t, second.Tables["cities"].Objects, 2)
	assert.Equal(t, first.Tables["cities"].Objects[0], second.Tables["cities"].Objects[0])

	last := second.Tables["cities"].Objects[1].ID
	meta, err = e.MetaStore().GetObjectMeta(ctx, []string{last})
	require.NoError(t, err)
	assert.Equal(t, model.FormatDiff, meta[last].Format)
	assert.Equal(t, []string{first.Tables["cities"].Objects[0].ID}, meta[last].Parents)

	// committing twice the same content yields distinct images sharing objects
	third, err := e.Commit(ctx, testRepo, "unchanged")
	require.NoError(t, err)
	assert.NotEqual(t, second.Hash, third.Hash)
	assert.True(t, second.Tables.Equal(third.Tables))

	// checkout restores the content of the workspace, discarding uncommitted changes
	exec(t, e, testRepo, `DELETE FROM cities`)
	img, err := e.Checkout(ctx, testRepo, first.Hash[:10])
	require.NoError(t, err)
	assert.Equal(t, first.Hash, img.Hash)
	assert.Equal(t, []cafs.Row{{int64(1), "paris"}, {int64(2), "oslo"}},
		query(t, e, testRepo, `SELECT id, name FROM cities ORDER BY name DESC`))

	head, err = e.Head(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, head.Hash)

	schema, rows, err := e.Materialize(ctx, testRepo, second.Hash, "cities")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, schema.ColumnNames())
	assert.ElementsMatch(t, []cafs.Row{{int64(2), "oslo"}, {int64(3), "lima"}}, rows)

	_, _, err = e.Materialize(ctx, testRepo, second.Hash, "stations")
	require.True(t, errors.Is(err, status.ErrNotFound))

	// back to the root: no table left
	_, err = e.Checkout(ctx, testRepo, model.ZeroHash)
	require.NoError(t, err)
	w, err := e.Workspace(testRepo)
	require.NoError(t, err)
	tables, err := w.Tables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestCommitAs(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	first := seed(t, e, testRepo)
	hash := model.CombineHashes(first.Hash, model.ContextHash("step"))
	img, err := e.CommitAs(ctx, testRepo, hash, "known hash")
	require.NoError(t, err)
	assert.Equal(t, hash, img.Hash)

	// an image with the same hash but different content cannot be registered
	_, err = e.Checkout(ctx, testRepo, first.Hash)
	require.NoError(t, err)
	exec(t, e, testRepo, `INSERT INTO cities VALUES (9, 'rome')`)
	_, err = e.CommitAs(ctx, testRepo, hash, "conflict")
	require.True(t, errors.Is(err, status.ErrIntegrityViolation))
}

func TestImportTables(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	source := seed(t, e, otherRepo)
	require.NoError(t, e.Init(ctx, testRepo))

	spec := ImportSpec{
		Source: otherRepo,
		Image:  source.Hash,
		Tables: map[string]string{"cities": "places"},
	}
	assert.Equal(t, "cities AS places", spec.Normalize())

	hash := model.CombineHashes(model.ZeroHash, model.ContextHash("import", spec.Normalize()))
	img, err := e.ImportTables(ctx, testRepo, spec, hash, "import")
	require.NoError(t, err)
	assert.Equal(t, model.ZeroHash, img.Parent)
	require.Contains(t, img.Tables, "places")
	assert.Equal(t, source.Tables["cities"].Objects, img.Tables["places"].Objects, "imported tables share their objects")
	assert.Equal(t, "places", img.Tables["places"].Name)

	rows := query(t, e, testRepo, `SELECT count(*) FROM places`)
	assert.Equal(t, []cafs.Row{{int64(2)}}, rows)

	head, err := e.Head(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, hash, head.Hash)

	_, err = e.ImportTables(ctx, testRepo, ImportSpec{Source: otherRepo, Image: source.Hash, Tables: map[string]string{"nope": ""}},
		model.RandomHash(), "")
	require.True(t, errors.Is(err, status.ErrNotFound))

	// import all tables
	all := ImportSpec{Source: otherRepo, Image: source.Hash}
	img, err = e.ImportTables(ctx, testRepo, all, model.CombineHashes(hash, model.ContextHash("import", "all")), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cities", "places"}, img.Tables.Names())
}

func TestTags(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	first := seed(t, e, testRepo)

	_, err := e.Tag(ctx, testRepo, first.Hash, model.HeadTag)
	require.True(t, errors.Is(err, status.ErrInvalidArgument))
	require.True(t, errors.Is(e.Untag(ctx, testRepo, model.HeadTag), status.ErrInvalidArgument))

	hash, err := e.Tag(ctx, testRepo, model.HeadTag, "v1")
	require.NoError(t, err)
	assert.Equal(t, first.Hash, hash)

	resolved, err := e.Resolve(ctx, testRepo, "v1")
	require.NoError(t, err)
	assert.Equal(t, first.Hash, resolved)

	info, err := e.Show(ctx, testRepo, "v1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{model.HeadTag, "v1"}, info.Tags)

	history, err := e.Log(ctx, testRepo, model.HeadTag)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.Hash, history[0].Hash)
	assert.Equal(t, model.ZeroHash, history[1].Hash)
	assert.Empty(t, history[1].Tags)

	require.NoError(t, e.Untag(ctx, testRepo, "v1"))
	bindings, err := e.Tags(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, []model.TagBinding{{Image: first.Hash, Tag: model.HeadTag}}, bindings)
}

func TestRmImage(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	first := seed(t, e, testRepo)
	exec(t, e, testRepo, `INSERT INTO cities VALUES (3, 'lima')`)
	second, err := e.Commit(ctx, testRepo, "")
	require.NoError(t, err)
	_, err = e.Tag(ctx, testRepo, second.Hash, "v2")
	require.NoError(t, err)

	_, err = e.RmImage(ctx, testRepo, first.Hash, AlwaysConfirm)
	require.True(t, errors.Is(err, status.ErrConsistencyGuard), "HEAD is a descendant")

	_, err = e.Checkout(ctx, testRepo, model.ZeroHash)
	require.NoError(t, err)

	plan, err := e.RmImage(ctx, testRepo, first.Hash, nil)
	require.True(t, errors.Is(err, status.ErrAborted))
	assert.Equal(t, []string{"v2"}, plan.Tags)
	assert.ElementsMatch(t, []string{first.Hash, second.Hash}, plan.Images)

	exists, err := e.MetaStore().ImageExists(ctx, testRepo, first.Hash)
	require.NoError(t, err)
	require.True(t, exists, "an aborted plan deletes nothing")

	_, err = e.RmImage(ctx, testRepo, first.Hash, AlwaysConfirm)
	require.NoError(t, err)

	images, err := e.MetaStore().GetImages(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, []string{model.ZeroHash}, model.Images(images).Hashes())
	_, err = e.Resolve(ctx, testRepo, "v2")
	require.True(t, errors.Is(err, status.ErrNotFound))
}

func TestPrune(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	first := seed(t, e, testRepo)
	exec(t, e, testRepo, `INSERT INTO cities VALUES (3, 'lima')`)
	second, err := e.Commit(ctx, testRepo, "")
	require.NoError(t, err)
	_, err = e.Tag(ctx, testRepo, second.Hash, "v2")
	require.NoError(t, err)

	plan, err := e.Prune(ctx, testRepo, nil)
	require.NoError(t, err, "nothing to prune requires no confirmation")
	assert.True(t, plan.Empty())

	// branch off the first image, then move away from it
	_, err = e.Checkout(ctx, testRepo, first.Hash)
	require.NoError(t, err)
	exec(t, e, testRepo, `INSERT INTO cities VALUES (4, 'kiev')`)
	dangling, err := e.Commit(ctx, testRepo, "")
	require.NoError(t, err)
	_, err = e.Checkout(ctx, testRepo, "v2")
	require.NoError(t, err)

	plan, err = e.Prune(ctx, testRepo, func(DeletionPlan) bool { return false })
	require.True(t, errors.Is(err, status.ErrAborted))
	assert.Equal(t, []string{dangling.Hash}, plan.Images)

	plan, err = e.Prune(ctx, testRepo, AlwaysConfirm)
	require.NoError(t, err)
	assert.Equal(t, []string{dangling.Hash}, plan.Images)

	images, err := e.MetaStore().GetImages(ctx, testRepo)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{model.ZeroHash, first.Hash, second.Hash}, model.Images(images).Hashes(),
		"ancestors of tagged images are never pruned")
}

func TestRm(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	seed(t, e, testRepo)

	plan, err := e.Rm(ctx, testRepo, nil)
	require.True(t, errors.Is(err, status.ErrAborted))
	assert.True(t, plan.Whole)
	assert.Len(t, plan.Images, 2)
	assert.Equal(t, []string{model.HeadTag}, plan.Tags)

	_, err = e.Rm(ctx, testRepo, AlwaysConfirm)
	require.NoError(t, err)
	exists, err := e.Exists(ctx, testRepo)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCleanupObjects(t *testing.T) {
	e := setupEngine(t, WithMetrics(true))
	ctx := context.Background()

	kept := seed(t, e, otherRepo)
	removed := seed(t, e, testRepo)
	exec(t, e, testRepo, `INSERT INTO cities VALUES (3, 'lima')`)
	_, err := e.Commit(ctx, testRepo, "")
	require.NoError(t, err)

	// identical content: both repositories share the snapshot
	require.Equal(t, kept.Tables["cities"].Objects, removed.Tables["cities"].Objects)

	report, err := e.CleanupObjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Deleted(), "all objects are referenced")

	_, err = e.Rm(ctx, testRepo, AlwaysConfirm)
	require.NoError(t, err)

	report, err = e.CleanupObjects(ctx, WithPurgeDryRun(true), WithPurgeLogger(zap.NewNop()))
	require.NoError(t, err)
	require.Len(t, report.Registered, 1, "the delta of the removed repository is not referenced anymore")
	require.Equal(t, report.Registered, report.Cached)

	objects, err := e.MetaStore().GetAllObjects(ctx)
	require.NoError(t, err)
	assert.Len(t, objects, 2, "a dry run deletes nothing")

	report, err = e.CleanupObjects(ctx, WithPurgeLocalStore(t.TempDir()))
	require.NoError(t, err)
	require.Len(t, report.Deleted(), 1)

	objects, err = e.MetaStore().GetAllObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, kept.Tables["cities"].ObjectIDs(), objects)
	cached, err := e.Cache().Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, kept.Tables["cities"].ObjectIDs(), cached)

	// the remaining repository is intact
	_, err = e.Checkout(ctx, otherRepo, kept.Hash)
	require.NoError(t, err)
}

func TestLazyCheckout(t *testing.T) {
	registry := handlers.NewRegistry(handlers.WithLogger(zap.NewNop()))
	registry.Configure("shared", handlers.Spec{
		Implementation: handlers.File,
		Params:         handlers.Params{"path": t.TempDir()},
	})
	e := setupEngine(t, WithHandlers(registry))
	ctx := context.Background()

	first := seed(t, e, testRepo)
	ids := first.Tables["cities"].ObjectIDs()

	h, err := e.Handlers().Get("shared", e.Cache())
	require.NoError(t, err)
	uploaded, err := h.UploadObjects(ctx, ids)
	require.NoError(t, err)
	require.Len(t, uploaded, len(ids))

	for _, id := range ids {
		require.NoError(t, e.Cache().Delete(ctx, id))
	}

	// objects without external locations cannot be fetched
	_, err = e.Checkout(ctx, testRepo, first.Hash)
	require.True(t, errors.Is(err, status.ErrTransferFailure))

	locations := make([]model.ObjectLocation, 0, len(ids))
	for i, id := range ids {
		locations = append(locations, model.ObjectLocation{ObjectID: id, Location: uploaded[i], Handler: "shared"})
	}
	require.NoError(t, e.MetaStore().RegisterObjectLocations(ctx, locations))

	_, err = e.Checkout(ctx, testRepo, first.Hash)
	require.NoError(t, err)
	for _, id := range ids {
		has, err := e.Cache().Has(ctx, id)
		require.NoError(t, err)
		assert.True(t, has)
	}
	assert.Equal(t, []cafs.Row{{int64(2)}}, query(t, e, testRepo, `SELECT count(*) FROM cities`))
}
