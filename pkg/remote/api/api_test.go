package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/handlers"
	"github.com/oneconcern/tablemon/pkg/metastore"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/oneconcern/tablemon/pkg/remote"
	"github.com/oneconcern/tablemon/pkg/storage/localfs"
	"github.com/oneconcern/tablemon/pkg/workspace"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "s3cr3t"

var (
	testRepo   = model.NewRepository("acme", "weather")
	remoteRepo = model.NewRepository("hub", "weather")
)

func setupMeta(t testing.TB) metastore.MetaStore {
	t.Helper()
	meta, err := metastore.Open(metastore.MemoryDSN, metastore.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	return meta
}

func setupEndpoint(t testing.TB, meta metastore.MetaStore, opts ...ServerOption) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(meta, append([]ServerOption{WithLogger(zap.NewNop())}, opts...)...))
	t.Cleanup(srv.Close)
	return srv
}

func setupEngine(t testing.TB, registry *handlers.Registry) *core.Engine {
	t.Helper()

	store, err := localfs.New(afero.NewMemMapFs())
	require.NoError(t, err)
	cache, err := cafs.New(store, cafs.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	workspaces := workspace.NewManager("", workspace.WithLogger(zap.NewNop()))
	t.Cleanup(func() { _ = workspaces.Close() })

	return core.New(setupMeta(t), cache, workspaces, core.WithLogger(zap.NewNop()), core.WithHandlers(registry))
}

func newClient(t testing.TB, srv *httptest.Server, opts ...ClientOption) *Client {
	t.Helper()
	token, err := NewToken(testSecret, "tester", time.Hour)
	require.NoError(t, err)
	return NewClient(srv.URL, append([]ClientOption{
		WithClientLogger(zap.NewNop()),
		WithToken(token),
		WithRetries(2, time.Millisecond),
	}, opts...)...)
}

func TestPushPullOverHTTP(t *testing.T) {
	ctx := context.Background()
	registry := handlers.NewRegistry(handlers.WithLogger(zap.NewNop()))
	registry.Configure("shared", handlers.Spec{Implementation: handlers.File, Params: handlers.Params{"path": t.TempDir()}})
	alice, bob := setupEngine(t, registry), setupEngine(t, registry)

	hub := setupMeta(t)
	client := newClient(t, setupEndpoint(t, hub, WithSecret(testSecret)))

	require.NoError(t, alice.Init(ctx, testRepo))
	w, err := alice.Workspace(testRepo)
	require.NoError(t, err)
	require.NoError(t, w.Exec(ctx, `CREATE TABLE cities (id INTEGER PRIMARY KEY, name TEXT)`))
	require.NoError(t, w.Exec(ctx, `INSERT INTO cities VALUES (1, 'paris'), (2, 'oslo')`))
	first, err := alice.Commit(ctx, testRepo, "seed")
	require.NoError(t, err)
	_, err = alice.Tag(ctx, testRepo, first.Hash, "v1")
	require.NoError(t, err)
	require.NoError(t, w.Exec(ctx, `UPDATE cities SET name = 'lima' WHERE id = 1`))
	second, err := alice.Commit(ctx, testRepo, "lima")
	require.NoError(t, err)

	pushed, err := remote.NewSyncer(alice, remote.WithLogger(zap.NewNop())).Push(ctx, testRepo, client, remoteRepo, "shared")
	require.NoError(t, err)
	assert.Equal(t, []string{model.ZeroHash, first.Hash, second.Hash}, pushed.Images)

	remoteImages, err := hub.GetImages(ctx, remoteRepo)
	require.NoError(t, err)
	require.Len(t, remoteImages, 3)
	assert.True(t, second.Tables.Equal(remoteImages[2].Tables))
	assert.Equal(t, second.Comment, remoteImages[2].Comment)

	tree, err := client.ExpandObjectTree(ctx, second.Tables["cities"].Objects[1].ID)
	require.NoError(t, err)
	assert.Equal(t, second.Tables["cities"].ObjectIDs(), tree)

	_, img, err := remote.NewSyncer(bob, remote.WithLogger(zap.NewNop())).Clone(ctx, testRepo, client, remoteRepo)
	require.NoError(t, err)
	assert.Equal(t, second.Hash, img.Hash)
	assert.True(t, second.Tables.Equal(img.Tables))

	bw, err := bob.Workspace(testRepo)
	require.NoError(t, err)
	_, rows, err := bw.Query(ctx, `SELECT id, name FROM cities ORDER BY id`)
	require.NoError(t, err)
	assert.Equal(t, []cafs.Row{{int64(1), "lima"}, {int64(2), "oslo"}}, rows)

	tag, err := bob.Resolve(ctx, testRepo, "v1")
	require.NoError(t, err)
	assert.Equal(t, first.Hash, tag)
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, setupEndpoint(t, setupMeta(t)))

	images, err := client.GetImages(ctx, remoteRepo)
	require.NoError(t, err)
	assert.Empty(t, images)

	tags, err := client.GetTags(ctx, remoteRepo)
	require.NoError(t, err)
	assert.Empty(t, tags)

	objects, err := client.GetObjects(ctx, []string{model.RandomHash()})
	require.NoError(t, err)
	assert.Empty(t, objects)

	for _, toPin := range []struct {
		Name     string
		Op       func() error
		Expected *errors.Error
	}{
		{
			Name:     "unknown object",
			Op:       func() error { _, err := client.ExpandObjectTree(ctx, model.RandomHash()); return err },
			Expected: status.ErrNotFound,
		},
		{
			Name:     "invalid object",
			Op:       func() error { _, err := client.ExpandObjectTree(ctx, "xyz"); return err },
			Expected: status.ErrInvalidArgument,
		},
		{
			Name: "unknown parent",
			Op: func() error {
				return client.PutImage(ctx, remoteRepo, model.Image{Hash: model.RandomHash(), Parent: model.RandomHash(), Tables: make(model.Tables)})
			},
			Expected: status.ErrIntegrityViolation,
		},
		{
			Name:     "invalid repository",
			Op:       func() error { _, err := client.GetImages(ctx, model.NewRepository("acme", "not valid")); return err },
			Expected: status.ErrInvalidArgument,
		},
		{
			Name: "invalid tag",
			Op: func() error {
				return client.PutTags(ctx, remoteRepo, []model.TagBinding{{Image: model.ZeroHash, Tag: "a b"}})
			},
			Expected: status.ErrInvalidArgument,
		},
	} {
		testCase := toPin
		t.Run(testCase.Name, func(t *testing.T) {
			err := testCase.Op()
			require.Error(t, err)
			assert.Truef(t, errors.Is(err, testCase.Expected), "unexpected error: %v", err)
		})
	}
}

func TestAuthentication(t *testing.T) {
	ctx := context.Background()
	srv := setupEndpoint(t, setupMeta(t), WithSecret(testSecret))

	_, err := newClient(t, srv).GetImages(ctx, remoteRepo)
	require.NoError(t, err)

	forged, err := NewToken("other secret", "intruder", time.Hour)
	require.NoError(t, err)
	expired, err := NewToken(testSecret, "tester", -time.Hour)
	require.NoError(t, err)

	for _, toPin := range []struct {
		Name  string
		Token string
	}{
		{Name: "no token", Token: ""},
		{Name: "forged token", Token: forged},
		{Name: "expired token", Token: expired},
		{Name: "garbage", Token: "not-a-token"},
	} {
		testCase := toPin
		t.Run(testCase.Name, func(t *testing.T) {
			_, err := newClient(t, srv, WithToken(testCase.Token)).GetImages(ctx, remoteRepo)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnauthorized))
		})
	}

	eternal, err := NewToken(testSecret, "tester", 0)
	require.NoError(t, err)
	_, err = newClient(t, srv, WithToken(eternal)).GetImages(ctx, remoteRepo)
	require.NoError(t, err)

	_, err = NewToken("", "tester", 0)
	require.Error(t, err)
}

func TestRetries(t *testing.T) {
	ctx := context.Background()
	endpoint := NewServer(setupMeta(t), WithLogger(zap.NewNop()))

	for _, toPin := range []struct {
		Name          string
		Failures      int32
		Code          int
		ExpectedCalls int32
		WantErr       *errors.Error
	}{
		{Name: "transient unavailability", Failures: 2, Code: http.StatusServiceUnavailable, ExpectedCalls: 3},
		{Name: "throttled", Failures: 1, Code: http.StatusTooManyRequests, ExpectedCalls: 2},
		{Name: "persistent failure", Failures: 10, Code: http.StatusInternalServerError, ExpectedCalls: 3, WantErr: ErrServer},
		{Name: "client error", Failures: 10, Code: http.StatusBadRequest, ExpectedCalls: 1, WantErr: ErrServer},
	} {
		testCase := toPin
		t.Run(testCase.Name, func(t *testing.T) {
			var calls int32
			flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&calls, 1) <= testCase.Failures {
					w.WriteHeader(testCase.Code)
					return
				}
				endpoint.ServeHTTP(w, r)
			}))
			defer flaky.Close()

			_, err := newClient(t, flaky).GetImages(ctx, remoteRepo)
			assert.Equal(t, testCase.ExpectedCalls, atomic.LoadInt32(&calls))
			if testCase.WantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, testCase.WantErr))
				return
			}
			require.NoError(t, err)
		})
	}
}
