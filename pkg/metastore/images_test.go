package metastore

import (
	"context"
	"strings"
	"testing"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupHistory builds the following history, with HEAD on the root:
//
//	0 -- 1 -- 2 -- 3 (tag v1)
//	      \
//	       4 -- 5
func setupHistory(t testing.TB) *Store {
	t.Helper()
	ctx := context.Background()

	s := setupStore(t)
	setupRepo(t, s)
	require.NoError(t, s.RegisterObjects(ctx, []model.ObjectMeta{snapshot("a"), delta("b", "a"), snapshot("c")}))

	for _, img := range []model.Image{
		{Hash: imageID("1"), Parent: model.ZeroHash, Tables: tableOf("readings", "a")},
		{Hash: imageID("2"), Parent: imageID("1"), Tables: tableOf("readings", "a", "b")},
		{Hash: imageID("3"), Parent: imageID("2"), Tables: tableOf("readings", "a", "b"), Comment: "release"},
		{Hash: imageID("4"), Parent: imageID("1"), Tables: tableOf("stations", "c")},
		{Hash: imageID("5"), Parent: imageID("4")},
	} {
		require.NoError(t, s.AddImage(ctx, testRepo, img))
	}
	require.NoError(t, s.SetTag(ctx, testRepo, imageID("3"), "v1"))
	return s
}

func TestRepositories(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	other := model.NewRepository("acme", "stations")
	require.NoError(t, s.CreateRepository(ctx, testRepo))
	require.NoError(t, s.CreateRepository(ctx, testRepo))
	require.NoError(t, s.CreateRepository(ctx, other))

	err := s.CreateRepository(ctx, model.NewRepository("acme", "no way"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidArgument))

	repos, err := s.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Repository{other, testRepo}, repos)

	require.NoError(t, s.DeleteRepository(ctx, other))
	exists, err := s.RepositoryExists(ctx, other)
	require.NoError(t, err)
	assert.False(t, exists)

	err = s.DeleteRepository(ctx, other)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestInitRepository(t *testing.T) {
	root := model.Image{Hash: model.ZeroHash}
	for _, toPin := range []struct {
		Name    string
		Partial func(*testing.T, *Store)
	}{
		{Name: "new repository", Partial: func(*testing.T, *Store) {}},
		{Name: "repository without root image", Partial: func(t *testing.T, s *Store) {
			require.NoError(t, s.CreateRepository(context.Background(), testRepo))
		}},
		{Name: "repository without HEAD", Partial: func(t *testing.T, s *Store) {
			require.NoError(t, s.CreateRepository(context.Background(), testRepo))
			require.NoError(t, s.AddImage(context.Background(), testRepo, root))
		}},
	} {
		testCase := toPin
		t.Run(testCase.Name, func(t *testing.T) {
			ctx := context.Background()
			s := setupStore(t)
			testCase.Partial(t, s)

			require.NoError(t, s.InitRepository(ctx, testRepo, root))
			head, err := s.GetTag(ctx, testRepo, model.HeadTag)
			require.NoError(t, err)
			assert.Equal(t, model.ZeroHash, head)

			require.NoError(t, s.InitRepository(ctx, testRepo, root))
			images, err := s.GetImages(ctx, testRepo)
			require.NoError(t, err)
			assert.Len(t, images, 1)
		})
	}

	t.Run("HEAD is not moved", func(t *testing.T) {
		ctx := context.Background()
		s := setupHistory(t)
		require.NoError(t, s.SetTag(ctx, testRepo, imageID("2"), model.HeadTag))

		require.NoError(t, s.InitRepository(ctx, testRepo, root))
		head, err := s.GetTag(ctx, testRepo, model.HeadTag)
		require.NoError(t, err)
		assert.Equal(t, imageID("2"), head)
	})

	t.Run("nothing is registered on failure", func(t *testing.T) {
		ctx := context.Background()
		s := setupStore(t)
		_, err := s.db.ExecContext(ctx, `
			CREATE TRIGGER no_tags BEFORE INSERT ON tags BEGIN SELECT RAISE(ABORT, 'tags are read-only'); END
		`)
		require.NoError(t, err)

		require.Error(t, s.InitRepository(ctx, testRepo, root))
		exists, err := s.RepositoryExists(ctx, testRepo)
		require.NoError(t, err)
		assert.False(t, exists)
		images, err := s.GetImages(ctx, testRepo)
		if err == nil {
			assert.Empty(t, images)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		s := setupStore(t)
		err := s.InitRepository(context.Background(), model.NewRepository("acme", "no way"), root)
		assert.True(t, errors.Is(err, status.ErrInvalidArgument))
		err = s.InitRepository(context.Background(), testRepo, model.Image{Hash: "root"})
		assert.True(t, errors.Is(err, status.ErrInvalidArgument))
	})
}

func TestAddImage(t *testing.T) {
	ctx := context.Background()
	s := setupHistory(t)

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, s.AddImage(ctx, testRepo, model.Image{
			Hash: imageID("2"), Parent: imageID("1"), Tables: tableOf("readings", "a", "b"), Comment: "another comment",
		}))
		img, err := s.GetImage(ctx, testRepo, imageID("2"))
		require.NoError(t, err)
		assert.Equal(t, imageID("1"), img.Parent)
		assert.True(t, img.Tables.Equal(tableOf("readings", "a", "b")))
		assert.Equal(t, testSchema, img.Tables["readings"].Schema())
	})

	for _, toPin := range []struct {
		name     string
		image    model.Image
		expected error
	}{
		{
			name:     "divergent tables",
			image:    model.Image{Hash: imageID("2"), Parent: imageID("1"), Tables: tableOf("readings", "a")},
			expected: status.ErrIntegrityViolation,
		},
		{
			name:     "divergent parent",
			image:    model.Image{Hash: imageID("2"), Parent: model.ZeroHash, Tables: tableOf("readings", "a", "b")},
			expected: status.ErrIntegrityViolation,
		},
		{
			name:     "unknown parent",
			image:    model.Image{Hash: imageID("6"), Parent: imageID("unknown")},
			expected: status.ErrIntegrityViolation,
		},
		{
			name:     "unregistered object",
			image:    model.Image{Hash: imageID("6"), Parent: imageID("5"), Tables: tableOf("readings", "a", "unknown")},
			expected: status.ErrIntegrityViolation,
		},
		{
			name:     "invalid hash",
			image:    model.Image{Hash: "not-a-hash", Parent: imageID("5")},
			expected: status.ErrInvalidArgument,
		},
	} {
		testCase := toPin
		t.Run(testCase.name, func(t *testing.T) {
			err := s.AddImage(ctx, testRepo, testCase.image)
			require.Error(t, err)
			assert.True(t, errors.Is(err, testCase.expected), "unexpected error: %v", err)
		})
	}

	exists, err := s.ImageExists(ctx, testRepo, imageID("6"))
	require.NoError(t, err)
	assert.False(t, exists, "a failed image registration leaves no trace")

	err = s.AddImage(ctx, model.NewRepository("acme", "unknown"), model.Image{Hash: imageID("1")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestGetImages(t *testing.T) {
	ctx := context.Background()
	s := setupHistory(t)

	images, err := s.GetImages(ctx, testRepo)
	require.NoError(t, err)
	require.Len(t, images, 6)
	assert.Equal(t, model.ZeroHash, images[0].Hash)

	position := make(map[string]int, len(images))
	for i, img := range images {
		position[img.Hash] = i
	}
	for _, img := range images {
		if img.Parent == "" {
			continue
		}
		assert.Less(t, position[img.Parent], position[img.Hash], "parents come first")
	}

	assert.Equal(t, "release", images[position[imageID("3")]].Comment)
	assert.Empty(t, images[position[imageID("5")]].Tables)
}

func TestResolveImage(t *testing.T) {
	ctx := context.Background()
	s := setupHistory(t)

	// two images sharing a prefix
	first := "abc" + strings.Repeat("1", model.HashSizeHex-3)
	second := "abd" + strings.Repeat("2", model.HashSizeHex-3)
	require.NoError(t, s.AddImage(ctx, testRepo, model.Image{Hash: first, Parent: imageID("5")}))
	require.NoError(t, s.AddImage(ctx, testRepo, model.Image{Hash: second, Parent: imageID("5")}))

	for _, toPin := range []struct {
		name     string
		ref      string
		expected string
		err      error
	}{
		{name: "HEAD", ref: model.HeadTag, expected: model.ZeroHash},
		{name: "empty ref is HEAD", ref: "", expected: model.ZeroHash},
		{name: "tag", ref: "v1", expected: imageID("3")},
		{name: "full hash", ref: imageID("4"), expected: imageID("4")},
		{name: "prefix", ref: imageID("4")[:8], expected: imageID("4")},
		{name: "upper case prefix", ref: strings.ToUpper("abc1"), expected: first},
		{name: "ambiguous prefix", ref: "ab", err: status.ErrNotFound},
		{name: "unknown tag", ref: "v2", err: status.ErrNotFound},
		{name: "unknown prefix", ref: "fffffffff", err: status.ErrNotFound},
	} {
		testCase := toPin
		t.Run(testCase.name, func(t *testing.T) {
			hash, err := s.ResolveImage(ctx, testRepo, testCase.ref)
			if testCase.err != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, testCase.err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, hash)
		})
	}
}

func TestImageClosures(t *testing.T) {
	ctx := context.Background()
	s := setupHistory(t)

	children, err := s.GetAllChildImages(ctx, testRepo, imageID("1"))
	require.NoError(t, err)
	require.Equal(t, imageID("1"), children[0])
	assert.ElementsMatch(t, []string{imageID("1"), imageID("2"), imageID("3"), imageID("4"), imageID("5")}, children)

	children, err = s.GetAllChildImages(ctx, testRepo, imageID("3"))
	require.NoError(t, err)
	assert.Equal(t, []string{imageID("3")}, children)

	_, err = s.GetAllChildImages(ctx, testRepo, imageID("unknown"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))

	parents, err := s.GetAllParentImages(ctx, testRepo, []string{imageID("3"), imageID("unknown")})
	require.NoError(t, err)
	assert.Equal(t, model.SortedSet([]string{model.ZeroHash, imageID("1"), imageID("2"), imageID("3")}), parents)

	chain, err := s.Log(ctx, testRepo, imageID("5"))
	require.NoError(t, err)
	assert.Equal(t, []string{imageID("5"), imageID("4"), imageID("1"), model.ZeroHash}, model.Images(chain).Hashes())
}

func TestDeleteImages(t *testing.T) {
	ctx := context.Background()

	for _, toPin := range []struct {
		name     string
		prepare  func(*testing.T, *Store)
		hashes   []string
		dropTags bool
		expected error
	}{
		{
			name: "checked out image",
			prepare: func(t *testing.T, s *Store) {
				require.NoError(t, s.SetTag(ctx, testRepo, imageID("5"), model.HeadTag))
			},
			hashes:   []string{imageID("4"), imageID("5")},
			dropTags: true,
			expected: status.ErrConsistencyGuard,
		},
		{
			name:     "tagged image",
			hashes:   []string{imageID("3")},
			expected: status.ErrConsistencyGuard,
		},
		{
			name:     "orphaned child",
			hashes:   []string{imageID("4")},
			expected: status.ErrConsistencyGuard,
		},
	} {
		testCase := toPin
		t.Run(testCase.name, func(t *testing.T) {
			s := setupHistory(t)
			if testCase.prepare != nil {
				testCase.prepare(t, s)
			}
			before, err := s.GetImages(ctx, testRepo)
			require.NoError(t, err)

			err = s.DeleteImages(ctx, testRepo, testCase.hashes, testCase.dropTags)
			require.Error(t, err)
			assert.True(t, errors.Is(err, testCase.expected))

			after, err := s.GetImages(ctx, testRepo)
			require.NoError(t, err)
			assert.Equal(t, model.Images(before).Hashes(), model.Images(after).Hashes(), "the image graph is unchanged")
		})
	}

	t.Run("subtree with tags", func(t *testing.T) {
		s := setupHistory(t)
		require.NoError(t, s.DeleteImages(ctx, testRepo, []string{imageID("2"), imageID("3")}, true))

		exists, err := s.ImageExists(ctx, testRepo, imageID("3"))
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = s.GetTag(ctx, testRepo, "v1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrNotFound))

		referenced, err := s.GetReferencedObjects(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.SortedSet([]string{objectID("a"), objectID("c")}), referenced)
	})
}

func TestTags(t *testing.T) {
	ctx := context.Background()
	s := setupHistory(t)

	require.NoError(t, s.SetTag(ctx, testRepo, imageID("2"), "v0"))
	require.NoError(t, s.SetTag(ctx, testRepo, imageID("5"), "v0"))

	bindings, err := s.GetAllHashesTags(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, []model.TagBinding{
		{Image: model.ZeroHash, Tag: model.HeadTag},
		{Image: imageID("5"), Tag: "v0"},
		{Image: imageID("3"), Tag: "v1"},
	}, bindings)

	err = s.SetTag(ctx, testRepo, imageID("unknown"), "v2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))

	err = s.SetTag(ctx, testRepo, imageID("2"), "bad tag")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidArgument))

	require.NoError(t, s.DeleteTag(ctx, testRepo, "v0"))
	err = s.DeleteTag(ctx, testRepo, "v0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}
