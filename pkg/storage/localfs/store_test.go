// Copyright © 2018 One Concern

package localfs

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/storage"
	"github.com/oneconcern/tablemon/pkg/storage/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHas(t *testing.T) {
	bs := setupStore(t)

	has, err := bs.Has(context.Background(), "sixteentons")
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Has(context.Background(), "ab/seventeentons")
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Has(context.Background(), "fifteentons")
	require.NoError(t, err)
	require.False(t, has)

	_, err = bs.Has(context.Background(), ".put-stage/x")
	require.Error(t, err)
}

func TestGet(t *testing.T) {
	bs := setupStore(t)

	rdr, err := bs.Get(context.Background(), "sixteentons")
	require.NoError(t, err)
	b, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "this is the text", string(b))

	b, err = storage.ReadAll(context.Background(), bs, "ab/seventeentons")
	require.NoError(t, err)
	assert.Equal(t, "this is the text for another thing", string(b))

	_, err = bs.Get(context.Background(), "fifteentons")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotExists))
}

func TestKeys(t *testing.T) {
	bs := setupStore(t)

	keys, err := bs.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ab/seventeentons", "sixteentons"}, keys)
}

func TestDelete(t *testing.T) {
	bs := setupStore(t)

	require.NoError(t, bs.Delete(context.Background(), "ab/seventeentons"))
	require.NoError(t, bs.Delete(context.Background(), "never-there"))
	k, _ := bs.Keys(context.Background())
	assert.Len(t, k, 1)
}

func TestClear(t *testing.T) {
	bs := setupStore(t)

	require.NoError(t, bs.Clear(context.Background()))
	k, _ := bs.Keys(context.Background())
	require.Empty(t, k)

	// the store remains usable
	require.NoError(t, bs.Put(context.Background(), "x", bytes.NewBufferString("y"), storage.OverWrite))
}

func TestPut(t *testing.T) {
	bs := setupStore(t)

	content := bytes.NewBufferString("here we go once again")
	err := bs.Put(context.Background(), "cd/eighteentons", content, storage.NoOverWrite)
	require.NoError(t, err)

	b, err := storage.ReadAll(context.Background(), bs, "cd/eighteentons")
	require.NoError(t, err)
	assert.Equal(t, "here we go once again", string(b))

	k, _ := bs.Keys(context.Background())
	assert.Len(t, k, 3)

	err = bs.Put(context.Background(), "cd/eighteentons", bytes.NewBufferString("again"), storage.NoOverWrite)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrExists))

	require.NoError(t, bs.Put(context.Background(), "cd/eighteentons", bytes.NewBufferString("again"), storage.OverWrite))
	b, err = storage.ReadAll(context.Background(), bs, "cd/eighteentons")
	require.NoError(t, err)
	assert.Equal(t, "again", string(b))
}

func TestCopy(t *testing.T) {
	src := setupStore(t)
	dst, err := New(afero.NewMemMapFs())
	require.NoError(t, err)

	require.NoError(t, storage.Copy(context.Background(), src, "sixteentons", dst, "copied/sixteentons", storage.NoOverWrite))
	b, err := storage.ReadAll(context.Background(), dst, "copied/sixteentons")
	require.NoError(t, err)
	assert.Equal(t, "this is the text", string(b))

	require.Error(t, storage.Copy(context.Background(), src, "missing", dst, "missing", storage.NoOverWrite))
}

func setupStore(t testing.TB) storage.Store {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "sixteentons", []byte("this is the text"), 0600))
	require.NoError(t, fs.MkdirAll("ab", 0700))
	require.NoError(t, afero.WriteFile(fs, "ab/seventeentons", []byte("this is the text for another thing"), 0600))

	store, err := New(fs)
	require.NoError(t, err)
	return store
}
