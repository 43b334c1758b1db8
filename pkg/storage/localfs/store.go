// Copyright © 2018 One Concern

package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oneconcern/tablemon/pkg/storage"
	"github.com/oneconcern/tablemon/pkg/storage/status"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// staging area key prefix: files are written there, then renamed into place
const putStageName = ".put-stage"

// New creates a new local file system backed storage model.
//
// Writes are made atomic by staging files then renaming them into place,
// so concurrent readers never observe a partially written object.
func New(fs afero.Fs) (storage.Store, error) {
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(".tablemon", "objects"))
	}
	if err := fs.MkdirAll(putStageName, 0700); err != nil {
		return nil, fmt.Errorf("ensuring put staging directory for %q: %w", putStageName, err)
	}
	return &localFS{fs: fs}, nil
}

// NewAt creates a store rooted at some directory of the OS file system
func NewAt(dir string) (storage.Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("ensuring store directory %q: %w", dir, err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

type localFS struct {
	fs afero.Fs
}

func invalidKey(key string) error {
	if key == "" {
		return status.ErrInvalidResource.Wrapf("empty key")
	}
	first := strings.Split(strings.TrimLeft(filepath.ToSlash(key), "/"), "/")[0]
	if first == putStageName || first == ".." {
		return status.ErrInvalidResource.Wrapf("key %q conflicts with put staging area or escapes the store", key)
	}
	return nil
}

func (l *localFS) Has(ctx context.Context, key string) (bool, error) {
	if err := invalidKey(key); err != nil {
		return false, err
	}
	fi, err := l.fs.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !fi.IsDir(), nil
}

func (l *localFS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	has, err := l.Has(ctx, key)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, status.ErrNotExists.Wrapf("%s", key)
	}
	return l.fs.Open(key)
}

func (l *localFS) Put(ctx context.Context, key string, source io.Reader, exclusive bool) (err error) {
	if err = invalidKey(key); err != nil {
		return err
	}
	if exclusive {
		has, erh := l.Has(ctx, key)
		if erh != nil {
			return erh
		}
		if has {
			return status.ErrExists.Wrapf("%s", key)
		}
	}

	staged, err := afero.TempFile(l.fs, putStageName, "put-")
	if err != nil {
		return fmt.Errorf("create record for %q: %w", key, err)
	}
	stagedName := staged.Name()
	defer func() {
		if err != nil {
			_ = l.fs.Remove(stagedName)
		}
	}()

	if _, err = io.Copy(staged, source); err != nil {
		return multierr.Append(fmt.Errorf("write record for %q: %w", key, err), staged.Close())
	}
	if err = staged.Close(); err != nil {
		return err
	}

	if dir := filepath.Dir(key); dir != "" && dir != "." {
		if err = l.fs.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("ensuring directories for %q: %w", key, err)
		}
	}
	return l.fs.Rename(stagedName, key)
}

func (l *localFS) Delete(ctx context.Context, key string) error {
	if err := invalidKey(key); err != nil {
		return err
	}
	if err := l.fs.Remove(key); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %w", key, err)
	}
	return nil
}

func (l *localFS) Keys(ctx context.Context) ([]string, error) {
	const root = "."
	var res []string
	e := afero.Walk(l.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if info.IsDir() {
			if info.Name() == putStageName {
				return filepath.SkipDir
			}
			return nil
		}
		res = append(res, filepath.ToSlash(path))
		return nil
	})
	if e != nil {
		return nil, e
	}
	sort.Strings(res)
	return res, nil
}

func (l *localFS) Clear(ctx context.Context) error {
	entries, err := afero.ReadDir(l.fs, ".")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name() == putStageName {
			continue
		}
		if err := l.fs.RemoveAll(entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (l *localFS) String() string {
	const localfs = "localfs"
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath("")
		if err != nil {
			return localfs
		}
		return localfs + "@" + pp
	default:
		return localfs
	}
}
