// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"

	"go.uber.org/multierr"
)

// Copy streams an object from a source store to a destination store
func Copy(ctx context.Context, src Store, source string, dst Store, destination string, exclusive bool) (err error) {
	reader, err := src.Get(ctx, source)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, reader.Close())
	}()
	return dst.Put(ctx, destination, reader, exclusive)
}

// ReadAll reads an object in memory
func ReadAll(ctx context.Context, store Store, key string) (b []byte, err error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, reader.Close())
	}()
	return io.ReadAll(reader)
}
