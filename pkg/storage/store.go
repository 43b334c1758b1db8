// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"
)

const (
	// NoOverWrite fails a Put when the key already exists
	NoOverWrite = true

	// OverWrite replaces any existing content under the key
	OverWrite = false
)

// Store implementations know how to write entries to a K/V model.
//
// Typically this is something file system-like. Examples are S3 or the local FS.
// Implementations of this interface are assumed to be fairly simple: keys are
// opaque relative paths, values are byte streams.
type Store interface {
	String() string
	Has(context.Context, string) (bool, error)
	Get(context.Context, string) (io.ReadCloser, error)
	Put(context.Context, string, io.Reader, bool) error
	Delete(context.Context, string) error
	Keys(context.Context) ([]string, error)
	Clear(context.Context) error
}
