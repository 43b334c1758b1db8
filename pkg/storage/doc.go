// Copyright © 2018 One Concern

// Package storage defines the key/value blob Store used for fragments.
//
// Backends live in sub-packages: localfs for the local object cache (any afero
// file system), sthree for S3 and S3-compatible endpoints. Errors returned by
// backends are declared in the status sub-package.
//
// Instrument wraps a store to log calls at debug level. Copy and ReadAll move
// blobs between stores.
package storage
