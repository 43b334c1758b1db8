// Copyright © 2018 One Concern

// Package status declares the errors returned by storage backends.
//
// Callers match them with errors.Is, whatever the backend: the local cache
// and the external handlers translate them into engine errors.
package status

import "github.com/oneconcern/tablemon/pkg/errors"

var (
	// ErrNotExists is returned when the requested key is not stored
	ErrNotExists = errors.New("object doesn't exist")

	// ErrNotFound is returned when the container of keys (bucket, directory) is missing
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when credentials are missing or rejected
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when credentials do not grant access to the key
	ErrForbidden = errors.New("forbidden")

	// ErrExists is returned by exclusive writes, when the key is already stored
	ErrExists = errors.New("exists already")

	// ErrInvalidResource is returned when a bucket or directory name is invalid
	ErrInvalidResource = errors.New("invalid storage resource name")

	// ErrThrottled is returned when the backend asks to slow down. Operations may be retried.
	ErrThrottled = errors.New("storage request throttled")

	// ErrStorageAPI is returned for any other backend failure
	ErrStorageAPI = errors.New("storage API error")
)
