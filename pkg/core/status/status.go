// Package status exports errors produced by the core packages.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between the metastore, the build
// engine and the sync protocol.
package status

import (
	"github.com/oneconcern/tablemon/pkg/errors"
)

var (
	// ErrNotFound indicates an unresolvable tag, reference, repository or object
	ErrNotFound = errors.New("not found")

	// ErrIntegrityViolation indicates a hash collision with differing content,
	// or an image referencing unregistered objects
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrUnresolvedCommand indicates that a splitfile references an unknown custom command
	ErrUnresolvedCommand = errors.New("unresolved command")

	// ErrCommandLoad indicates that a custom command is configured but could not be loaded
	ErrCommandLoad = errors.New("error loading custom command")

	// ErrConsistencyGuard indicates that a deletion was blocked to keep tags and checkouts consistent
	ErrConsistencyGuard = errors.New("consistency guard")

	// ErrTransferFailure indicates that an external handler failed to move object data
	ErrTransferFailure = errors.New("transfer failure")

	// ErrAborted indicates that the caller declined to confirm a destructive operation
	ErrAborted = errors.New("aborted by user")

	// ErrInvalidSplitfile indicates a syntax error in a splitfile
	ErrInvalidSplitfile = errors.New("invalid splitfile")

	// ErrMissingParameters indicates that some splitfile parameters were not provided
	ErrMissingParameters = errors.New("missing splitfile parameters")

	// ErrTagConflict indicates that a tag is bound to different images on both ends of a sync
	ErrTagConflict = errors.New("tag conflict")

	// ErrInvalidArgument indicates a malformed name, hash or reference
	ErrInvalidArgument = errors.New("invalid argument")
)
