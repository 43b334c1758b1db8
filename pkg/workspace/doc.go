// Package workspace manages the checked out state of repositories.
//
// Each repository gets its own SQLite database, holding the tables of the image
// bound to its HEAD tag, plus any uncommitted change.
package workspace
