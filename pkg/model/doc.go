// Package model describes the versioned objects managed by tablemon:
// repositories, images, tags, table mappings and content-addressed objects.
//
// Images and objects are identified by 64 hex characters hashes. Image hashes
// are derived from their parent with CombineHashes, so that re-running the same
// command on the same parent yields the same image.
package model
