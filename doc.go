/*
Package tablemon provides CLI tooling to version SQL tables.

Tables are snapshotted into immutable images, stored as content-addressed fragments
which are shared across images and repositories. Repositories are built reproducibly
from splitfiles, and synchronized with remote metadata endpoints while fragments travel
through external object stores.

The CLI lives in cmd/tablemon. Packages:

  - pkg/metastore: object store and image graph, over SQLite
  - pkg/cafs: content-addressed table fragments
  - pkg/workspace: checked out tables
  - pkg/core: the engine (commit, checkout, tags, deletions, garbage collection)
  - pkg/splitfile: the build engine
  - pkg/remote: push, pull and clone, with an HTTP metadata endpoint in pkg/remote/api
  - pkg/handlers: external object handlers (FILE, S3)
*/
package tablemon
