package core

import (
	"context"
	"sort"
	"strings"

	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/zap"
)

// CommitHash is the hash of a manual commit on top of some image: manual commits are never reused
func CommitHash(parent string) string {
	return model.CombineHashes(parent, model.ContextHash("commit", model.RandomHash()))
}

// Commit records the state of the workspace of a repository as a new image, then checks it out
func (e *Engine) Commit(ctx context.Context, repo model.Repository, comment string) (model.Image, error) {
	head, err := e.meta.GetTag(ctx, repo, model.HeadTag)
	if err != nil {
		return model.Image{}, err
	}
	return e.CommitAs(ctx, repo, CommitHash(head), comment)
}

// CommitAs records the state of the workspace of a repository as an image with a known hash,
// child of the image currently checked out. The new image is then checked out.
//
// Tables are stored as deltas against their version in the parent image whenever possible.
func (e *Engine) CommitAs(ctx context.Context, repo model.Repository, hash, comment string) (img model.Image, err error) {
	defer func(done func(error)) { done(err) }(e.usage("Commit"))

	parent, err := e.Head(ctx, repo)
	if err != nil {
		return model.Image{}, err
	}
	w, err := e.workspaces.Open(repo)
	if err != nil {
		return model.Image{}, err
	}
	tables, err := w.Tables(ctx)
	if err != nil {
		return model.Image{}, err
	}

	img = model.Image{
		Hash:    hash,
		Parent:  parent.Hash,
		Created: model.ImageTimeStamp(),
		Comment: comment,
		Tables:  make(model.Tables, len(tables)),
	}
	var objects []model.ObjectMeta
	for _, table := range tables {
		schema, rows, err := w.Snapshot(ctx, table)
		if err != nil {
			return model.Image{}, err
		}
		entry, created, err := e.cache.WriteTable(ctx, repo.Namespace, parent.Tables[table], table, schema, rows)
		if err != nil {
			return model.Image{}, err
		}
		img.Tables[table] = entry
		objects = append(objects, created...)
	}

	if err = e.register(ctx, repo, img, objects); err != nil {
		return model.Image{}, err
	}
	e.l.Info("image committed",
		zap.Stringer("repository", repo),
		zap.String("image", hash),
		zap.String("parent", parent.Hash),
		zap.Int("tables", len(img.Tables)),
		zap.Int("objects", len(objects)),
	)
	return img, nil
}

// register new objects, then the image, then check out the image
func (e *Engine) register(ctx context.Context, repo model.Repository, img model.Image, objects []model.ObjectMeta) error {
	if err := e.meta.RegisterObjects(ctx, objects); err != nil {
		return err
	}
	if err := e.meta.AddImage(ctx, repo, img); err != nil {
		return err
	}
	e.countImages(1, "commit")
	return e.meta.SetTag(ctx, repo, img.Hash, model.HeadTag)
}

// ImportSpec describes tables to import from an image of another repository
type ImportSpec struct {
	Source model.Repository
	Image  string

	// Tables maps source table names to target table names. All tables are imported when empty.
	Tables map[string]string
}

// Normalize the description of the import, with sorted table names
func (s ImportSpec) Normalize() string {
	pairs := make([]string, 0, len(s.Tables))
	for source, target := range s.Tables {
		if target == "" || target == source {
			pairs = append(pairs, source)
			continue
		}
		pairs = append(pairs, source+" AS "+target)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}

// ImportTables imports tables from an image of another repository, as a new image on top of the
// image currently checked out.
//
// Table mappings are copied, so the imported tables share their objects with the source.
func (e *Engine) ImportTables(ctx context.Context, repo model.Repository, spec ImportSpec, hash, comment string) (img model.Image, err error) {
	defer func(done func(error)) { done(err) }(e.usage("ImportTables"))

	source, err := e.meta.GetImage(ctx, spec.Source, spec.Image)
	if err != nil {
		return model.Image{}, err
	}
	parent, err := e.Head(ctx, repo)
	if err != nil {
		return model.Image{}, err
	}

	mapping := spec.Tables
	if len(mapping) == 0 {
		mapping = make(map[string]string, len(source.Tables))
		for _, name := range source.Tables.Names() {
			mapping[name] = name
		}
	}

	img = model.Image{
		Hash:    hash,
		Parent:  parent.Hash,
		Created: model.ImageTimeStamp(),
		Comment: comment,
		Tables:  parent.Tables.Clone(),
	}
	if img.Tables == nil {
		img.Tables = make(model.Tables)
	}
	imported := make(model.Tables, len(mapping))
	for from, to := range mapping {
		if to == "" {
			to = from
		}
		entry, ok := source.Tables[from]
		if !ok {
			return model.Image{}, status.ErrNotFound.Wrapf("table %s in image %s of %s", from, model.ShortHash(source.Hash), spec.Source)
		}
		entry = model.Tables{from: entry}.Clone()[from]
		entry.Name = to
		img.Tables[to] = entry
		imported[to] = entry
	}

	if err = e.loadTables(ctx, repo, imported, false); err != nil {
		return model.Image{}, err
	}
	if err = e.register(ctx, repo, img, nil); err != nil {
		return model.Image{}, err
	}
	e.l.Info("tables imported",
		zap.Stringer("repository", repo),
		zap.Stringer("source", spec.Source),
		zap.String("image", hash),
		zap.Int("tables", len(imported)),
	)
	return img, nil
}

// loadTables materializes tables in the workspace of a repository, downloading missing objects first
func (e *Engine) loadTables(ctx context.Context, repo model.Repository, tables model.Tables, reset bool) error {
	var ids []string
	for _, entry := range tables {
		ids = append(ids, entry.ObjectIDs()...)
	}
	if err := e.ensureLocal(ctx, ids); err != nil {
		return err
	}

	w, err := e.workspaces.Open(repo)
	if err != nil {
		return err
	}
	if reset {
		if err = w.Reset(ctx); err != nil {
			return err
		}
	}
	for _, name := range tables.Names() {
		schema, rows, err := e.cache.Materialize(ctx, tables[name].ObjectIDs())
		if err != nil {
			return err
		}
		if err = w.Load(ctx, name, schema, rows); err != nil {
			return err
		}
	}
	return nil
}

// Checkout loads the tables of an image in the workspace of a repository, then moves HEAD to it.
//
// Uncommitted changes are discarded. Objects which are not cached locally are downloaded
// from their external locations.
func (e *Engine) Checkout(ctx context.Context, repo model.Repository, ref string) (img model.Image, err error) {
	defer func(done func(error)) { done(err) }(e.usage("Checkout"))

	hash, err := e.meta.ResolveImage(ctx, repo, ref)
	if err != nil {
		return model.Image{}, err
	}
	img, err = e.meta.GetImage(ctx, repo, hash)
	if err != nil {
		return model.Image{}, err
	}
	if err = e.loadTables(ctx, repo, img.Tables, true); err != nil {
		return model.Image{}, err
	}
	if err = e.meta.SetTag(ctx, repo, hash, model.HeadTag); err != nil {
		return model.Image{}, err
	}
	e.l.Info("image checked out", zap.Stringer("repository", repo), zap.String("image", hash))
	return img, nil
}

// Materialize the content of a table of some image, without touching the workspace
func (e *Engine) Materialize(ctx context.Context, repo model.Repository, ref, table string) (model.Schema, []cafs.Row, error) {
	hash, err := e.meta.ResolveImage(ctx, repo, ref)
	if err != nil {
		return nil, nil, err
	}
	img, err := e.meta.GetImage(ctx, repo, hash)
	if err != nil {
		return nil, nil, err
	}
	entry, ok := img.Tables[table]
	if !ok {
		return nil, nil, status.ErrNotFound.Wrapf("table %s in image %s of %s", table, model.ShortHash(hash), repo)
	}
	if err = e.ensureLocal(ctx, entry.ObjectIDs()); err != nil {
		return nil, nil, err
	}
	return e.cache.Materialize(ctx, entry.ObjectIDs())
}
