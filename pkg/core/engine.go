package core

import (
	"context"
	"time"

	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/dlogger"
	"github.com/oneconcern/tablemon/pkg/handlers"
	"github.com/oneconcern/tablemon/pkg/metastore"
	"github.com/oneconcern/tablemon/pkg/metrics"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/oneconcern/tablemon/pkg/workspace"
	"go.uber.org/zap"
)

// Engine manages the repositories of a metadata store, with their local fragments and workspaces
type Engine struct {
	metrics.Enable
	m *M

	meta       metastore.MetaStore
	cache      *cafs.Cache
	workspaces *workspace.Manager
	handlers   *handlers.Registry
	l          *zap.Logger
}

// New engine
func New(meta metastore.MetaStore, cache *cafs.Cache, workspaces *workspace.Manager, opts ...Option) *Engine {
	e := &Engine{
		meta:       meta,
		cache:      cache,
		workspaces: workspaces,
		l:          dlogger.MustGetLogger("info"),
	}
	for _, apply := range opts {
		apply(e)
	}
	if e.handlers == nil {
		e.handlers = handlers.NewRegistry(handlers.WithLogger(e.l))
	}
	if e.MetricsEnabled() {
		e.m = e.EnsureMetrics("core", &M{}).(*M)
	}
	return e
}

// MetaStore of the engine
func (e *Engine) MetaStore() metastore.MetaStore {
	return e.meta
}

// Cache of local fragments
func (e *Engine) Cache() *cafs.Cache {
	return e.cache
}

// Handlers resolves external handlers
func (e *Engine) Handlers() *handlers.Registry {
	return e.handlers
}

// Workspace of a repository
func (e *Engine) Workspace(repo model.Repository) (*workspace.Workspace, error) {
	return e.workspaces.Open(repo)
}

func (e *Engine) usage(method string) func(error) {
	if e.m == nil {
		return func(error) {}
	}
	return e.m.Usage.UsedAll(time.Now(), method)
}

// Head returns the image currently checked out in a repository
func (e *Engine) Head(ctx context.Context, repo model.Repository) (model.Image, error) {
	hash, err := e.meta.GetTag(ctx, repo, model.HeadTag)
	if err != nil {
		return model.Image{}, err
	}
	return e.meta.GetImage(ctx, repo, hash)
}

// Resolve a tag or hash prefix in a repository
func (e *Engine) Resolve(ctx context.Context, repo model.Repository, ref string) (string, error) {
	return e.meta.ResolveImage(ctx, repo, ref)
}

// ensureLocal makes sure that objects are materialized in the local cache.
//
// Missing objects are downloaded with the handler of their first location that can be resolved.
func (e *Engine) ensureLocal(ctx context.Context, ids []string) error {
	var missing []string
	for _, id := range model.SortedSet(ids) {
		has, err := e.cache.Has(ctx, id)
		if err != nil {
			return err
		}
		if !has {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	locations, err := e.meta.GetObjectLocations(ctx, missing)
	if err != nil {
		return err
	}

	byHandler := make(map[string][]model.ObjectLocation)
	resolved := make(map[string]handlers.Handler)
	for _, id := range missing {
		var found bool
		for _, loc := range locations[id] {
			h, ok := resolved[loc.Handler]
			if !ok {
				var erh error
				if h, erh = e.handlers.Get(loc.Handler, e.cache); erh != nil {
					e.l.Warn("cannot resolve external handler", zap.String("handler", loc.Handler), zap.Error(erh))
					continue
				}
				resolved[loc.Handler] = h
			}
			byHandler[h.Name()] = append(byHandler[h.Name()], loc)
			found = true
			break
		}
		if !found {
			return status.ErrTransferFailure.Wrapf("object %s is not cached and has no usable external location", id)
		}
	}

	for name, locs := range byHandler {
		e.l.Info("downloading objects", zap.String("handler", name), zap.Int("objects", len(locs)))
		if err := resolved[name].DownloadObjects(ctx, locs); err != nil {
			return err
		}
		e.countObjects(len(locs), "download")
	}
	return nil
}

// Download materializes objects in the local cache, fetching them from their external locations when needed
func (e *Engine) Download(ctx context.Context, ids []string) error {
	return e.ensureLocal(ctx, ids)
}
