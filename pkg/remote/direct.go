package remote

import (
	"context"

	"github.com/oneconcern/tablemon/pkg/metastore"
	"github.com/oneconcern/tablemon/pkg/model"
)

var _ Remote = &directRemote{}

type directRemote struct {
	store metastore.MetaStore
}

// Direct exposes another metadata store as a remote
func Direct(store metastore.MetaStore) Remote {
	return &directRemote{store: store}
}

func (d *directRemote) String() string {
	if s, ok := d.store.(interface{ String() string }); ok {
		return s.String()
	}
	return "direct"
}

func (d *directRemote) GetImages(ctx context.Context, repo model.Repository) ([]model.Image, error) {
	exists, err := d.store.RepositoryExists(ctx, repo)
	if err != nil || !exists {
		return nil, err
	}
	return d.store.GetImages(ctx, repo)
}

func (d *directRemote) PutImage(ctx context.Context, repo model.Repository, img model.Image) error {
	if err := d.store.CreateRepository(ctx, repo); err != nil {
		return err
	}
	return d.store.AddImage(ctx, repo, img)
}

func (d *directRemote) ExpandObjectTree(ctx context.Context, id string) ([]string, error) {
	return d.store.GetRequiredObjects(ctx, id)
}

func (d *directRemote) GetObjects(ctx context.Context, ids []string) (map[string]RemoteObject, error) {
	metas, err := d.store.GetObjectMeta(ctx, ids)
	if err != nil {
		return nil, err
	}
	locations, err := d.store.GetObjectLocations(ctx, model.SetKeys(keys(metas)))
	if err != nil {
		return nil, err
	}
	res := make(map[string]RemoteObject, len(metas))
	for id, meta := range metas {
		res[id] = RemoteObject{ObjectMeta: meta, Locations: locations[id]}
	}
	return res, nil
}

func (d *directRemote) PutObjects(ctx context.Context, objects []RemoteObject) error {
	if err := d.store.RegisterObjects(ctx, Metas(objects)); err != nil {
		return err
	}
	return d.store.RegisterObjectLocations(ctx, Locations(objects))
}

func (d *directRemote) GetTags(ctx context.Context, repo model.Repository) ([]model.TagBinding, error) {
	exists, err := d.store.RepositoryExists(ctx, repo)
	if err != nil || !exists {
		return nil, err
	}
	return d.store.GetAllHashesTags(ctx, repo)
}

func (d *directRemote) PutTags(ctx context.Context, repo model.Repository, bindings []model.TagBinding) error {
	for _, b := range bindings {
		if err := d.store.SetTag(ctx, repo, b.Image, b.Tag); err != nil {
			return err
		}
	}
	return nil
}

func keys(metas map[string]model.ObjectMeta) map[string]struct{} {
	set := make(map[string]struct{}, len(metas))
	for id := range metas {
		set[id] = struct{}{}
	}
	return set
}
