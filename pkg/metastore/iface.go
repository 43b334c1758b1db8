package metastore

import (
	"context"

	"github.com/oneconcern/tablemon/pkg/model"
)

// ObjectStore tracks the existence, metadata and external locations of content-addressed objects
type ObjectStore interface {
	RegisterObjects(context.Context, []model.ObjectMeta) error
	GetObjectMeta(context.Context, []string) (map[string]model.ObjectMeta, error)
	GetRequiredObjects(context.Context, string) ([]string, error)
	RegisterObjectLocations(context.Context, []model.ObjectLocation) error
	GetObjectLocations(context.Context, []string) (map[string][]model.ObjectLocation, error)
	GetAllObjects(context.Context) ([]string, error)
	GetReferencedObjects(context.Context) ([]string, error)
	DeleteObjects(context.Context, []string) error
}

// ImageGraph keeps track of repositories, images and tags
type ImageGraph interface {
	CreateRepository(context.Context, model.Repository) error
	InitRepository(context.Context, model.Repository, model.Image) error
	RepositoryExists(context.Context, model.Repository) (bool, error)
	ListRepositories(context.Context) ([]model.Repository, error)
	DeleteRepository(context.Context, model.Repository) error

	AddImage(context.Context, model.Repository, model.Image) error
	GetImage(context.Context, model.Repository, string) (model.Image, error)
	GetImages(context.Context, model.Repository) ([]model.Image, error)
	ImageExists(context.Context, model.Repository, string) (bool, error)
	ResolveImage(context.Context, model.Repository, string) (string, error)
	GetAllChildImages(context.Context, model.Repository, string) ([]string, error)
	GetAllParentImages(context.Context, model.Repository, []string) ([]string, error)
	DeleteImages(context.Context, model.Repository, []string, bool) error
	Log(context.Context, model.Repository, string) ([]model.Image, error)

	GetAllHashesTags(context.Context, model.Repository) ([]model.TagBinding, error)
	GetTag(context.Context, model.Repository, string) (string, error)
	SetTag(context.Context, model.Repository, string, string) error
	DeleteTag(context.Context, model.Repository, string) error
}

// MetaStore is the complete metadata store
type MetaStore interface {
	ObjectStore
	ImageGraph
	Close() error
}

var _ MetaStore = &Store{}
