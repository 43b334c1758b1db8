package remote

import (
	"context"

	"github.com/oneconcern/tablemon/pkg/model"
)

// RemoteObject describes an object known to the remote end, with its external locations
type RemoteObject struct {
	model.ObjectMeta `json:",inline" yaml:",inline"`
	Locations        []model.ObjectLocation `json:"locations,omitempty" yaml:"locations,omitempty"`
}

// Remote is the metadata endpoint of the other end of a sync.
//
// All operations are idempotent. Putting an image or an object that exists with
// a different content is an integrity violation.
type Remote interface {
	// GetImages lists the images of a repository, parents first. A missing repository has no image.
	GetImages(context.Context, model.Repository) ([]model.Image, error)

	// PutImage registers an image, creating the repository if needed
	PutImage(context.Context, model.Repository, model.Image) error

	// ExpandObjectTree lists an object and all the objects it depends on, dependencies first
	ExpandObjectTree(context.Context, string) ([]string, error)

	// GetObjects describes the objects known to the remote, among the ones requested
	GetObjects(context.Context, []string) (map[string]RemoteObject, error)

	// PutObjects registers objects and their locations
	PutObjects(context.Context, []RemoteObject) error

	GetTags(context.Context, model.Repository) ([]model.TagBinding, error)
	PutTags(context.Context, model.Repository, []model.TagBinding) error
}

// Metas extracts object metadata
func Metas(objects []RemoteObject) []model.ObjectMeta {
	metas := make([]model.ObjectMeta, len(objects))
	for i, o := range objects {
		metas[i] = o.ObjectMeta
	}
	return metas
}

// Locations flattens object locations
func Locations(objects []RemoteObject) []model.ObjectLocation {
	var locations []model.ObjectLocation
	for _, o := range objects {
		locations = append(locations, o.Locations...)
	}
	return locations
}
