package core

import (
	"context"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/zap"
)

// Tag binds a tag to an image. HEAD is moved with Checkout only.
func (e *Engine) Tag(ctx context.Context, repo model.Repository, ref, tag string) (string, error) {
	if tag == model.HeadTag {
		return "", status.ErrInvalidArgument.Wrapf("%s may only be moved by a checkout", model.HeadTag)
	}
	hash, err := e.meta.ResolveImage(ctx, repo, ref)
	if err != nil {
		return "", err
	}
	if err = e.meta.SetTag(ctx, repo, hash, tag); err != nil {
		return "", err
	}
	e.l.Info("image tagged", zap.Stringer("repository", repo), zap.String("image", hash), zap.String("tag", tag))
	return hash, nil
}

// Untag removes a tag
func (e *Engine) Untag(ctx context.Context, repo model.Repository, tag string) error {
	if tag == model.HeadTag {
		return status.ErrInvalidArgument.Wrapf("%s cannot be removed", model.HeadTag)
	}
	return e.meta.DeleteTag(ctx, repo, tag)
}

// Tags lists the tag bindings of a repository, including HEAD
func (e *Engine) Tags(ctx context.Context, repo model.Repository) ([]model.TagBinding, error) {
	return e.meta.GetAllHashesTags(ctx, repo)
}

// ImageInfo describes an image with the tags bound to it
type ImageInfo struct {
	model.Image `yaml:",inline"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Log lists the images from some image back to the root of the repository
func (e *Engine) Log(ctx context.Context, repo model.Repository, ref string) ([]ImageInfo, error) {
	hash, err := e.meta.ResolveImage(ctx, repo, ref)
	if err != nil {
		return nil, err
	}
	chain, err := e.meta.Log(ctx, repo, hash)
	if err != nil {
		return nil, err
	}
	tags, err := e.tagsByImage(ctx, repo)
	if err != nil {
		return nil, err
	}
	infos := make([]ImageInfo, 0, len(chain))
	for _, img := range chain {
		infos = append(infos, ImageInfo{Image: img, Tags: tags[img.Hash]})
	}
	return infos, nil
}

// Show describes an image
func (e *Engine) Show(ctx context.Context, repo model.Repository, ref string) (ImageInfo, error) {
	hash, err := e.meta.ResolveImage(ctx, repo, ref)
	if err != nil {
		return ImageInfo{}, err
	}
	img, err := e.meta.GetImage(ctx, repo, hash)
	if err != nil {
		return ImageInfo{}, err
	}
	tags, err := e.tagsByImage(ctx, repo)
	if err != nil {
		return ImageInfo{}, err
	}
	return ImageInfo{Image: img, Tags: tags[hash]}, nil
}

func (e *Engine) tagsByImage(ctx context.Context, repo model.Repository) (map[string][]string, error) {
	bindings, err := e.meta.GetAllHashesTags(ctx, repo)
	if err != nil {
		return nil, err
	}
	res := make(map[string][]string, len(bindings))
	for _, b := range bindings {
		res[b.Image] = append(res[b.Image], b.Tag)
	}
	return res, nil
}

func tagNames(bindings []model.TagBinding) []string {
	names := make([]string, 0, len(bindings))
	for _, b := range bindings {
		names = append(names, b.Tag)
	}
	return model.SortedSet(names)
}
