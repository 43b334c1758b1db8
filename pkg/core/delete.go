package core

import (
	"context"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/zap"
)

// DeletionPlan enumerates what a destructive operation is about to delete
type DeletionPlan struct {
	Repository model.Repository `json:"repository" yaml:"repository"`
	Images     []string         `json:"images,omitempty" yaml:"images,omitempty"`
	Tags       []string         `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Whole is set when the repository itself is deleted
	Whole bool `json:"whole,omitempty" yaml:"whole,omitempty"`
}

// Empty plan
func (p DeletionPlan) Empty() bool {
	return len(p.Images) == 0 && len(p.Tags) == 0 && !p.Whole
}

// Confirm is asked to approve a deletion plan before anything is deleted
type Confirm func(DeletionPlan) bool

// AlwaysConfirm approves all deletions
func AlwaysConfirm(DeletionPlan) bool { return true }

func confirmed(confirm Confirm, plan DeletionPlan) bool {
	if confirm == nil {
		return false
	}
	return confirm(plan)
}

// RmImage deletes an image with all its descendants and the tags bound to them, after confirmation.
//
// The deletion is refused when the image checked out in the repository would be deleted.
func (e *Engine) RmImage(ctx context.Context, repo model.Repository, ref string, confirm Confirm) (plan DeletionPlan, err error) {
	defer func(done func(error)) { done(err) }(e.usage("RmImage"))

	hash, err := e.meta.ResolveImage(ctx, repo, ref)
	if err != nil {
		return DeletionPlan{}, err
	}
	images, err := e.meta.GetAllChildImages(ctx, repo, hash)
	if err != nil {
		return DeletionPlan{}, err
	}
	bindings, err := e.meta.GetAllHashesTags(ctx, repo)
	if err != nil {
		return DeletionPlan{}, err
	}

	target := make(map[string]struct{}, len(images))
	for _, h := range images {
		target[h] = struct{}{}
	}
	var affected []model.TagBinding
	for _, b := range bindings {
		if _, ok := target[b.Image]; !ok {
			continue
		}
		if b.Tag == model.HeadTag {
			return DeletionPlan{}, status.ErrConsistencyGuard.Wrapf(
				"deletion will affect a checked-out image: %s is %s in %s, check out another image first",
				model.ShortHash(b.Image), model.HeadTag, repo)
		}
		affected = append(affected, b)
	}

	plan = DeletionPlan{
		Repository: repo,
		Images:     images,
		Tags:       tagNames(affected),
	}
	if !confirmed(confirm, plan) {
		return plan, status.ErrAborted
	}
	if err = e.meta.DeleteImages(ctx, repo, images, true); err != nil {
		return plan, err
	}
	e.countImages(len(images), "delete")
	e.l.Info("images removed", zap.Stringer("repository", repo), zap.Int("images", len(images)), zap.Strings("tags", plan.Tags))
	return plan, nil
}

// Prune deletes the dangling images of a repository, after confirmation.
//
// An image is dangling when it is not an ancestor of any tagged image. When there is
// no dangling image, Prune returns an empty plan without asking for confirmation.
func (e *Engine) Prune(ctx context.Context, repo model.Repository, confirm Confirm) (plan DeletionPlan, err error) {
	defer func(done func(error)) { done(err) }(e.usage("Prune"))

	images, err := e.meta.GetImages(ctx, repo)
	if err != nil {
		return DeletionPlan{}, err
	}
	bindings, err := e.meta.GetAllHashesTags(ctx, repo)
	if err != nil {
		return DeletionPlan{}, err
	}
	tagged := make([]string, 0, len(bindings))
	for _, b := range bindings {
		tagged = append(tagged, b.Image)
	}
	reachable, err := e.meta.GetAllParentImages(ctx, repo, model.SortedSet(tagged))
	if err != nil {
		return DeletionPlan{}, err
	}
	keep := make(map[string]struct{}, len(reachable))
	for _, h := range reachable {
		keep[h] = struct{}{}
	}

	plan = DeletionPlan{Repository: repo}
	for _, img := range images {
		if _, ok := keep[img.Hash]; !ok {
			plan.Images = append(plan.Images, img.Hash)
		}
	}
	if len(plan.Images) == 0 {
		e.l.Info("nothing to prune", zap.Stringer("repository", repo))
		return plan, nil
	}
	if !confirmed(confirm, plan) {
		return plan, status.ErrAborted
	}
	if err = e.meta.DeleteImages(ctx, repo, plan.Images, false); err != nil {
		return plan, err
	}
	e.countImages(len(plan.Images), "prune")
	e.l.Info("dangling images pruned", zap.Stringer("repository", repo), zap.Int("images", len(plan.Images)))
	return plan, nil
}
