package core

import (
	"context"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/zap"
)

// Init creates a repository, with the root image checked out.
//
// Initializing a repository which already has a HEAD is a no-op. A repository left
// without its root image or its HEAD is completed.
func (e *Engine) Init(ctx context.Context, repo model.Repository) (err error) {
	defer func(done func(error)) { done(err) }(e.usage("Init"))

	_, err = e.meta.GetTag(ctx, repo, model.HeadTag)
	switch {
	case err == nil:
		e.l.Debug("repository already initialized", zap.Stringer("repository", repo))
		return nil
	case !errors.Is(err, status.ErrNotFound):
		return err
	}

	if err = e.meta.InitRepository(ctx, repo, model.Image{
		Hash:    model.ZeroHash,
		Created: model.ImageTimeStamp(),
		Tables:  make(model.Tables),
	}); err != nil {
		return err
	}

	w, err := e.workspaces.Open(repo)
	if err != nil {
		return err
	}
	if err = w.Reset(ctx); err != nil {
		return err
	}
	e.l.Info("repository initialized", zap.Stringer("repository", repo))
	return nil
}

// Exists tells if a repository is known
func (e *Engine) Exists(ctx context.Context, repo model.Repository) (bool, error) {
	return e.meta.RepositoryExists(ctx, repo)
}

// Repositories lists all known repositories
func (e *Engine) Repositories(ctx context.Context) ([]model.Repository, error) {
	return e.meta.ListRepositories(ctx)
}

// Rm deletes a whole repository with its images, tags and workspace, after confirmation.
//
// Objects are left in place, until reclaimed by CleanupObjects.
func (e *Engine) Rm(ctx context.Context, repo model.Repository, confirm Confirm) (plan DeletionPlan, err error) {
	defer func(done func(error)) { done(err) }(e.usage("Rm"))

	images, err := e.meta.GetImages(ctx, repo)
	if err != nil {
		return DeletionPlan{}, err
	}
	bindings, err := e.meta.GetAllHashesTags(ctx, repo)
	if err != nil {
		return DeletionPlan{}, err
	}
	plan = DeletionPlan{
		Repository: repo,
		Images:     model.Images(images).Hashes(),
		Tags:       tagNames(bindings),
		Whole:      true,
	}
	if !confirmed(confirm, plan) {
		return plan, status.ErrAborted
	}

	if err = e.meta.DeleteRepository(ctx, repo); err != nil {
		return plan, err
	}
	if err = e.workspaces.Remove(repo); err != nil {
		return plan, err
	}
	e.l.Info("repository removed", zap.Stringer("repository", repo), zap.Int("images", len(plan.Images)))
	return plan, nil
}
