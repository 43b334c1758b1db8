package metastore

import (
	"context"
	"database/sql"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/zap"
)

// CreateRepository registers a new repository. Creating an existing repository is a no-op.
func (s *Store) CreateRepository(ctx context.Context, repo model.Repository) error {
	if err := repo.Validate(); err != nil {
		return status.ErrInvalidArgument.Wrap(err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (namespace, repository) VALUES (?, ?)
		ON CONFLICT (namespace, repository) DO NOTHING
	`, repo.Namespace, repo.Name)
	return err
}

// InitRepository registers a repository with its root image, checked out as HEAD, in a single transaction.
//
// Whatever part of this already exists is kept: an existing HEAD is not moved.
func (s *Store) InitRepository(ctx context.Context, repo model.Repository, root model.Image) error {
	if err := repo.Validate(); err != nil {
		return status.ErrInvalidArgument.Wrap(err)
	}
	if !model.IsValidHash(root.Hash) || root.Parent != "" || len(root.Tables) > 0 {
		return status.ErrInvalidArgument.Wrapf("invalid root image %q", root.Hash)
	}
	if root.Created.IsZero() {
		root.Created = model.ImageTimeStamp()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO repositories (namespace, repository) VALUES (?, ?)
			ON CONFLICT (namespace, repository) DO NOTHING
		`, repo.Namespace, repo.Name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO images (namespace, repository, image_hash, parent_id, created, comment)
			VALUES (?, ?, ?, NULL, ?, ?)
			ON CONFLICT (namespace, repository, image_hash) DO NOTHING
		`, repo.Namespace, repo.Name, root.Hash, root.Created.UTC().Format(timeLayout), root.Comment); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags (namespace, repository, image_hash, tag) VALUES (?, ?, ?, ?)
			ON CONFLICT (namespace, repository, tag) DO NOTHING
		`, repo.Namespace, repo.Name, root.Hash, model.HeadTag); err != nil {
			return err
		}
		s.l.Debug("repository initialized", zap.Stringer("repository", repo), zap.String("root", root.Hash))
		return nil
	})
}

// RepositoryExists tells if a repository is registered
func (s *Store) RepositoryExists(ctx context.Context, repo model.Repository) (bool, error) {
	return repositoryExists(ctx, s.db, repo)
}

func repositoryExists(ctx context.Context, q querier, repo model.Repository) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM repositories WHERE namespace = ? AND repository = ?
	`, repo.Namespace, repo.Name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func mustExist(ctx context.Context, q querier, repo model.Repository) error {
	exists, err := repositoryExists(ctx, q, repo)
	if err != nil {
		return err
	}
	if !exists {
		return status.ErrNotFound.Wrapf("repository %s", repo)
	}
	return nil
}

// ListRepositories lists all known repositories, sorted by namespace and name
func (s *Store) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, repository FROM repositories ORDER BY namespace, repository
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		var r model.Repository
		if err := rows.Scan(&r.Namespace, &r.Name); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// DeleteRepository removes a repository with all its images and tags.
//
// Objects are left in place: they are reclaimed by the garbage collector.
func (s *Store) DeleteRepository(ctx context.Context, repo model.Repository) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := mustExist(ctx, tx, repo); err != nil {
			return err
		}
		for _, table := range []string{"tags", "tables", "images", "repositories"} {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE namespace = ? AND repository = ?`,
				repo.Namespace, repo.Name,
			); err != nil {
				return err
			}
		}
		s.l.Info("repository deleted", zap.Stringer("repository", repo))
		return nil
	})
}
