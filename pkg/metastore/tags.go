package metastore

import (
	"context"
	"database/sql"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/model"
)

// GetAllHashesTags enumerates all tag bindings of a repository, including HEAD
func (s *Store) GetAllHashesTags(ctx context.Context, repo model.Repository) ([]model.TagBinding, error) {
	return getAllHashesTags(ctx, s.db, repo)
}

func getAllHashesTags(ctx context.Context, q querier, repo model.Repository) ([]model.TagBinding, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT image_hash, tag FROM tags
		WHERE namespace = ? AND repository = ?
		ORDER BY tag
	`, repo.Namespace, repo.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []model.TagBinding
	for rows.Next() {
		var b model.TagBinding
		if err := rows.Scan(&b.Image, &b.Tag); err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// GetTag returns the image bound to a tag
func (s *Store) GetTag(ctx context.Context, repo model.Repository, tag string) (string, error) {
	return getTag(ctx, s.db, repo, tag)
}

func getTag(ctx context.Context, q querier, repo model.Repository, tag string) (string, error) {
	var hash string
	err := q.QueryRowContext(ctx, `
		SELECT image_hash FROM tags WHERE namespace = ? AND repository = ? AND tag = ?
	`, repo.Namespace, repo.Name, tag).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", status.ErrNotFound.Wrapf("tag %s in repository %s", tag, repo)
	}
	return hash, err
}

// SetTag binds a tag to an image, replacing any previous binding
func (s *Store) SetTag(ctx context.Context, repo model.Repository, image, tag string) error {
	if err := model.ValidateTag(tag); err != nil {
		return status.ErrInvalidArgument.Wrap(err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := imageExists(ctx, tx, repo, image)
		if err != nil {
			return err
		}
		if !exists {
			return status.ErrNotFound.Wrapf("image %s in repository %s", image, repo)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tags (namespace, repository, image_hash, tag) VALUES (?, ?, ?, ?)
			ON CONFLICT (namespace, repository, tag) DO UPDATE SET image_hash = excluded.image_hash
		`, repo.Namespace, repo.Name, image, tag)
		return err
	})
}

// DeleteTag removes a tag binding
func (s *Store) DeleteTag(ctx context.Context, repo model.Repository, tag string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tags WHERE namespace = ? AND repository = ? AND tag = ?
	`, repo.Namespace, repo.Name, tag)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return status.ErrNotFound.Wrapf("tag %s in repository %s", tag, repo)
	}
	return nil
}
