package metastore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/zap"
)

// AddImage registers a new image with its table mapping.
//
// Adding an image that already exists with the same parent and tables is a no-op.
// It fails with an integrity violation if the image exists with different content,
// if its parent is unknown, or if it references unregistered objects.
func (s *Store) AddImage(ctx context.Context, repo model.Repository, img model.Image) error {
	if !model.IsValidHash(img.Hash) {
		return status.ErrInvalidArgument.Wrapf("invalid image hash %q", img.Hash)
	}
	if img.Parent != "" && !model.IsValidHash(img.Parent) {
		return status.ErrInvalidArgument.Wrapf("invalid parent hash %q", img.Parent)
	}
	if img.Created.IsZero() {
		img.Created = model.ImageTimeStamp()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := mustExist(ctx, tx, repo); err != nil {
			return err
		}

		existing, err := getImage(ctx, tx, repo, img.Hash)
		switch {
		case err == nil:
			if existing.SameContent(img) {
				s.l.Debug("image already registered", zap.Stringer("repository", repo), zap.String("image", img.Hash))
				return nil
			}
			return status.ErrIntegrityViolation.Wrapf("image %s already exists in %s with different content", img.Hash, repo)
		case !isNotFound(err):
			return err
		}

		if img.Parent != "" {
			exists, err := imageExists(ctx, tx, repo, img.Parent)
			if err != nil {
				return err
			}
			if !exists {
				return status.ErrIntegrityViolation.Wrapf("image %s has unknown parent %s", img.Hash, img.Parent)
			}
		}

		referenced := model.SetKeys(img.Tables.ObjectIDs())
		known, err := knownObjects(ctx, tx, referenced)
		if err != nil {
			return err
		}
		for _, id := range referenced {
			if _, ok := known[id]; !ok {
				return status.ErrIntegrityViolation.Wrapf("image %s references unregistered object %s", img.Hash, id)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO images (namespace, repository, image_hash, parent_id, created, comment)
			VALUES (?, ?, ?, ?, ?, ?)
		`, repo.Namespace, repo.Name, img.Hash, stringToNull(img.Parent), img.Created.UTC().Format(timeLayout), img.Comment); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tables (namespace, repository, image_hash, table_name, position, object_id, schema)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, name := range img.Tables.Names() {
			for position, ref := range img.Tables[name].Objects {
				schema, err := json.Marshal(ref.Schema)
				if err != nil {
					return err
				}
				if _, err := stmt.ExecContext(ctx, repo.Namespace, repo.Name, img.Hash, name, position, ref.ID, string(schema)); err != nil {
					return err
				}
			}
		}

		s.l.Debug("image registered",
			zap.Stringer("repository", repo),
			zap.String("image", img.Hash),
			zap.String("parent", img.Parent),
			zap.Int("tables", len(img.Tables)),
		)
		return nil
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, status.ErrNotFound)
}

// GetImage retrieves an image with its table mapping
func (s *Store) GetImage(ctx context.Context, repo model.Repository, hash string) (model.Image, error) {
	return getImage(ctx, s.db, repo, hash)
}

func getImage(ctx context.Context, q querier, repo model.Repository, hash string) (model.Image, error) {
	var (
		img     model.Image
		parent  sql.NullString
		created string
	)
	err := q.QueryRowContext(ctx, `
		SELECT image_hash, parent_id, created, comment FROM images
		WHERE namespace = ? AND repository = ? AND image_hash = ?
	`, repo.Namespace, repo.Name, hash).Scan(&img.Hash, &parent, &created, &img.Comment)
	if err == sql.ErrNoRows {
		return model.Image{}, status.ErrNotFound.Wrapf("image %s in repository %s", hash, repo)
	}
	if err != nil {
		return model.Image{}, err
	}
	img.Parent = nullToString(parent)
	if img.Created, err = time.Parse(timeLayout, created); err != nil {
		return model.Image{}, err
	}

	tables, err := getTables(ctx, q, repo, []string{hash})
	if err != nil {
		return model.Image{}, err
	}
	img.Tables = tables[hash]
	if img.Tables == nil {
		img.Tables = make(model.Tables)
	}
	return img, nil
}

// getTables loads the table mappings of a set of images
func getTables(ctx context.Context, q querier, repo model.Repository, hashes []string) (map[string]model.Tables, error) {
	res := make(map[string]model.Tables, len(hashes))
	for _, chunk := range chunks(hashes) {
		rows, err := q.QueryContext(ctx, `
			SELECT image_hash, table_name, object_id, schema FROM tables
			WHERE namespace = ? AND repository = ? AND image_hash IN (`+placeholders(len(chunk))+`)
			ORDER BY image_hash, table_name, position
		`, args([]interface{}{repo.Namespace, repo.Name}, chunk)...)
		if err != nil {
			return nil, err
		}

		for rows.Next() {
			var (
				hash, table string
				ref         model.ObjectRef
				schema      string
			)
			if err := rows.Scan(&hash, &table, &ref.ID, &schema); err != nil {
				_ = rows.Close()
				return nil, err
			}
			if err := json.Unmarshal([]byte(schema), &ref.Schema); err != nil {
				_ = rows.Close()
				return nil, err
			}
			tables, ok := res[hash]
			if !ok {
				tables = make(model.Tables)
				res[hash] = tables
			}
			entry := tables[table]
			entry.Name = table
			entry.Objects = append(entry.Objects, ref)
			tables[table] = entry
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ImageExists tells if an image is registered in a repository
func (s *Store) ImageExists(ctx context.Context, repo model.Repository, hash string) (bool, error) {
	return imageExists(ctx, s.db, repo, hash)
}

func imageExists(ctx context.Context, q querier, repo model.Repository, hash string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM images WHERE namespace = ? AND repository = ? AND image_hash = ?
	`, repo.Namespace, repo.Name, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

type imageRow struct {
	hash, parent string
	created      time.Time
	comment      string
}

// imageRows loads the headers of all images of a repository
func imageRows(ctx context.Context, q querier, repo model.Repository) ([]imageRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT image_hash, parent_id, created, comment FROM images
		WHERE namespace = ? AND repository = ?
		ORDER BY created, image_hash
	`, repo.Namespace, repo.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []imageRow
	for rows.Next() {
		var (
			r       imageRow
			parent  sql.NullString
			created string
		)
		if err := rows.Scan(&r.hash, &parent, &created, &r.comment); err != nil {
			return nil, err
		}
		r.parent = nullToString(parent)
		if r.created, err = time.Parse(timeLayout, created); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// GetImages lists all images of a repository, parents before their children
func (s *Store) GetImages(ctx context.Context, repo model.Repository) ([]model.Image, error) {
	if err := mustExist(ctx, s.db, repo); err != nil {
		return nil, err
	}
	headers, err := imageRows(ctx, s.db, repo)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, len(headers))
	for i, h := range headers {
		hashes[i] = h.hash
	}
	tables, err := getTables(ctx, s.db, repo, hashes)
	if err != nil {
		return nil, err
	}

	images := make([]model.Image, 0, len(headers))
	for _, h := range parentFirst(headers) {
		img := model.Image{
			Hash:    h.hash,
			Parent:  h.parent,
			Created: h.created,
			Comment: h.comment,
			Tables:  tables[h.hash],
		}
		if img.Tables == nil {
			img.Tables = make(model.Tables)
		}
		images = append(images, img)
	}
	return images, nil
}

// parentFirst orders images so that parents always come before their children.
//
// Siblings are ordered by creation time.
func parentFirst(headers []imageRow) []imageRow {
	known := make(map[string]struct{}, len(headers))
	children := make(map[string][]imageRow, len(headers))
	for _, h := range headers {
		known[h.hash] = struct{}{}
	}
	var queue []imageRow
	for _, h := range headers {
		if _, ok := known[h.parent]; h.parent == "" || !ok {
			queue = append(queue, h)
			continue
		}
		children[h.parent] = append(children[h.parent], h)
	}

	res := make([]imageRow, 0, len(headers))
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		res = append(res, h)
		queue = append(queue, children[h.hash]...)
	}
	return res
}

// ResolveImage resolves a tag or a unique hash prefix to a full image hash
func (s *Store) ResolveImage(ctx context.Context, repo model.Repository, ref string) (string, error) {
	if ref == "" {
		ref = model.HeadTag
	}
	if err := mustExist(ctx, s.db, repo); err != nil {
		return "", err
	}

	hash, err := getTag(ctx, s.db, repo, ref)
	if err == nil {
		return hash, nil
	}
	if !isNotFound(err) {
		return "", err
	}

	prefix := strings.ToLower(ref)
	if !model.IsHashPrefix(prefix) {
		return "", status.ErrNotFound.Wrapf("no tag or image %q in repository %s", ref, repo)
	}

	candidates, err := queryStrings(ctx, s.db, `
		SELECT image_hash FROM images
		WHERE namespace = ? AND repository = ? AND substr(image_hash, 1, ?) = ?
		LIMIT 2
	`, repo.Namespace, repo.Name, len(prefix), prefix)
	if err != nil {
		return "", err
	}
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return "", status.ErrNotFound.Wrapf("no tag or image %q in repository %s", ref, repo)
	default:
		return "", status.ErrNotFound.Wrapf("ambiguous image prefix %q in repository %s", ref, repo)
	}
}

// graph is the parent/children structure of the images of a repository
type graph struct {
	parents  map[string]string
	children map[string][]string
}

func loadGraph(ctx context.Context, q querier, repo model.Repository) (graph, error) {
	headers, err := imageRows(ctx, q, repo)
	if err != nil {
		return graph{}, err
	}
	g := graph{
		parents:  make(map[string]string, len(headers)),
		children: make(map[string][]string, len(headers)),
	}
	for _, h := range headers {
		g.parents[h.hash] = h.parent
		if h.parent != "" {
			g.children[h.parent] = append(g.children[h.parent], h.hash)
		}
	}
	return g, nil
}

// descendants is the breadth-first closure of children, including the starting image
func (g graph) descendants(hash string) []string {
	seen := map[string]struct{}{hash: {}}
	res := []string{hash}
	queue := []string{hash}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range g.children[current] {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			res = append(res, child)
			queue = append(queue, child)
		}
	}
	return res
}

// ancestors is the closure of parents of a set of images, including these images
func (g graph) ancestors(hashes []string) []string {
	seen := make(map[string]struct{}, len(hashes))
	stack := append([]string(nil), hashes...)
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[current]; ok {
			continue
		}
		if _, ok := g.parents[current]; !ok {
			continue
		}
		seen[current] = struct{}{}
		if parent := g.parents[current]; parent != "" {
			stack = append(stack, parent)
		}
	}
	return model.SetKeys(seen)
}

// GetAllChildImages returns the image and all its descendants, in breadth-first order
func (s *Store) GetAllChildImages(ctx context.Context, repo model.Repository, hash string) ([]string, error) {
	g, err := loadGraph(ctx, s.db, repo)
	if err != nil {
		return nil, err
	}
	if _, ok := g.parents[hash]; !ok {
		return nil, status.ErrNotFound.Wrapf("image %s in repository %s", hash, repo)
	}
	return g.descendants(hash), nil
}

// GetAllParentImages returns the images and all their ancestors. Unknown images are ignored.
func (s *Store) GetAllParentImages(ctx context.Context, repo model.Repository, hashes []string) ([]string, error) {
	g, err := loadGraph(ctx, s.db, repo)
	if err != nil {
		return nil, err
	}
	return g.ancestors(hashes), nil
}

// DeleteImages removes a batch of images and their table mappings, atomically.
//
// The whole batch is rejected with a consistency guard error when:
//   - the HEAD tag is bound to an image of the batch
//   - another tag is bound to an image of the batch and dropTags is false
//   - a remaining image has its parent in the batch
//
// When dropTags is true, the tags bound to images of the batch are removed too.
func (s *Store) DeleteImages(ctx context.Context, repo model.Repository, hashes []string, dropTags bool) error {
	hashes = model.SortedSet(hashes)
	if len(hashes) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := mustExist(ctx, tx, repo); err != nil {
			return err
		}
		target := make(map[string]struct{}, len(hashes))
		for _, h := range hashes {
			target[h] = struct{}{}
		}

		bindings, err := getAllHashesTags(ctx, tx, repo)
		if err != nil {
			return err
		}
		for _, b := range bindings {
			if _, ok := target[b.Image]; !ok {
				continue
			}
			if b.Tag == model.HeadTag {
				return status.ErrConsistencyGuard.Wrapf("deletion will affect a checked-out image: %s is %s in %s", b.Image, model.HeadTag, repo)
			}
			if !dropTags {
				return status.ErrConsistencyGuard.Wrapf("image %s is tagged %q in %s", b.Image, b.Tag, repo)
			}
		}

		g, err := loadGraph(ctx, tx, repo)
		if err != nil {
			return err
		}
		for child, parent := range g.parents {
			if _, deleted := target[child]; deleted {
				continue
			}
			if _, orphaned := target[parent]; orphaned {
				return status.ErrConsistencyGuard.Wrapf("image %s would lose its parent %s in %s", child, parent, repo)
			}
		}

		for _, chunk := range chunks(hashes) {
			tail := ` WHERE namespace = ? AND repository = ? AND image_hash IN (` + placeholders(len(chunk)) + `)`
			params := args([]interface{}{repo.Namespace, repo.Name}, chunk)
			for _, table := range []string{"tags", "tables", "images"} {
				if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+tail, params...); err != nil {
					return err
				}
			}
		}

		s.l.Info("images deleted", zap.Stringer("repository", repo), zap.Int("images", len(hashes)))
		return nil
	})
}

// Log returns the chain of images from some image back to its root
func (s *Store) Log(ctx context.Context, repo model.Repository, from string) ([]model.Image, error) {
	g, err := loadGraph(ctx, s.db, repo)
	if err != nil {
		return nil, err
	}
	if _, ok := g.parents[from]; !ok {
		return nil, status.ErrNotFound.Wrapf("image %s in repository %s", from, repo)
	}

	var chain []string
	seen := make(map[string]struct{})
	for current := from; current != ""; current = g.parents[current] {
		if _, ok := seen[current]; ok {
			break
		}
		if _, ok := g.parents[current]; !ok {
			break
		}
		seen[current] = struct{}{}
		chain = append(chain, current)
	}

	images := make([]model.Image, 0, len(chain))
	for _, hash := range chain {
		img, err := getImage(ctx, s.db, repo, hash)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}
