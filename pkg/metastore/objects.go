package metastore

import (
	"context"
	"database/sql"
	"sort"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/zap"
)

// RegisterObjects registers the metadata of a batch of objects.
//
// Registering an object again with the same metadata is a no-op.
// The whole batch fails with an integrity violation if an object is already registered
// with different metadata, or if the parent of an object is not registered.
func (s *Store) RegisterObjects(ctx context.Context, objects []model.ObjectMeta) error {
	if len(objects) == 0 {
		return nil
	}
	for _, o := range objects {
		if !model.IsValidHash(o.ID) {
			return status.ErrInvalidArgument.Wrapf("invalid object ID %q", o.ID)
		}
		if o.Format != model.FormatSnapshot && o.Format != model.FormatDiff {
			return status.ErrInvalidArgument.Wrapf("invalid format %q for object %s", o.Format, o.ID)
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		ids := make([]string, 0, len(objects))
		for _, o := range objects {
			ids = append(ids, o.ID)
		}
		existing, err := getObjectMeta(ctx, tx, ids)
		if err != nil {
			return err
		}

		insertObject, err := tx.PrepareContext(ctx, `
			INSERT INTO objects (object_id, format, namespace, size) VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer insertObject.Close()

		insertParent, err := tx.PrepareContext(ctx, `
			INSERT INTO object_parents (object_id, parent_id) VALUES (?, ?)
			ON CONFLICT (object_id, parent_id) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer insertParent.Close()

		var (
			registered int
			parents    []string
		)
		for _, o := range objects {
			if prev, ok := existing[o.ID]; ok {
				if !prev.SameContent(o) {
					return status.ErrIntegrityViolation.Wrapf("object %s is already registered with different metadata", o.ID)
				}
				continue
			}
			if _, err := insertObject.ExecContext(ctx, o.ID, o.Format, o.Namespace, o.Size); err != nil {
				return err
			}
			for _, parent := range model.SortedSet(o.Parents) {
				if _, err := insertParent.ExecContext(ctx, o.ID, parent); err != nil {
					return err
				}
				parents = append(parents, parent)
			}
			existing[o.ID] = o
			registered++
		}

		parents = model.SortedSet(parents)
		known, err := knownObjects(ctx, tx, parents)
		if err != nil {
			return err
		}
		for _, parent := range parents {
			if _, ok := known[parent]; !ok {
				return status.ErrIntegrityViolation.Wrapf("parent object %s is not registered", parent)
			}
		}

		s.l.Debug("objects registered", zap.Int("objects", registered), zap.Int("batch", len(objects)))
		return nil
	})
}

// knownObjects returns the subset of registered objects
func knownObjects(ctx context.Context, q querier, ids []string) (map[string]struct{}, error) {
	known := make(map[string]struct{}, len(ids))
	for _, chunk := range chunks(ids) {
		found, err := queryStrings(ctx, q, `
			SELECT object_id FROM objects WHERE object_id IN (`+placeholders(len(chunk))+`)
		`, args(nil, chunk)...)
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			known[id] = struct{}{}
		}
	}
	return known, nil
}

// GetObjectMeta returns the metadata of registered objects. Unknown objects are omitted.
func (s *Store) GetObjectMeta(ctx context.Context, ids []string) (map[string]model.ObjectMeta, error) {
	return getObjectMeta(ctx, s.db, model.SortedSet(ids))
}

func getObjectMeta(ctx context.Context, q querier, ids []string) (map[string]model.ObjectMeta, error) {
	res := make(map[string]model.ObjectMeta, len(ids))
	for _, chunk := range chunks(ids) {
		if err := func() error {
			rows, err := q.QueryContext(ctx, `
				SELECT object_id, format, namespace, size FROM objects
				WHERE object_id IN (`+placeholders(len(chunk))+`)
			`, args(nil, chunk)...)
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var o model.ObjectMeta
				if err := rows.Scan(&o.ID, &o.Format, &o.Namespace, &o.Size); err != nil {
					return err
				}
				res[o.ID] = o
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}

		if err := func() error {
			rows, err := q.QueryContext(ctx, `
				SELECT object_id, parent_id FROM object_parents
				WHERE object_id IN (`+placeholders(len(chunk))+`)
				ORDER BY object_id, parent_id
			`, args(nil, chunk)...)
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var id, parent string
				if err := rows.Scan(&id, &parent); err != nil {
					return err
				}
				o := res[id]
				o.Parents = append(o.Parents, parent)
				res[id] = o
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// GetRequiredObjects expands the delta-parent chain of an object.
//
// The result includes the object itself, and lists dependencies before the objects
// that depend on them.
func (s *Store) GetRequiredObjects(ctx context.Context, id string) ([]string, error) {
	var (
		res     []string
		visited = make(map[string]struct{})
	)

	var visit func(string) error
	visit = func(current string) error {
		if _, ok := visited[current]; ok {
			return nil
		}
		visited[current] = struct{}{}

		meta, err := getObjectMeta(ctx, s.db, []string{current})
		if err != nil {
			return err
		}
		o, ok := meta[current]
		if !ok {
			return status.ErrNotFound.Wrapf("object %s is not registered", current)
		}
		for _, parent := range o.Parents {
			if err := visit(parent); err != nil {
				return err
			}
		}
		res = append(res, current)
		return nil
	}

	if err := visit(id); err != nil {
		return nil, err
	}
	return res, nil
}

// RegisterObjectLocations records external locations of objects. Known locations are ignored.
func (s *Store) RegisterObjectLocations(ctx context.Context, locations []model.ObjectLocation) error {
	if len(locations) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO object_locations (object_id, location, handler) VALUES (?, ?, ?)
			ON CONFLICT (object_id, location, handler) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, loc := range locations {
			if !model.IsValidHash(loc.ObjectID) || loc.Location == "" || loc.Handler == "" {
				return status.ErrInvalidArgument.Wrapf("invalid location %q for object %q with handler %q", loc.Location, loc.ObjectID, loc.Handler)
			}
			if _, err := stmt.ExecContext(ctx, loc.ObjectID, loc.Location, loc.Handler); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetObjectLocations returns the external locations known for some objects
func (s *Store) GetObjectLocations(ctx context.Context, ids []string) (map[string][]model.ObjectLocation, error) {
	res := make(map[string][]model.ObjectLocation, len(ids))
	for _, chunk := range chunks(model.SortedSet(ids)) {
		if err := func() error {
			rows, err := s.db.QueryContext(ctx, `
				SELECT object_id, location, handler FROM object_locations
				WHERE object_id IN (`+placeholders(len(chunk))+`)
				ORDER BY object_id, handler, location
			`, args(nil, chunk)...)
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var loc model.ObjectLocation
				if err := rows.Scan(&loc.ObjectID, &loc.Location, &loc.Handler); err != nil {
					return err
				}
				res[loc.ObjectID] = append(res[loc.ObjectID], loc)
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// GetAllObjects lists all registered objects
func (s *Store) GetAllObjects(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, s.db, `SELECT object_id FROM objects ORDER BY object_id`)
}

// GetReferencedObjects lists the objects referenced by the table mappings of any image, in any repository
func (s *Store) GetReferencedObjects(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, s.db, `SELECT DISTINCT object_id FROM tables ORDER BY object_id`)
}

// DeleteObjects removes the metadata and locations of objects, atomically.
//
// Objects still referenced by an image, or still required as the parent of
// a remaining object, are protected by a consistency guard.
func (s *Store) DeleteObjects(ctx context.Context, ids []string) error {
	ids = model.SortedSet(ids)
	if len(ids) == 0 {
		return nil
	}
	target := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		target[id] = struct{}{}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range chunks(ids) {
			referenced, err := queryStrings(ctx, tx, `
				SELECT DISTINCT object_id FROM tables WHERE object_id IN (`+placeholders(len(chunk))+`)
			`, args(nil, chunk)...)
			if err != nil {
				return err
			}
			if len(referenced) > 0 {
				sort.Strings(referenced)
				return status.ErrConsistencyGuard.Wrapf("object %s is still referenced by an image", referenced[0])
			}

			dependents, err := queryStrings(ctx, tx, `
				SELECT object_id FROM object_parents WHERE parent_id IN (`+placeholders(len(chunk))+`)
			`, args(nil, chunk)...)
			if err != nil {
				return err
			}
			for _, dependent := range dependents {
				if _, ok := target[dependent]; !ok {
					return status.ErrConsistencyGuard.Wrapf("object %s is still required by object %s", chunk[0], dependent)
				}
			}
		}

		for _, chunk := range chunks(ids) {
			params := args(nil, chunk)
			for _, table := range []string{"object_locations", "object_parents", "objects"} {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM `+table+` WHERE object_id IN (`+placeholders(len(chunk))+`)`,
					params...,
				); err != nil {
					return err
				}
			}
		}

		s.l.Info("objects deleted", zap.Int("objects", len(ids)))
		return nil
	})
}
