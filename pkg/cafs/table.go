package cafs

import (
	"context"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/zap"
)

// WriteTable stores the new content of a table, as a delta against its previous
// version whenever this is worth it.
//
// It returns the new table entry and the metadata of the newly created objects.
// When the content is unchanged, the previous entry is returned and no object is created.
//
// A DIFF is stored when the schema is unchanged, the chain of deltas is not too long,
// and the delta is smaller than the table. Otherwise a SNAP is stored.
func (c *Cache) WriteTable(ctx context.Context, namespace string, previous model.TableEntry, table string, schema model.Schema, rows []Row) (model.TableEntry, []model.ObjectMeta, error) {
	rows, err := NormalizeRows(rows)
	if err != nil {
		return model.TableEntry{}, nil, status.ErrInvalidArgument.Wrapf("table %s: %v", table, err)
	}

	if len(previous.Objects) > 0 {
		prevSchema, prevRows, err := c.Materialize(ctx, previous.ObjectIDs())
		switch {
		case err == nil:
			if prevSchema.Equal(schema) {
				delta, erd := c.Diff(prevRows, rows)
				if erd != nil {
					return model.TableEntry{}, nil, erd
				}
				if delta.Empty() {
					c.l.Debug("table unchanged", zap.String("table", table))
					return previous, nil, nil
				}
				if len(previous.Objects) <= c.maxChain && len(delta.Added)+len(delta.Deleted) < len(rows) {
					return c.writeDiff(ctx, namespace, previous, table, schema, delta)
				}
			}
		case errors.Is(err, status.ErrNotFound):
			// previous version not materialized locally: store a snapshot
			c.l.Debug("previous version of table not cached, writing a snapshot", zap.String("table", table))
		default:
			return model.TableEntry{}, nil, err
		}
	}

	meta, err := c.Put(ctx, namespace, Fragment{
		Format: model.FormatSnapshot,
		Schema: schema,
		Rows:   rows,
	})
	if err != nil {
		return model.TableEntry{}, nil, err
	}
	return model.TableEntry{
		Name:    table,
		Objects: []model.ObjectRef{{ID: meta.ID, Schema: schema}},
	}, []model.ObjectMeta{meta}, nil
}

func (c *Cache) writeDiff(ctx context.Context, namespace string, previous model.TableEntry, table string, schema model.Schema, delta Delta) (model.TableEntry, []model.ObjectMeta, error) {
	parent := previous.Objects[len(previous.Objects)-1].ID
	meta, err := c.Put(ctx, namespace, Fragment{
		Format:  model.FormatDiff,
		Parent:  parent,
		Schema:  schema,
		Rows:    delta.Added,
		Deleted: delta.Deleted,
	})
	if err != nil {
		return model.TableEntry{}, nil, err
	}

	objects := make([]model.ObjectRef, 0, len(previous.Objects)+1)
	objects = append(objects, previous.Objects...)
	objects = append(objects, model.ObjectRef{ID: meta.ID, Schema: schema})

	return model.TableEntry{Name: table, Objects: objects}, []model.ObjectMeta{meta}, nil
}
