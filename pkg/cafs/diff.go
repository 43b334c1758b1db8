package cafs

import (
	"fmt"

	"github.com/oneconcern/tablemon/pkg/model"
)

// MaxChainLength is the maximum number of DIFF fragments stacked on a SNAP
const MaxChainLength = 8

// Delta between two versions of a table, as a multiset of rows
type Delta struct {
	Deleted []Row
	Added   []Row
}

// Empty tells if the delta carries no change
func (d Delta) Empty() bool {
	return len(d.Deleted) == 0 && len(d.Added) == 0
}

// Diff computes the rows removed from base and the rows added to obtain rows.
//
// Rows are compared as a multiset: duplicates are accounted for.
func (c *Cache) Diff(base, rows []Row) (Delta, error) {
	counts := make(map[string]int, len(base))
	for _, row := range base {
		k, err := c.codec.rowKey(row)
		if err != nil {
			return Delta{}, err
		}
		counts[k]++
	}

	var d Delta
	for _, row := range rows {
		k, err := c.codec.rowKey(row)
		if err != nil {
			return Delta{}, err
		}
		if counts[k] > 0 {
			counts[k]--
			continue
		}
		d.Added = append(d.Added, row)
	}

	for _, row := range base {
		k, err := c.codec.rowKey(row)
		if err != nil {
			return Delta{}, err
		}
		if counts[k] > 0 {
			counts[k]--
			d.Deleted = append(d.Deleted, row)
		}
	}
	return d, nil
}

// Apply a sequence of fragments, dependencies first, and return the resulting table content.
//
// A SNAP fragment resets the content. A DIFF fragment removes the first occurrence of
// each of its deleted rows, then appends its rows.
func (c *Cache) Apply(fragments []Fragment) (model.Schema, []Row, error) {
	var (
		schema model.Schema
		rows   []Row
		loaded bool
	)

	for i, f := range fragments {
		switch f.Format {
		case model.FormatSnapshot:
			rows = append(make([]Row, 0, len(f.Rows)), f.Rows...)
		case model.FormatDiff:
			if !loaded {
				return nil, nil, fmt.Errorf("fragment %d in chain is a %s without a base snapshot", i, f.Format)
			}
			remaining, err := c.remove(rows, f.Deleted)
			if err != nil {
				return nil, nil, err
			}
			rows = append(remaining, f.Rows...)
		default:
			return nil, nil, fmt.Errorf("unknown fragment format %q", f.Format)
		}
		schema = f.Schema
		loaded = true
	}
	return schema, rows, nil
}

func (c *Cache) remove(rows, deleted []Row) ([]Row, error) {
	if len(deleted) == 0 {
		return rows, nil
	}
	counts := make(map[string]int, len(deleted))
	for _, row := range deleted {
		k, err := c.codec.rowKey(row)
		if err != nil {
			return nil, err
		}
		counts[k]++
	}
	remaining := rows[:0:0]
	for _, row := range rows {
		k, err := c.codec.rowKey(row)
		if err != nil {
			return nil, err
		}
		if counts[k] > 0 {
			counts[k]--
			continue
		}
		remaining = append(remaining, row)
	}
	return remaining, nil
}
