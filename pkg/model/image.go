package model

import (
	"sort"
	"time"
)

// Column describes a column of a table schema
type Column struct {
	Ordinal    int    `json:"ordinal" yaml:"ordinal"`
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type" yaml:"type"`
	PrimaryKey bool   `json:"pk,omitempty" yaml:"pk,omitempty"`
}

// Schema of a table fragment
type Schema []Column

// Equal tells if two schemas are identical
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// ColumnNames lists the names of the columns, in ordinal order
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// ObjectRef is an entry in a table mapping: an object and the schema fragment it provides
type ObjectRef struct {
	ID     string `json:"object_id" yaml:"object_id"`
	Schema Schema `json:"schema" yaml:"schema"`
}

// TableEntry maps a table to the ordered list of objects composing it.
//
// The content of the table is the overlay of its objects, in list order.
type TableEntry struct {
	Name    string      `json:"name" yaml:"name"`
	Objects []ObjectRef `json:"objects" yaml:"objects"`
}

// ObjectIDs lists the objects of a table, in order
func (t TableEntry) ObjectIDs() []string {
	ids := make([]string, len(t.Objects))
	for i, o := range t.Objects {
		ids[i] = o.ID
	}
	return ids
}

// Schema of the table, as provided by its last object
func (t TableEntry) Schema() Schema {
	if len(t.Objects) == 0 {
		return nil
	}
	return t.Objects[len(t.Objects)-1].Schema
}

// Tables maps a table name to its objects
type Tables map[string]TableEntry

// Names returns the sorted table names
func (t Tables) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ObjectIDs returns the set of all objects referenced by these tables
func (t Tables) ObjectIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, entry := range t {
		for _, o := range entry.Objects {
			ids[o.ID] = struct{}{}
		}
	}
	return ids
}

// Equal tells if two table mappings are identical
func (t Tables) Equal(other Tables) bool {
	if len(t) != len(other) {
		return false
	}
	for name, entry := range t {
		o, ok := other[name]
		if !ok || len(o.Objects) != len(entry.Objects) {
			return false
		}
		for i := range entry.Objects {
			if entry.Objects[i].ID != o.Objects[i].ID || !entry.Objects[i].Schema.Equal(o.Objects[i].Schema) {
				return false
			}
		}
	}
	return true
}

// Clone the table mapping
func (t Tables) Clone() Tables {
	c := make(Tables, len(t))
	for name, entry := range t {
		objects := make([]ObjectRef, len(entry.Objects))
		copy(objects, entry.Objects)
		c[name] = TableEntry{Name: entry.Name, Objects: objects}
	}
	return c
}

// Image is an immutable snapshot of the tables of a repository.
type Image struct {
	Hash    string    `json:"image_hash" yaml:"image_hash"`
	Parent  string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Created time.Time `json:"created" yaml:"created"`
	Comment string    `json:"comment,omitempty" yaml:"comment,omitempty"`
	Tables  Tables    `json:"tables" yaml:"tables"`
}

// SameContent tells if two images describe the same snapshot,
// regardless of their creation time or comment
func (i Image) SameContent(other Image) bool {
	if i.Hash != other.Hash || i.Parent != other.Parent {
		return false
	}
	if len(i.Tables) == 0 && len(other.Tables) == 0 {
		return true
	}
	return i.Tables.Equal(other.Tables)
}

// TagBinding associates a tag to an image
type TagBinding struct {
	Image string `json:"image_hash" yaml:"image_hash"`
	Tag   string `json:"tag" yaml:"tag"`
}

// Images is a list of images, sortable by creation time
type Images []Image

func (l Images) Len() int      { return len(l) }
func (l Images) Swap(i, j int) { l[i], l[j] = l[j], l[i] }
func (l Images) Less(i, j int) bool {
	if l[i].Created.Equal(l[j].Created) {
		return l[i].Hash < l[j].Hash
	}
	return l[i].Created.Before(l[j].Created)
}

// Hashes of the images in the list
func (l Images) Hashes() []string {
	hashes := make([]string, len(l))
	for i, img := range l {
		hashes[i] = img.Hash
	}
	return hashes
}

// ImageTimeStamp yields a UTC timestamp for new images, truncated to microseconds
// to survive a round trip through the backing store.
func ImageTimeStamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
