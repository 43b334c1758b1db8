package model

import (
	"sort"
)

const (
	// FormatSnapshot is the format of a fragment holding the full content of a table
	FormatSnapshot = "SNAP"

	// FormatDiff is the format of a fragment defined as a delta against its parent object
	FormatDiff = "DIFF"
)

// ObjectMeta describes a content-addressed physical data fragment
type ObjectMeta struct {
	ID        string   `json:"object_id" yaml:"object_id"`
	Format    string   `json:"format" yaml:"format"`
	Parents   []string `json:"parents,omitempty" yaml:"parents,omitempty"`
	Namespace string   `json:"namespace" yaml:"namespace"`
	Size      int64    `json:"size" yaml:"size"`
}

// SameContent tells if two object descriptors agree
func (o ObjectMeta) SameContent(other ObjectMeta) bool {
	if o.ID != other.ID || o.Format != other.Format || o.Namespace != other.Namespace || o.Size != other.Size {
		return false
	}
	a, b := SortedSet(o.Parents), SortedSet(other.Parents)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ObjectLocation records where a copy of an object may be fetched from, besides the local store
type ObjectLocation struct {
	ObjectID string `json:"object_id" yaml:"object_id"`
	Location string `json:"location" yaml:"location"`
	Handler  string `json:"handler" yaml:"handler"`
}

// SortedSet returns the sorted, deduplicated, non-empty members of a list of strings
func SortedSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SetKeys returns the sorted members of a set
func SetKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
