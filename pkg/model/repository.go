package model

import (
	"fmt"
	"strings"
	"unicode"
)

// HeadTag is the reserved tag bound to the currently checked out image of a repository
const HeadTag = "HEAD"

// Repository identifies a versioned collection of tables
type Repository struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"repository" yaml:"repository"`
}

// NewRepository builds a repository identifier
func NewRepository(namespace, name string) Repository {
	return Repository{Namespace: namespace, Name: name}
}

// ParseRepository parses a "namespace/name" string.
//
// When no namespace is specified, the default namespace is used.
func ParseRepository(s, defaultNamespace string) (Repository, error) {
	var r Repository
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) == 2 {
		r = Repository{Namespace: parts[0], Name: parts[1]}
	} else {
		r = Repository{Namespace: defaultNamespace, Name: parts[0]}
	}
	if err := r.Validate(); err != nil {
		return Repository{}, err
	}
	return r, nil
}

// String representation "namespace/name"
func (r Repository) String() string {
	if r.Namespace == "" {
		return r.Name
	}
	return r.Namespace + "/" + r.Name
}

// Validate a repository identifier
func (r Repository) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("empty field: repository name is empty")
	}
	for _, part := range []struct{ what, value string }{{"namespace", r.Namespace}, {"repository name", r.Name}} {
		for _, c := range part.value {
			if !unicode.IsDigit(c) && !unicode.IsLetter(c) && c != '_' && c != '-' && c != '.' {
				return fmt.Errorf("invalid name: %s %q contains unsupported character %q",
					part.what, part.value, string(c))
			}
		}
	}
	return nil
}

// ValidateTag checks that a tag name is acceptable
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("empty field: tag is empty")
	}
	if IsValidHash(tag) {
		return fmt.Errorf("invalid tag: %q may not be a full hash", tag)
	}
	for _, c := range tag {
		if unicode.IsSpace(c) || c == ':' || c == '/' {
			return fmt.Errorf("invalid tag: %q contains unsupported character %q", tag, string(c))
		}
	}
	return nil
}
