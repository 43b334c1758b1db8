package model

import (
	"fmt"
	"strings"
)

// ImageSpec designates an image within a repository, as "namespace/repository:ref".
//
// Ref is either a tag or a (possibly abbreviated) image hash. An empty Ref
// designates the whole repository.
type ImageSpec struct {
	Repository Repository
	Ref        string
}

// ParseImageSpec parses "namespace/repository[:ref]"
func ParseImageSpec(s, defaultNamespace string) (ImageSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ImageSpec{}, fmt.Errorf("empty image specification")
	}
	var ref string
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		ref = s[idx+1:]
		s = s[:idx]
		if ref == "" {
			return ImageSpec{}, fmt.Errorf("empty reference in image specification %q", s+":")
		}
	}
	repo, err := ParseRepository(s, defaultNamespace)
	if err != nil {
		return ImageSpec{}, err
	}
	return ImageSpec{Repository: repo, Ref: ref}, nil
}

// RefOrHead returns the reference, defaulting to the checked out image
func (s ImageSpec) RefOrHead() string {
	if s.Ref == "" {
		return HeadTag
	}
	return s.Ref
}

func (s ImageSpec) String() string {
	if s.Ref == "" {
		return s.Repository.String()
	}
	return s.Repository.String() + ":" + s.Ref
}
