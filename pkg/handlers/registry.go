package handlers

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/storage/localfs"
	"github.com/oneconcern/tablemon/pkg/storage/sthree"
)

const (
	// File is the implementation of handlers copying objects to a directory, e.g. a shared mount
	File = "FILE"

	// S3 is the implementation of handlers copying objects to an S3 bucket
	S3 = "S3"
)

// Params of a handler
type Params map[string]string

// Spec configures a named handler
type Spec struct {
	Implementation string `json:"implementation" yaml:"implementation" mapstructure:"implementation"`
	Params         Params `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`
}

// Factory builds a handler from its parameters
type Factory func(name string, params Params, cache *cafs.Cache, opts ...Option) (Handler, error)

// Registry resolves handlers by name
type Registry struct {
	factories map[string]Factory
	specs     map[string]Spec
	opts      []Option
}

// NewRegistry builds a registry with the FILE and S3 implementations.
//
// Both implementations may be used directly by their name, or through a configured handler name.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		specs:     make(map[string]Spec),
		opts:      opts,
	}
	r.Register(File, NewFileHandler)
	r.Register(S3, NewS3Handler)
	return r
}

// Register an implementation
func (r *Registry) Register(implementation string, factory Factory) {
	r.factories[strings.ToUpper(implementation)] = factory
}

// Configure a named handler
func (r *Registry) Configure(name string, spec Spec) {
	r.specs[name] = spec
}

// Names of configured handlers
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get a handler by name, bound to some local cache
func (r *Registry) Get(name string, cache *cafs.Cache) (Handler, error) {
	spec, ok := r.specs[name]
	if !ok {
		spec = Spec{Implementation: name}
	}
	factory, ok := r.factories[strings.ToUpper(spec.Implementation)]
	if !ok {
		return nil, status.ErrNotFound.Wrapf("external handler %s is not configured", name)
	}
	h, err := factory(name, spec.Params, cache, r.opts...)
	if err != nil {
		return nil, fmt.Errorf("building external handler %s: %w", name, err)
	}
	return h, nil
}

func (p Params) concurrency() (Option, error) {
	value, ok := p["concurrency"]
	if !ok {
		return WithConcurrency(defaultConcurrency), nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return nil, status.ErrInvalidArgument.Wrapf("invalid concurrency %q", value)
	}
	return WithConcurrency(n), nil
}

// NewFileHandler builds a handler copying objects to a directory, set by the "path" parameter
func NewFileHandler(name string, params Params, cache *cafs.Cache, opts ...Option) (Handler, error) {
	dir := params["path"]
	if dir == "" {
		return nil, status.ErrInvalidArgument.Wrapf("handler %s requires a path parameter", name)
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	concurrency, err := params.concurrency()
	if err != nil {
		return nil, err
	}
	target, err := localfs.NewAt(dir)
	if err != nil {
		return nil, err
	}
	return NewStoreHandler(name, filepath.ToSlash(dir), target, cache, append(opts, concurrency)...), nil
}

// NewS3Handler builds a handler copying objects to an S3 bucket.
//
// Parameters: bucket (required), prefix, endpoint, region, access_key, secret_key.
func NewS3Handler(name string, params Params, cache *cafs.Cache, opts ...Option) (Handler, error) {
	bucket := params["bucket"]
	if bucket == "" {
		return nil, status.ErrInvalidArgument.Wrapf("handler %s requires a bucket parameter", name)
	}
	concurrency, err := params.concurrency()
	if err != nil {
		return nil, err
	}

	prefix := strings.Trim(params["prefix"], "/")
	s3Opts := []sthree.Option{sthree.Prefix(prefix)}
	if endpoint := params["endpoint"]; endpoint != "" {
		s3Opts = append(s3Opts, sthree.Endpoint(endpoint, params["region"], params["access_key"], params["secret_key"]))
	} else if region := params["region"]; region != "" {
		s3Opts = append(s3Opts, sthree.AWSConfig(aws.NewConfig().WithRegion(region)))
	}
	target, err := sthree.New(sthree.Bucket(bucket), s3Opts...)
	if err != nil {
		return nil, err
	}

	base := "s3://" + bucket
	if prefix != "" {
		base += "/" + prefix
	}
	return NewStoreHandler(name, base, target, cache, append(opts, concurrency)...), nil
}
