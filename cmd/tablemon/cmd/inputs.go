package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/config"
	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/dlogger"
	"github.com/oneconcern/tablemon/pkg/handlers"
	"github.com/oneconcern/tablemon/pkg/metastore"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/oneconcern/tablemon/pkg/remote"
	"github.com/oneconcern/tablemon/pkg/remote/api"
	"github.com/oneconcern/tablemon/pkg/storage"
	"github.com/oneconcern/tablemon/pkg/storage/localfs"
	"github.com/oneconcern/tablemon/pkg/workspace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// cliInputs resolves the components used by commands from the configuration and the flags
type cliInputs struct {
	config *config.Config
	flags  *flagsT
	l      *zap.Logger
}

func newCliInputs(c *config.Config, flags *flagsT) (*cliInputs, error) {
	l, err := dlogger.GetLogger(flags.root.logLevel, dlogger.WithConsole(), dlogger.WithOutput("stderr"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", flags.root.logLevel, err)
	}
	return &cliInputs{config: c, flags: flags, l: l}, nil
}

func (in *cliInputs) getLogger() *zap.Logger {
	return in.l
}

func (in *cliInputs) metricsEnabled() bool {
	return in.flags.root.metrics.enabled
}

func (in *cliInputs) repository(s string) (model.Repository, error) {
	return model.ParseRepository(s, in.config.Namespace())
}

func (in *cliInputs) imageSpec(s string) (model.ImageSpec, error) {
	return model.ParseImageSpec(s, in.config.Namespace())
}

func (in *cliInputs) handlerRegistry() *handlers.Registry {
	return in.config.HandlerRegistry(handlers.WithLogger(in.l))
}

func (in *cliInputs) openMetaStore(pth string) (*metastore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(pth), 0700); err != nil {
		return nil, fmt.Errorf("ensuring directory of metadata store %q: %w", pth, err)
	}
	return metastore.Open(pth, metastore.WithLogger(in.l))
}

// engine opens the local engine. Callers close it once done.
func (in *cliInputs) engine() (*core.Engine, func() error, error) {
	meta, err := in.openMetaStore(in.config.Get(config.KeyEnginePath))
	if err != nil {
		return nil, nil, err
	}

	store, err := localfs.NewAt(in.config.Get(config.KeyObjectDir))
	if err != nil {
		return nil, nil, multierr.Append(err, meta.Close())
	}
	if in.flags.root.logLevel == dlogger.LogLevelDebug {
		store = storage.Instrument(in.l, store)
	}
	cache, err := cafs.New(store, cafs.WithLogger(in.l), cafs.WithMetrics(in.metricsEnabled()))
	if err != nil {
		return nil, nil, multierr.Append(err, meta.Close())
	}

	workspaces := workspace.NewManager(in.config.Get(config.KeyWorkspaceDir), workspace.WithLogger(in.l))

	e := core.New(meta, cache, workspaces,
		core.WithLogger(in.l),
		core.WithHandlers(in.handlerRegistry()),
		core.WithMetrics(in.metricsEnabled()),
	)
	closer := func() error {
		return multierr.Combine(workspaces.Close(), cache.Close(), meta.Close())
	}
	return e, closer, nil
}

// remote resolves the remote designated by the --remote flag.
//
// It returns the handler configured for this remote, if any.
func (in *cliInputs) remote() (remote.Remote, string, func() error, error) {
	name := in.flags.sync.remote
	if name == "" {
		return nil, "", nil, fmt.Errorf("a remote is required, with --remote")
	}

	target := config.Remote{Endpoint: name}
	if !strings.Contains(name, "://") {
		var err error
		if target, err = in.config.Remote(name); err != nil {
			return nil, "", nil, err
		}
	}

	handler := target.Handler
	if in.flags.sync.handler != "" {
		handler = in.flags.sync.handler
	}
	noop := func() error { return nil }

	switch {
	case strings.HasPrefix(target.Endpoint, "file://"):
		meta, err := in.openMetaStore(strings.TrimPrefix(target.Endpoint, "file://"))
		if err != nil {
			return nil, "", nil, err
		}
		return remote.Direct(meta), handler, meta.Close, nil
	case strings.HasPrefix(target.Endpoint, "http://"), strings.HasPrefix(target.Endpoint, "https://"):
		return api.NewClient(target.Endpoint, api.WithClientLogger(in.l), api.WithToken(target.Token)), handler, noop, nil
	default:
		return nil, "", nil, fmt.Errorf("unsupported remote endpoint %q", target.Endpoint)
	}
}

func (in *cliInputs) syncer(e *core.Engine) (*remote.Syncer, error) {
	policy := in.flags.sync.tagPolicy
	if policy == "" {
		policy = in.config.Get(config.KeyTagPolicy)
	}
	tagPolicy, err := remote.ParseTagPolicy(policy)
	if err != nil {
		return nil, err
	}
	return remote.NewSyncer(e,
		remote.WithLogger(in.l),
		remote.WithMetrics(in.metricsEnabled()),
		remote.WithTagPolicy(tagPolicy),
		remote.WithDownloadAll(in.flags.sync.downloadAll),
	), nil
}

// withEngine runs an operation against the local engine, then closes it
func (in *cliInputs) withEngine(ctx context.Context, op func(context.Context, *core.Engine) error) (err error) {
	e, closer, err := in.engine()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closer())
	}()
	return op(ctx, e)
}
