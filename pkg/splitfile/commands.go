package splitfile

import (
	"context"
	"sort"

	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/spf13/afero"
)

// Command is a custom splitfile command
type Command interface {
	// CalcHash returns the context hash of the command: the step is skipped when the
	// resulting image already exists. An empty hash means the command always runs.
	//
	// CalcHash is called on every run, since it may depend on external state.
	CalcHash(ctx context.Context, repo model.Repository, args []string) (string, error)

	// Execute applies the command to the workspace of the repository
	Execute(ctx context.Context, repo model.Repository, args []string) error
}

// Factory loads an implementation of a custom command
type Factory func(*core.Engine) (Command, error)

// Registry resolves custom commands by name.
//
// Commands are bound to implementations by configuration. An implementation is
// loaded when a splitfile using it is resolved.
type Registry struct {
	implementations map[string]Factory
	commands        map[string]string
}

// CSVImplementation is the name of the built-in implementation of LOAD_CSV
const CSVImplementation = "csv"

// NewRegistry builds a registry with the built-in LOAD_CSV command, reading files from fs
func NewRegistry(fs afero.Fs) *Registry {
	r := &Registry{
		implementations: make(map[string]Factory),
		commands:        make(map[string]string),
	}
	r.Register(CSVImplementation, NewCSVFactory(fs))
	r.Configure("LOAD_CSV", CSVImplementation)
	return r
}

// Register an implementation
func (r *Registry) Register(implementation string, factory Factory) {
	r.implementations[implementation] = factory
}

// Configure binds a command name to an implementation
func (r *Registry) Configure(command, implementation string) {
	r.commands[command] = implementation
}

// Commands lists the configured command names
func (r *Registry) Commands() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve a custom command.
//
// An unknown command yields an ErrUnresolvedCommand error. A command which is configured
// but cannot be loaded yields an error which is both ErrUnresolvedCommand and ErrCommandLoad.
func (r *Registry) Resolve(command string, engine *core.Engine) (Command, error) {
	implementation, ok := r.commands[command]
	if !ok {
		return nil, status.ErrUnresolvedCommand.Wrapf("custom command %s not found in the config", command)
	}
	factory, ok := r.implementations[implementation]
	if !ok {
		return nil, status.ErrUnresolvedCommand.Wrap(
			status.ErrCommandLoad.Wrapf("%s: implementation %q is not available", command, implementation),
		)
	}
	cmd, err := factory(engine)
	if err == nil && cmd == nil {
		err = status.ErrInvalidArgument.Wrapf("no command returned")
	}
	if err != nil {
		return nil, status.ErrUnresolvedCommand.Wrap(status.ErrCommandLoad.Wrapf("%s: %v", command, err))
	}
	return cmd, nil
}
