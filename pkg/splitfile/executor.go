package splitfile

import (
	"context"
	"time"

	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/dlogger"
	"github.com/oneconcern/tablemon/pkg/metrics"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Executor runs splitfiles against the repositories of an engine
type Executor struct {
	metrics.Enable
	m *M

	engine   *core.Engine
	commands *Registry
	l        *zap.Logger
}

// NewExecutor builds a splitfile executor.
//
// By default, only the built-in commands are available and LOAD_CSV reads from the OS file system.
func NewExecutor(engine *core.Engine, opts ...Option) *Executor {
	x := &Executor{
		engine: engine,
		l:      dlogger.MustGetLogger("info"),
	}
	for _, apply := range opts {
		apply(x)
	}
	if x.commands == nil {
		x.commands = NewRegistry(afero.NewOsFs())
	}
	if x.MetricsEnabled() {
		x.m = x.EnsureMetrics("splitfile", &M{}).(*M)
	}
	return x
}

// StepResult tells which image a step yielded
type StepResult struct {
	Line    int    `json:"line" yaml:"line"`
	Command string `json:"command" yaml:"command"`
	Image   string `json:"image" yaml:"image"`

	// Cached is set when the image already existed and the step was skipped
	Cached bool `json:"cached" yaml:"cached"`
}

// Result of a splitfile execution
type Result struct {
	Repository model.Repository `json:"repository" yaml:"repository"`
	Image      string           `json:"image" yaml:"image"`
	Steps      []StepResult     `json:"steps" yaml:"steps"`
}

// NewImages counts the images created by the execution
func (r Result) NewImages() int {
	var n int
	for _, step := range r.Steps {
		if !step.Cached {
			n++
		}
	}
	return n
}

// resolved step, ready to run
type plan struct {
	Step
	command Command
	source  string
}

// Execute a splitfile against an output repository, which is initialized when needed.
//
// Steps are run from the root image of the output repository, in order. The image of a step
// is identified by the hash of the previous image combined with the hash of the step: when it
// exists, the step is skipped. Before a step is executed, the workspace is checked out at the
// previous image, discarding uncommitted changes.
//
// Unknown commands and unresolved sources fail the execution before any step is run. When a
// step fails, the images created by previous steps are kept.
//
// Upon completion, the final image is checked out.
func (x *Executor) Execute(ctx context.Context, script string, output model.Repository, params map[string]string) (result Result, err error) {
	if x.m != nil {
		defer func(done func(error)) { done(err) }(x.m.Usage.UsedAll(time.Now(), "Execute"))
	}
	result = Result{Repository: output}

	text, err := Preprocess(script, params)
	if err != nil {
		return result, err
	}
	steps, err := Parse(text, output.Namespace)
	if err != nil {
		return result, err
	}
	plans, err := x.resolve(ctx, steps)
	if err != nil {
		return result, err
	}

	if err = x.engine.Init(ctx, output); err != nil {
		return result, err
	}

	previous := model.ZeroHash
	synced := false
	checkout := func() error {
		if synced {
			return nil
		}
		if _, err := x.engine.Checkout(ctx, output, previous); err != nil {
			return err
		}
		synced = true
		return nil
	}

	for _, p := range plans {
		logger := x.l.With(zap.Stringer("repository", output), zap.Int("line", p.Line), zap.String("step", p.String()))

		if p.Kind == KindFromEmpty {
			previous, synced = model.ZeroHash, false
			result.Steps = append(result.Steps, StepResult{Line: p.Line, Command: p.String(), Image: previous, Cached: true})
			continue
		}

		stepHash, err := x.stepHash(ctx, output, p)
		if err != nil {
			return result, err
		}
		candidate := model.CombineHashes(previous, stepHash)

		exists, err := x.engine.MetaStore().ImageExists(ctx, output, candidate)
		if err != nil {
			return result, err
		}
		if exists {
			logger.Info("step cached", zap.String("image", candidate))
			if x.m != nil {
				x.m.Build.Steps.Hit("splitfile")
			}
			previous, synced = candidate, false
			result.Steps = append(result.Steps, StepResult{Line: p.Line, Command: p.String(), Image: candidate, Cached: true})
			continue
		}

		if x.m != nil {
			x.m.Build.Steps.Miss("splitfile")
		}
		if err = checkout(); err != nil {
			return result, err
		}
		if err = x.run(ctx, output, p, candidate); err != nil {
			logger.Error("step failed", zap.Error(err))
			return result, err
		}
		logger.Info("step executed", zap.String("image", candidate))
		previous, synced = candidate, true
		result.Steps = append(result.Steps, StepResult{Line: p.Line, Command: p.String(), Image: candidate})
	}

	if err = checkout(); err != nil {
		return result, err
	}
	result.Image = previous
	return result, nil
}

// resolve custom commands and import sources, before anything is executed
func (x *Executor) resolve(ctx context.Context, steps []Step) ([]plan, error) {
	plans := make([]plan, 0, len(steps))
	loaded := make(map[string]Command)

	for _, step := range steps {
		p := plan{Step: step}
		switch step.Kind {
		case KindCustom:
			cmd, ok := loaded[step.Command]
			if !ok {
				var err error
				if cmd, err = x.commands.Resolve(step.Command, x.engine); err != nil {
					return nil, err
				}
				loaded[step.Command] = cmd
			}
			p.command = cmd
		case KindImport:
			source, err := x.engine.Resolve(ctx, step.Source.Repository, step.Source.RefOrHead())
			if err != nil {
				return nil, err
			}
			p.source = source
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func (x *Executor) stepHash(ctx context.Context, repo model.Repository, p plan) (string, error) {
	switch p.Kind {
	case KindImport:
		return model.ContextHash("IMPORT", p.source, x.importSpec(p).Normalize()), nil
	case KindSQL:
		return model.ContextHash("SQL", normalizeStatement(p.Statement)), nil
	default:
		hash, err := p.command.CalcHash(ctx, repo, p.Args)
		if err != nil {
			return "", err
		}
		return model.NormalizeContextHash(hash), nil
	}
}

func (x *Executor) importSpec(p plan) core.ImportSpec {
	return core.ImportSpec{
		Source: p.Source.Repository,
		Image:  p.source,
		Tables: p.Tables(),
	}
}

// run a step against the workspace, then register its image
func (x *Executor) run(ctx context.Context, repo model.Repository, p plan, hash string) error {
	switch p.Kind {
	case KindImport:
		_, err := x.engine.ImportTables(ctx, repo, x.importSpec(p), hash, p.String())
		return err
	case KindSQL:
		w, err := x.engine.Workspace(repo)
		if err != nil {
			return err
		}
		if err = w.Exec(ctx, p.Statement); err != nil {
			return err
		}
	default:
		if err := p.command.Execute(ctx, repo, p.Args); err != nil {
			return err
		}
	}
	_, err := x.engine.CommitAs(ctx, repo, hash, p.String())
	return err
}
