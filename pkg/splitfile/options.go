package splitfile

import (
	"github.com/oneconcern/tablemon/pkg/metrics"
	"go.uber.org/zap"
)

// M describes metrics for the build engine
type M struct {
	Build struct {
		Steps metrics.CacheMetrics `group:"steps" description:"splitfile steps reusing an existing image (hits) or executed (misses)"`
	} `group:"build" description:"splitfile execution"`
	Usage metrics.UsageMetrics `group:"telemetry" description:"usage stats for the build engine"`
}

// Option for the executor
type Option func(*Executor)

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(x *Executor) {
		if l != nil {
			x.l = l
		}
	}
}

// WithCommands sets the registry of custom commands
func WithCommands(r *Registry) Option {
	return func(x *Executor) {
		if r != nil {
			x.commands = r
		}
	}
}

// WithMetrics toggles metrics collection
func WithMetrics(enabled bool) Option {
	return func(x *Executor) {
		x.EnableMetrics(enabled)
	}
}
