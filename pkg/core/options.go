package core

import (
	"github.com/oneconcern/tablemon/pkg/handlers"
	"go.uber.org/zap"
)

// Option for the engine
type Option func(*Engine)

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.l = l
		}
	}
}

// WithHandlers sets the registry of external handlers used to download objects on checkout
func WithHandlers(r *handlers.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.handlers = r
		}
	}
}

// WithMetrics toggles metrics collection
func WithMetrics(enabled bool) Option {
	return func(e *Engine) {
		e.EnableMetrics(enabled)
	}
}
