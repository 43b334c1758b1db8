package handlers

import (
	"go.uber.org/zap"
)

// Option for external handlers
type Option func(*storeHandler)

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(h *storeHandler) {
		if l != nil {
			h.l = l
		}
	}
}

// WithConcurrency bounds the number of objects transferred in parallel
func WithConcurrency(n int) Option {
	return func(h *storeHandler) {
		if n > 0 {
			h.concurrency = n
		}
	}
}

// WithMetrics toggles metrics collection
func WithMetrics(enabled bool) Option {
	return func(h *storeHandler) {
		h.EnableMetrics(enabled)
	}
}
