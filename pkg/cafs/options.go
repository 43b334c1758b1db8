package cafs

import (
	"go.uber.org/zap"
)

// Option for the fragment cache
type Option func(*Cache)

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.l = l
		}
	}
}

// WithMetrics toggles metrics collection
func WithMetrics(enabled bool) Option {
	return func(c *Cache) {
		c.EnableMetrics(enabled)
	}
}

// WithMaxChainLength sets the maximum number of DIFF fragments stacked on a SNAP
func WithMaxChainLength(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.maxChain = n
		}
	}
}

// WithFragmentsCacheSize sets the number of decoded fragments kept in memory
func WithFragmentsCacheSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.fragmentsSize = n
		}
	}
}
