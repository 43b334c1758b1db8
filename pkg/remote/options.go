package remote

import (
	"github.com/oneconcern/tablemon/pkg/metrics"
	"go.uber.org/zap"
)

// M describes metrics for the sync protocol
type M struct {
	Sync struct {
		Images  metrics.ObjectsMetrics `group:"images" description:"images transferred by push and pull"`
		Objects metrics.ObjectsMetrics `group:"objects" description:"objects registered, uploaded or downloaded by a sync"`
	} `group:"sync" description:"push and pull of repositories"`
	Usage metrics.UsageMetrics `group:"telemetry" description:"usage stats for the sync protocol"`
}

// Option for the syncer
type Option func(*Syncer)

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.l = l
		}
	}
}

// WithMetrics toggles metrics collection
func WithMetrics(enabled bool) Option {
	return func(s *Syncer) {
		s.EnableMetrics(enabled)
	}
}

// WithTagPolicy sets how tag conflicts are resolved. The default is to keep the destination binding.
func WithTagPolicy(policy TagPolicy) Option {
	return func(s *Syncer) {
		s.policy = policy
	}
}

// WithDownloadAll downloads the data of all pulled objects, instead of deferring it to checkout
func WithDownloadAll(enabled bool) Option {
	return func(s *Syncer) {
		s.downloadAll = enabled
	}
}
