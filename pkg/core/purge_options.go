package core

import (
	"github.com/oneconcern/tablemon/pkg/dlogger"
	"go.uber.org/zap"
)

type (
	// PurgeOption modifies the behavior of the purge operations.
	PurgeOption func(*purgeOptions)

	purgeOptions struct {
		dryRun         bool
		localStorePath string
		l              *zap.Logger
	}
)

// WithPurgeDryRun only reports the objects which would be deleted
func WithPurgeDryRun(enabled bool) PurgeOption {
	return func(o *purgeOptions) {
		o.dryRun = enabled
	}
}

// WithPurgeLocalStore keeps the index of referenced objects on disk, at some path.
// By default, the index is kept in memory.
func WithPurgeLocalStore(pth string) PurgeOption {
	return func(o *purgeOptions) {
		o.localStorePath = pth
	}
}

// WithPurgeLogger sets a logger
func WithPurgeLogger(zlg *zap.Logger) PurgeOption {
	return func(o *purgeOptions) {
		if zlg != nil {
			o.l = zlg
		}
	}
}

func defaultPurgeOptions(l *zap.Logger, opts []PurgeOption) *purgeOptions {
	o := &purgeOptions{
		l: l,
	}
	if o.l == nil {
		o.l = dlogger.MustGetLogger("info")
	}

	for _, apply := range opts {
		apply(o)
	}

	return o
}
