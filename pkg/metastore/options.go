package metastore

import (
	"go.uber.org/zap"
)

// Option for the metadata store
type Option func(*Store)

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
		}
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database file, in milliseconds
func WithBusyTimeout(ms int) Option {
	return func(s *Store) {
		s.busyTimeout = ms
	}
}
