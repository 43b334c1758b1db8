package metrics

import (
	"time"

	"go.opencensus.io/stats/view"
)

// Option defines some options to the metrics initialization
type Option func(*settings)

// WithBasePath defines the root for the registered metrics tree, e.g. "tablemon"
func WithBasePath(location string) Option {
	return func(m *settings) {
		m.basePath = location
	}
}

// WithGlobalTags sets tags recorded with every measurement, such as the namespace of repositories.
//
// Tags set on individual measurements supersede global tags with the same key.
func WithGlobalTags(tags map[string]string) Option {
	return func(m *settings) {
		for k, v := range tags {
			if k == "" || v == "" {
				continue
			}
			m.globalTags[k] = v
		}
	}
}

// WithExporter configures the exporter to convey metrics to some backend collector
func WithExporter(exporter view.Exporter) Option {
	return func(m *settings) {
		if exporter != nil {
			m.exporter = flusher(exporter)
		}
	}
}

// WithReportingPeriod configures how often the exporter reports views.
// Durations under 1 sec are ignored, leaving the opencensus default (10s).
func WithReportingPeriod(d time.Duration) Option {
	return func(m *settings) {
		m.d = d
	}
}
