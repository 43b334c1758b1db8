// Package zaplog provides an opencensus exporter that writes views to a zap logger
package zaplog

import (
	"go.opencensus.io/stats/view"
	"go.uber.org/zap"
)

var _ view.Exporter = &Exporter{}

// NewExporter builds an opencensus exporter that logs view data at debug level
func NewExporter(l *zap.Logger) *Exporter {
	if l == nil {
		l = zap.NewNop()
	}
	return &Exporter{l: l}
}

// Exporter logs opencensus views
type Exporter struct {
	l *zap.Logger
}

// ExportView logs the view data
func (e *Exporter) ExportView(viewData *view.Data) {
	if viewData == nil || viewData.View == nil {
		return
	}
	for _, row := range viewData.Rows {
		tags := make(map[string]string, len(row.Tags))
		for _, t := range row.Tags {
			tags[t.Key.Name()] = t.Value
		}
		e.l.Debug("metric",
			zap.String("view", viewData.View.Name),
			zap.Any("tags", tags),
			zap.Any("data", row.Data),
		)
	}
}
