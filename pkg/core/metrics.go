package core

import (
	"github.com/oneconcern/tablemon/pkg/metrics"
)

// M describes metrics for the core package
type M struct {
	Volume struct {
		Images  metrics.ObjectsMetrics `group:"images" description:"images committed, imported or deleted"`
		Objects metrics.ObjectsMetrics `group:"objects" description:"objects downloaded on checkout, or reclaimed by the garbage collector"`
	} `group:"volumetry" description:""`
	Usage metrics.UsageMetrics `group:"telemetry" description:"usage stats for the core package"`
}

func (e *Engine) countImages(count int, operation string) {
	if !e.MetricsEnabled() {
		return
	}
	e.m.Volume.Images.Add(count, operation)
}

func (e *Engine) countObjects(count int, operation string) {
	if !e.MetricsEnabled() {
		return
	}
	e.m.Volume.Objects.Add(count, operation)
}
