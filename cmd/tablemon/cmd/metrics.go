package cmd

import (
	"time"

	"github.com/oneconcern/tablemon/pkg/dlogger"
	"github.com/oneconcern/tablemon/pkg/metrics"
	"github.com/oneconcern/tablemon/pkg/metrics/exporters/zaplog"
)

type metricsFlags struct {
	enabled bool
	m       *M
}

// M describes metrics for the cmd package
type M struct {
	Usage metrics.UsageMetrics `group:"telemetry" description:"usage stats for tablemon CLI"`
}

// initMetrics registers the metrics exporter, which logs views at debug level
func initMetrics() {
	if !tablemonFlags.root.metrics.enabled {
		return
	}
	l, err := dlogger.GetLogger(dlogger.LogLevelDebug, dlogger.WithConsole(), dlogger.WithOutput("stderr"))
	if err != nil {
		wrapFatalln("metrics logger", err)
		return
	}
	metrics.Init(
		metrics.WithBasePath("tablemon"),
		metrics.WithGlobalTags(map[string]string{"namespace": cfg.Namespace()}),
		metrics.WithExporter(zaplog.NewExporter(l)),
	)
	tablemonFlags.root.metrics.m = metrics.EnsureMetrics("cli", &M{}).(*M)
}

// cliUsage records a usage metric in the CLI context in a single go.
// This is intended to be used in some defer statement.
//
// Metrics are flushed as soon as the command is done.
func cliUsage(t0 time.Time, command string, err error) {
	if tablemonFlags.root.metrics.enabled && tablemonFlags.root.metrics.m != nil {
		tablemonFlags.root.metrics.m.Usage.UsedAll(t0, command)(err)
		metrics.Flush()
	}
}
