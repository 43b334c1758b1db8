package metrics

import "go.opencensus.io/stats"

type exampleMetrics struct {
	Telemetry struct {
		UsageCounts   []ObjectsMetrics      `group:"usage" description:""`    // ignored
		FailureCounts []*stats.Int64Measure `group:"failures" description:""` // ignored
		TestCount     *stats.Int64Measure   `metric:"testCount" description:"number of tests"`
	} `group:"telemetry" description:"usage of the test suite"`
	Volumetry struct {
		Objects   ObjectsMetrics   `group:"objects" description:""`
		Cache     CacheMetrics     `group:"cache" description:""`
		Fragments FragmentsMetrics `group:"fragments" description:""`
	} `group:"volumetry" description:"local fragment cache"`
	Transfers struct {
		Handler IOMetrics `group:"handler"`
	} `group:"transfers" description:"fragments exchanged with external handlers"`
}

func (e *exampleMetrics) IncTest() {
	Inc(e.Telemetry.TestCount, map[string]string{"kind": "test"})
}
