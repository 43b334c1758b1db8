package metrics

import (
	"time"

	"go.opencensus.io/stats"
)

// ObjectsMetrics is a common set of metrics reporting about object (fragment) activity
type ObjectsMetrics struct {
	ObjectCount *stats.Int64Measure `metric:"objectCount" description:"number of objects" extraviews:"sum" tags:"kind,operation"`
	ObjectSize  *stats.Int64Measure `metric:"objectSize" unit:"bytes" description:"size of objects" extraviews:"sum" tags:"kind,operation"`
}

func (f *ObjectsMetrics) tags(operation string) map[string]string {
	return map[string]string{"kind": "objects", "operation": operation}
}

// Inc increments the counter for objects
func (f *ObjectsMetrics) Inc(operation string) {
	Inc(f.ObjectCount, f.tags(operation))
}

// Add increments the counter for objects by some amount
func (f *ObjectsMetrics) Add(count int, operation string) {
	if count == 0 {
		return
	}
	Int64(f.ObjectCount, int64(count), f.tags(operation))
}

// Size measures the size of an object
func (f *ObjectsMetrics) Size(size int64, operation string) {
	if size == 0 {
		return
	}
	Int64(f.ObjectSize, size, f.tags(operation))
}

// FragmentsMetrics reports about the content of table fragments
type FragmentsMetrics struct {
	Rows    *stats.Int64Measure `metric:"fragmentRows" unit:"rows" description:"number of rows stored in a fragment" extraviews:"sum" tags:"kind,format"`
	Deleted *stats.Int64Measure `metric:"fragmentDeletedRows" unit:"rows" description:"number of rows deleted by a diff fragment" extraviews:"sum" tags:"kind,format"`
}

func (f *FragmentsMetrics) tags(format string) map[string]string {
	return map[string]string{"kind": "fragments", "format": format}
}

// Record the number of rows stored, and deleted, by a fragment of some format (SNAP or DIFF)
func (f *FragmentsMetrics) Record(format string, rows, deleted int) {
	Int64(f.Rows, int64(rows), f.tags(format))
	if deleted > 0 {
		Int64(f.Deleted, int64(deleted), f.tags(format))
	}
}

// CacheMetrics reports hits and misses on some cache
type CacheMetrics struct {
	Hits   *stats.Int64Measure `metric:"cacheHits" description:"number of cache hits" extraviews:"sum" tags:"kind,cache"`
	Misses *stats.Int64Measure `metric:"cacheMisses" description:"number of cache misses" extraviews:"sum" tags:"kind,cache"`
}

func (c *CacheMetrics) tags(cache string) map[string]string {
	return map[string]string{"kind": "cache", "cache": cache}
}

// Hit records a cache hit
func (c *CacheMetrics) Hit(cache string) {
	Inc(c.Hits, c.tags(cache))
}

// Miss records a cache miss
func (c *CacheMetrics) Miss(cache string) {
	Inc(c.Misses, c.tags(cache))
}

// IOMetrics is a common set of metrics reporting about IO activity
type IOMetrics struct {
	Count        *stats.Int64Measure   `metric:"ioCount" description:"number of IO requests" tags:"kind,operation"`
	Timing       *stats.Float64Measure `metric:"timing" unit:"milliseconds" description:"response time in milliseconds" tags:"kind,operation"`
	Failures     *stats.Int64Measure   `metric:"ioFailures" description:"number of failed IOs" tags:"kind,operation"`
	IOSize       *stats.Int64Measure   `metric:"ioSize" unit:"bytes" description:"IO chunk size in bytes" extraviews:"sum" tags:"kind,operation"`
	IOThroughput *stats.Float64Measure `metric:"throughput" unit:"bytespersec" description:"distribution of throughput of an unitary operation in bytes per second" tags:"kind,operation"`
}

func (n *IOMetrics) tags(operation string) map[string]string {
	return map[string]string{"kind": "io", "operation": operation}
}

// Size records the size of some IO operation. Zero sizes are not recorded.
func (n *IOMetrics) Size(size int64, operation string) {
	if size == 0 {
		return
	}
	Int64(n.IOSize, size, n.tags(operation))
}

// Failed records a failure on some IO operation
func (n *IOMetrics) Failed(operation string) {
	Inc(n.Failures, n.tags(operation))
}

// Throughput records a throughput on a successful, non-empty, IO operation. Expressed in bytes per second.
func (n *IOMetrics) Throughput(start, end time.Time, size int64, operation string) {
	if size == 0 {
		return
	}
	elapsed := end.Sub(start)
	if elapsed == 0 {
		return
	}
	rate := float64(size) / (float64(elapsed) / 1e9)
	Float64(n.IOThroughput, rate, n.tags(operation))
}

// IORecord records all metrics for an IO operation in one go.
//
// Example with deferred error capture:
//
//	defer func(start time.Time) {
//	  transfers.IORecord(start, "upload")(size, err)
//	}(time.Now())
func (n *IOMetrics) IORecord(start time.Time, operation string) func(int64, error) {
	return func(size int64, err error) {
		now := time.Now()
		Duration(start, now, n.Timing, n.tags(operation))
		Inc(n.Count, n.tags(operation))
		n.Size(size, operation)
		if err != nil {
			Inc(n.Failures, n.tags(operation))
			return
		}
		n.Throughput(start, now, size, operation)
	}
}

// UsageMetrics is a common set of metrics reporting about usage
type UsageMetrics struct {
	Count    *stats.Int64Measure   `metric:"usageCount" description:"number of calls" tags:"kind,method"`
	Failures *stats.Int64Measure   `metric:"usageFailures" description:"number of failed calls" tags:"kind,method"`
	Timing   *stats.Float64Measure `metric:"timing" unit:"milliseconds" description:"duration of a call" tags:"kind,method"`
}

func (u *UsageMetrics) tags(method string) map[string]string {
	return map[string]string{"kind": "usage", "method": method}
}

// UsedAll records usage of some instrumented entry point with failures, in one go.
//
// Example:
//
//	defer func(start time.Time) {
//	  usage.UsedAll(start, "Push")(err)
//	}(time.Now())
func (u *UsageMetrics) UsedAll(start time.Time, method string) func(error) {
	return func(err error) {
		Since(start, u.Timing, u.tags(method))
		Inc(u.Count, u.tags(method))
		if err != nil {
			Inc(u.Failures, u.tags(method))
			return
		}
	}
}
