package metrics

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

const (
	// KB stands for kilo bytes (1024 bytes)
	KB = units.KiB

	// MB stands for mega bytes (1024 kilo bytes)
	MB = units.MiB

	// GB stands for giga bytes (1024 mega bytes)
	GB = units.GiB

	unitCount    = "count"
	unitRows     = "rows"
	unitSumBytes = "sumbytes"
	unitBps      = "bps"
)

var (
	// global settings for metrics
	mp       *settings
	initOnce sync.Once
)

type settings struct {
	basePath   string
	globalTags map[string]string
	tagged     context.Context
	exporter   view.Exporter

	allMetrics []stats.Measure
	allViews   []*view.View

	// a map of all registered modules
	modules   map[string]interface{}
	exclusive sync.Mutex

	d time.Duration
}

// defaultSettings collect metrics without any exporter: views may still be retrieved with Snapshot
func defaultSettings() *settings {
	return &settings{
		modules:    make(map[string]interface{}),
		globalTags: make(map[string]string),
		tagged:     context.Background(),
		// default reporting period is left to the default from opencensus exporter (10s)
	}
}

func newSettings(opts ...Option) *settings {
	s := defaultSettings()
	for _, apply := range opts {
		apply(s)
	}

	s.tagged = s.taggedContext()
	s.RegisterExporter()
	return s
}

func (s *settings) globalKeys() []string {
	keys := make([]string, 0, len(s.globalTags))
	for k := range s.globalTags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// taggedContext carries the global tags, so they are recorded with every measurement
func (s *settings) taggedContext() context.Context {
	if len(s.globalTags) == 0 {
		return context.Background()
	}
	ctx, err := tag.New(context.Background(), mergeTags([]map[string]string{s.globalTags})...)
	if err != nil {
		return context.Background()
	}
	return ctx
}

func (s *settings) EnsureMetrics(location string, m interface{}) interface{} {
	s.exclusive.Lock()
	defer s.exclusive.Unlock()
	location = path.Join(s.basePath, location)

	if existing, ok := s.modules[location]; ok {
		if !equalType(existing, m) {
			panic("trying to re-register existing metrics module with a different type")
		}
		return existing
	}
	scanStruct(location, s.addMetric, m)
	s.modules[location] = m
	return m
}

// Flush collects all remaining data for registered views and exports them
func (s *settings) Flush() {
	if s.exporter == nil {
		return
	}
	for _, v := range s.allViews {
		rows, err := view.RetrieveData(v.Name)
		if err != nil {
			continue // ignore errors when pushing metrics
		}
		data := &view.Data{
			View:  v,
			Start: time.Now(), // cannot figure out last snapshot time from the background worker
			End:   time.Now(),
			Rows:  rows,
		}
		s.exporter.ExportView(data)
	}
}

// registerExporter registers the current set exporter to the opencensus library
func (s *settings) RegisterExporter() {
	if s.exporter != nil {
		view.RegisterExporter(s.exporter)
		if s.d >= time.Second {
			view.SetReportingPeriod(s.d)
		}
	}
}

// addMetric creates a measure with its views, according to the decoded struct tags.
//
// Every measure gets a default view according to its unit:
//   - counters (unit=count or "") get a count view
//   - bytes get a bytes size distribution view
//   - rows get a distribution of the number of rows
//   - timings (milliseconds) get a duration distribution view
//   - throughputs (bytespersec) get a throughput distribution view
//   - sumbytes get a cumulated bytes size sum view
//
// Extra views are declared by the extraviews tag, e.g. extraviews:"sum,lastvalue,count"
func (s *settings) addMetric(m interface{}, metric, group string, tags map[string]string) interface{} {
	name := path.Join(group, metric)
	description := tags["description"]
	if description == "" {
		description = describeFromTags(name, tags)
	}
	u, dist := unitAndDist(tags["unit"])

	measure := newMeasure(m, name, description, u)
	if measure == nil {
		return nil
	}
	s.allMetrics = append(s.allMetrics, measure)

	keys := s.groupingKeys(tags["groupings"])
	s.registerView(&view.View{
		Name:        name,
		Description: describeViewFromDist(description, dist),
		Measure:     measure,
		Aggregation: dist,
		TagKeys:     keys,
	})

	for _, extra := range strings.Split(tags["views"], ",") {
		agg, ok := extraAggregations[extra]
		if !ok {
			continue
		}
		aggregation := agg()
		s.registerView(&view.View{
			Name:        describeViewFromDist(name, aggregation),
			Description: describeViewFromDist(description, aggregation),
			Measure:     measure,
			Aggregation: aggregation,
			TagKeys:     keys,
		})
	}
	return measure
}

var extraAggregations = map[string]func() *view.Aggregation{
	unitCount:   view.Count,
	"sum":       view.Sum,
	"lastvalue": view.LastValue,
}

func newMeasure(m interface{}, name, description, unit string) stats.Measure {
	switch m.(type) {
	case *stats.Int64Measure:
		return stats.Int64(name, description, unit)
	case *stats.Float64Measure:
		return stats.Float64(name, description, unit)
	default:
		return nil
	}
}

// groupingKeys builds the tag keys of views, from the tags struct tag and the global tags
func (s *settings) groupingKeys(groupings string) []tag.Key {
	keys := make([]tag.Key, 0, len(s.globalTags)+2)
	seen := make(map[string]bool)
	for _, g := range append(strings.Split(groupings, ","), s.globalKeys()...) {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		keys = append(keys, tag.MustNewKey(g))
	}
	return keys
}

func (s *settings) registerView(v *view.View) {
	s.allViews = append(s.allViews, v)
	_ = view.Register(v)
}

func durationDistribution() *view.Aggregation {
	// buckets in milliseconds
	return view.Distribution(
		10, 50,
		100, 300, 500, 700, 900,
		1000, 1300, 1500, 1700, 1900,
		2000, 3000, 5000, 7000, 9000,
		10000, 30000, 50000, 70000, 90000,
		100000,
	)
}

func bytesDistribution() *view.Aggregation {
	// buckets in bytes
	return view.Distribution(
		500,
		1*KB, 5*KB, 10*KB, 50*KB,
		100*KB, 500*KB,
		1*MB, 10*MB, 100*MB,
		1*GB, 10*GB,
	)
}

func rowsDistribution() *view.Aggregation {
	// buckets in number of rows per fragment
	return view.Distribution(
		1, 10, 100, 500,
		1000, 5000, 10000, 50000,
		100000, 500000, 1000000,
	)
}

func throughputDistribution() *view.Aggregation {
	return view.Distribution(
		1*KB, 5*KB, 50*KB, 100*KB, // for small fragments
		1*MB,
		10*MB,
		20*MB,
		50*MB,
		100*MB,
		150*MB,
	)
}

func unitAndDist(unit string) (string, *view.Aggregation) {
	switch unit {
	case "milliseconds":
		return stats.UnitMilliseconds, durationDistribution()
	case "bytes":
		return stats.UnitBytes, bytesDistribution()
	case unitSumBytes:
		return stats.UnitBytes, view.Sum()
	case unitRows:
		return unitRows, rowsDistribution()
	case "bytespersec", unitBps:
		return unitBps, throughputDistribution()
	case unitCount:
		fallthrough
	default:
		return stats.UnitDimensionless, view.Count()
	}
}

func describeFromTags(name string, tags map[string]string) string {
	unit := tags["unit"]
	switch unit {
	case unitSumBytes:
		name += " cumulated bytes"
	case "", unitCount:
		name += " counter"
	default:
		name += " in " + unit
	}
	return name
}

func describeViewFromDist(desc string, in *view.Aggregation) string {
	if in == nil {
		return desc
	}
	switch in.Type {
	case view.AggTypeCount:
		return desc + " [count]"
	case view.AggTypeSum:
		return desc + " [cumulated]"
	case view.AggTypeDistribution:
		return desc + " [distribution]"
	case view.AggTypeLastValue:
		return desc + " [last]"
	case view.AggTypeNone:
		fallthrough
	default:
		return desc
	}
}

// FlushExporter is a view exporter that knows how to flush metrics.
//
// This basically means that we may export views concurrently with the default
// background exporter.
type FlushExporter interface {
	view.Exporter
	Flush(*view.Data)
}

// flusher makes a FlushExporter of view.Exporter
func flusher(e view.Exporter) FlushExporter {
	return &simpleFlusher{
		e: e,
	}
}

type simpleFlusher struct {
	e view.Exporter
	m sync.RWMutex
}

func (f *simpleFlusher) ExportView(viewData *view.Data) {
	f.m.RLock() // we don't want to lock out the view background worker, which may parallelize things however it sees fit
	f.e.ExportView(viewData)
	f.m.RUnlock()
}

func (f *simpleFlusher) Flush(viewData *view.Data) {
	f.m.Lock()
	f.e.ExportView(viewData)
	f.m.Unlock()
}

// Snapshot retrieves the current rows of a registered view, by name.
//
// It is mostly useful to inspect counters without any exporter configured.
func Snapshot(name string) ([]*view.Row, error) {
	return view.RetrieveData(name)
}
