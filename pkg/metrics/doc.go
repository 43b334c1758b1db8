// Package metrics collects opencensus measurements for tablemon components.
//
// Components describe their metrics as a tree of structs decorated with tags,
// registered once with EnsureMetrics. Exporters are configured by the CLI with Init.
package metrics
