package cafs

import (
	"github.com/oneconcern/tablemon/pkg/metrics"
)

// M describes metrics for the cafs package
type M struct {
	Volume struct {
		Objects   metrics.ObjectsMetrics   `group:"objects" description:"metrics about fragments stored in the local cache"`
		Fragments metrics.FragmentsMetrics `group:"fragments" description:"rows held by fragments stored in the local cache"`
		Decoded   metrics.CacheMetrics     `group:"decoded" description:"decoded fragments served from memory"`
		IO        metrics.IOMetrics        `group:"io" description:"metrics about cache IO operations"`
	} `group:"volumetry" description:"volumetry of the local fragment cache"`
}
