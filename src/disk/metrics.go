package disk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pageHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "toydb",
		Subsystem: "buffer_pool",
		Name:      "page_hits_total",
		Help:      "Fetches served from a resident frame.",
	})
	pageMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "toydb",
		Subsystem: "buffer_pool",
		Name:      "page_misses_total",
		Help:      "Fetches that had to admit the page from disk.",
	})
	pageEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "toydb",
		Subsystem: "buffer_pool",
		Name:      "page_evictions_total",
		Help:      "Frames reclaimed through the replacer.",
	})
	pageWritebacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "toydb",
		Subsystem: "buffer_pool",
		Name:      "page_writebacks_total",
		Help:      "Page writebacks submitted to the disk proxy.",
	})
)
