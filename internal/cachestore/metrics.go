package cachestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registered at package init via promauto, generalized from HTTP cache
// hit/miss counters to this cache's install/evict/sweep/pin vocabulary.
// There is one CacheStore per proxy process, shared by every
// SessionManager, so package-level registration is safe.
var (
	mEntriesInstalled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachestore_entries_installed_total",
		Help: "Total number of cache entries installed.",
	})
	mEntriesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachestore_entries_evicted_total",
		Help: "Total number of cache entries removed by make_room eviction.",
	})
	mEntriesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachestore_entries_swept_total",
		Help: "Total number of stale cache entries removed by sweep_stale.",
	})
	mBytesCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cachestore_bytes_current",
		Help: "Current tracked cache footprint in bytes, including writer temp files.",
	})
	mPins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachestore_pins_total",
		Help: "Total number of pin operations.",
	})
	mUnpins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachestore_unpins_total",
		Help: "Total number of unpin operations.",
	})
)
