package loader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tilevas",
		Name:      "cache_hits_total",
		Help:      "Total number of tiles served from the cache",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tilevas",
		Name:      "cache_misses_total",
		Help:      "Total number of tile cache misses",
	})

	downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilevas",
		Name:      "downloads_total",
		Help:      "Total number of tile downloads by result",
	}, []string{"result"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tilevas",
		Name:      "download_duration_seconds",
		Help:      "Latency of upstream tile downloads in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	renderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tilevas",
		Name:      "render_duration_seconds",
		Help:      "Time spent rasterizing a tile",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"renderer"})
)
