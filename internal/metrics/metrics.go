package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meowfilm",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meowfilm",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	SiteRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meowfilm",
		Name:      "search_site_requests_total",
		Help:      "Total spider search requests by site key and result status.",
	}, []string{"site", "status"})

	SiteRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meowfilm",
		Name:      "search_site_request_duration_seconds",
		Help:      "Spider search request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"site"})

	SearchRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meowfilm",
		Name:      "search_runs_total",
		Help:      "Search runs by outcome (ok, error, cancelled).",
	}, []string{"outcome"})

	PlayResolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meowfilm",
		Name:      "play_resolve_total",
		Help:      "Play resolutions by result status.",
	}, []string{"status"})

	PlayerFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meowfilm",
		Name:      "player_fallbacks_total",
		Help:      "Automatic switches from the primary to the software engine.",
	})

	DetailCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meowfilm",
		Name:      "detail_cache_hits_total",
		Help:      "Total number of detail cache hits.",
	})

	DetailCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meowfilm",
		Name:      "detail_cache_misses_total",
		Help:      "Total number of detail cache misses.",
	})

	RendererConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meowfilm",
		Name:      "player_renderer_connections",
		Help:      "Renderer WebSocket clients currently attached.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SiteRequestsTotal,
		SiteRequestDuration,
		SearchRunsTotal,
		PlayResolveTotal,
		PlayerFallbacksTotal,
		DetailCacheHitsTotal,
		DetailCacheMissesTotal,
		RendererConnections,
	)
}
