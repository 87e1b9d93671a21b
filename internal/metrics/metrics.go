package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periskope_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "periskope_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Synchronizer metrics
	MessagesMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periskope_sync_messages_merged_total",
			Help: "Messages added to a live sequence",
		},
		[]string{"source"}, // "fetch" or "feed"
	)

	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periskope_sync_duplicates_dropped_total",
			Help: "Messages ignored because their ID was already present",
		},
	)

	StaleEventsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periskope_sync_stale_events_discarded_total",
			Help: "Fetch results and feed events dropped because the selection changed",
		},
		[]string{"source"},
	)

	Resubscribes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periskope_sync_resubscribes_total",
			Help: "Change feed resubscription attempts after a drop",
		},
		[]string{"result"}, // "ok" or "failed"
	)

	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periskope_sync_sends_total",
			Help: "Send requests by outcome",
		},
		[]string{"result"}, // "ok", "failed" or "ignored"
	)

	ActiveSynchronizers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "periskope_sync_active",
			Help: "Synchronizers currently open",
		},
	)

	// Auth metrics
	MagicLinksRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periskope_magic_links_requested_total",
			Help: "Magic link requests by outcome",
		},
		[]string{"result"},
	)

	MagicLinksConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periskope_magic_links_confirmed_total",
			Help: "Magic link confirmations by outcome",
		},
		[]string{"result"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "periskope_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"driver", "op"},
	)
)
