// Package metrics declares this relay's Prometheus instrumentation:
// active stream connections, provider fetch outcomes, bytes pumped
// through the stream proxy, and ingestion run duration. Package-level
// promauto vars and an xtreamrelay_ metric prefix, grounded on
// ManuGH-xg2g's internal/metrics package (streaming.go/business.go),
// the only pack example that builds a Prometheus surface of any
// size.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveStreams tracks currently open downstream stream responses,
	// labeled by target and cluster (live/vod/series).
	ActiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xtreamrelay_active_streams",
		Help: "Number of currently open downstream stream connections",
	}, []string{"target", "cluster"})

	// ProviderFetchTotal counts upstream fetch attempts by provider and
	// outcome.
	ProviderFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xtreamrelay_provider_fetch_total",
		Help: "Total upstream provider fetch attempts by outcome",
	}, []string{"provider", "outcome"})

	// ProviderActiveConnections mirrors provider.Manager's live
	// connection count per provider, for capacity dashboards.
	ProviderActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xtreamrelay_provider_active_connections",
		Help: "Current active connections held against an upstream provider",
	}, []string{"provider"})

	// StreamBytesTotal sums bytes relayed from provider to downstream
	// client through internal/streamproxy.Pump.
	StreamBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xtreamrelay_stream_bytes_total",
		Help: "Total bytes relayed from an upstream provider to downstream clients",
	}, []string{"target"})

	// StreamReconnectsTotal is registered and exported, but nothing
	// increments it: streamproxy.Pump's reconnect attempts are not counted.
	StreamReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xtreamrelay_stream_reconnects_total",
		Help: "Total upstream reconnect attempts during stream pumping",
	}, []string{"target"})

	// IngestDuration tracks how long one scheduler ingestion run takes
	// per target, end to end (fetch + pipeline + repository write).
	IngestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xtreamrelay_ingest_duration_seconds",
		Help:    "Duration of one ingestion run for a target",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"target", "outcome"})

	// SharedStreamSubscribers tracks how many downstream clients are
	// currently fanned out from one shared upstream fetch
	// (internal/sharedstate.Broadcaster).
	SharedStreamSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xtreamrelay_shared_stream_subscribers",
		Help: "Number of downstream subscribers currently attached to a shared upstream stream",
	}, []string{"target"})
)

// Handler exposes the registered collectors on /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
