package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request client metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigsync_requests_total",
			Help: "REST requests issued by method and outcome kind",
		},
		[]string{"method", "outcome"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigsync_cache_lookups_total",
			Help: "Cached GET lookups by result (hit, stale, miss)",
		},
		[]string{"result"},
	)

	BackgroundRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigsync_cache_refreshes_total",
			Help: "Background stale-while-revalidate refreshes by outcome",
		},
		[]string{"outcome"},
	)

	// Push channel metrics
	ChannelConnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigsync_channel_connects_total",
			Help: "Successful push channel connections",
		},
	)

	ChannelDisconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigsync_channel_disconnects_total",
			Help: "Push channel connections lost",
		},
	)

	DroppedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigsync_channel_dropped_frames_total",
			Help: "Outbound frames dropped from the offline buffer",
		},
	)

	ActiveTopics = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gigsync_active_topics",
			Help: "Topics with an acknowledged subscription",
		},
	)

	// Store metrics
	PushesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigsync_pushes_total",
			Help: "Inbound pushes by result (new, duplicate, ignored)",
		},
		[]string{"result"},
	)

	UnreadNotifications = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gigsync_unread_notifications",
			Help: "Unread notifications in the local store",
		},
	)

	ReadBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigsync_read_batches_total",
			Help: "Mark-as-read mutations sent by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(CacheLookups)
	prometheus.MustRegister(BackgroundRefreshes)
	prometheus.MustRegister(ChannelConnects)
	prometheus.MustRegister(ChannelDisconnects)
	prometheus.MustRegister(DroppedFrames)
	prometheus.MustRegister(ActiveTopics)
	prometheus.MustRegister(PushesApplied)
	prometheus.MustRegister(UnreadNotifications)
	prometheus.MustRegister(ReadBatches)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
