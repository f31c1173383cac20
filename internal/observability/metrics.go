package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the venue.
type Metrics struct {
	// --- Engine ---
	CommandsApplied   *prometheus.CounterVec
	CommandsRejected  *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	PriceTicksApplied prometheus.Counter
	OpenOrders        prometheus.Gauge
	UsersTotal        prometheus.Gauge

	// --- Latency ---
	IngestToApply  *prometheus.HistogramVec
	PublishLatency *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- Router ---
	RouterInflight  prometheus.Gauge
	RouterResolved  *prometheus.CounterVec
	RouterRoundTrip prometheus.Histogram

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotErrors    prometheus.Counter

	// --- Poller ---
	PollerTicksReceived  *prometheus.CounterVec
	PollerBatchesFlushed prometheus.Counter
	PollerBatchSize      prometheus.Histogram
	PollerReconnects     prometheus.Counter

	// --- Gateway API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_commands_applied_total",
			Help: "Commands processed by the engine",
		}, []string{"type", "outcome"}),

		CommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_commands_rejected_total",
			Help: "Commands rejected before apply (parse, validation)",
		}, []string{"reason"}),

		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "venue_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"type"}),

		PriceTicksApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_price_ticks_applied_total",
			Help: "Price ticks written to the cache",
		}),

		OpenOrders: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_open_orders",
			Help: "Currently open orders across all users",
		}),

		UsersTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_users_total",
			Help: "Registered users",
		}),

		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "venue_ingest_to_apply_seconds",
			Help:    "Stream receive to engine apply complete",
			Buckets: ingestBuckets,
		}, []string{"type"}),

		PublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "venue_publish_latency_seconds",
			Help:    "JetStream publish round-trip latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venue_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venue_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venue_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		RouterInflight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_router_inflight",
			Help: "Requests awaiting an engine response",
		}),

		RouterResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_router_resolved_total",
			Help: "Request resolutions (matched/timeout/orphan)",
		}, []string{"outcome"}),

		RouterRoundTrip: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "venue_router_round_trip_seconds",
			Help:    "Command publish to response delivery",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_snapshot_taken_total",
			Help: "Snapshots persisted",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "venue_snapshot_duration_seconds",
			Help:    "Snapshot capture and write time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_snapshot_errors_total",
			Help: "Snapshot persistence failures",
		}),

		PollerTicksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_poller_ticks_received_total",
			Help: "Book ticker messages received from the exchange feed",
		}, []string{"asset"}),

		PollerBatchesFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_poller_batches_flushed_total",
			Help: "Price update batches published",
		}),

		PollerBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "venue_poller_batch_size",
			Help:    "Ticks per published batch",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50},
		}),

		PollerReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_poller_reconnects_total",
			Help: "Websocket reconnect attempts",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_api_requests_total",
			Help: "Gateway HTTP requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "venue_api_duration_seconds",
			Help:    "Gateway HTTP latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
