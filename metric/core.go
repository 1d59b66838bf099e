package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Core contains the service-wide metrics shared by the fan-out and
// spectrum subsystems.
type Core struct {
	// Connection lifecycle
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	DisconnectsTotal  *prometheus.CounterVec

	// Fan-out
	MessagesQueued  prometheus.Counter
	MessagesSent    prometheus.Counter
	MessagesDropped prometheus.Counter
	BytesSent       prometheus.Counter
	WriteFailures   prometheus.Counter

	// Spectrum pipeline
	FramesComputed  prometheus.Counter
	FramesBroadcast prometheus.Counter
	BatchesSkipped  *prometheus.CounterVec
	SampleQueueHigh prometheus.Gauge
	ComputeDuration prometheus.Histogram

	// Inbound commands
	CommandsReceived *prometheus.CounterVec
	CommandErrors    prometheus.Counter
}

// NewCore creates the core service metrics.
func NewCore() *Core {
	return &Core{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rpx",
			Subsystem: "fanout",
			Name:      "connections_active",
			Help:      "Number of currently registered client connections",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "fanout",
			Name:      "connections_total",
			Help:      "Total client connections accepted",
		}),
		DisconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "fanout",
			Name:      "disconnects_total",
			Help:      "Total client removals by reason",
		}, []string{"reason"}),

		MessagesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "fanout",
			Name:      "messages_queued_total",
			Help:      "Total payloads appended to connection buffers",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "fanout",
			Name:      "messages_sent_total",
			Help:      "Total payloads transmitted to clients",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "fanout",
			Name:      "messages_dropped_total",
			Help:      "Total buffered payloads dropped on connection removal",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "fanout",
			Name:      "bytes_sent_total",
			Help:      "Total bytes transmitted to clients",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "fanout",
			Name:      "write_failures_total",
			Help:      "Total write failures that forced connection removal",
		}),

		FramesComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "spectrum",
			Name:      "frames_computed_total",
			Help:      "Total spectrum frames computed",
		}),
		FramesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "spectrum",
			Name:      "frames_broadcast_total",
			Help:      "Total spectrum frames broadcast to clients",
		}),
		BatchesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "spectrum",
			Name:      "batches_skipped_total",
			Help:      "Total pipeline cycles skipped by reason",
		}, []string{"reason"}),
		SampleQueueHigh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rpx",
			Subsystem: "spectrum",
			Name:      "sample_queue_high_water",
			Help:      "High-water mark of the inbound sample queue",
		}),
		ComputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rpx",
			Subsystem: "spectrum",
			Name:      "compute_duration_seconds",
			Help:      "Time spent estimating one power spectrum",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		CommandsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "commands",
			Name:      "received_total",
			Help:      "Total inbound client commands by name",
		}, []string{"command"}),
		CommandErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpx",
			Subsystem: "commands",
			Name:      "errors_total",
			Help:      "Total inbound commands that failed to parse",
		}),
	}
}

// register registers all core metrics with the Prometheus registry.
func (c *Core) register(reg *prometheus.Registry) {
	reg.MustRegister(
		c.ConnectionsActive,
		c.ConnectionsTotal,
		c.DisconnectsTotal,
		c.MessagesQueued,
		c.MessagesSent,
		c.MessagesDropped,
		c.BytesSent,
		c.WriteFailures,
		c.FramesComputed,
		c.FramesBroadcast,
		c.BatchesSkipped,
		c.SampleQueueHigh,
		c.ComputeDuration,
		c.CommandsReceived,
		c.CommandErrors,
	)
}
