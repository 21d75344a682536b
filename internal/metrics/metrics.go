// Package metrics exposes Prometheus counters and gauges for the coordinator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_active_rooms_total",
		Help: "Number of rooms currently in the registry",
	})

	ActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_active_peers_total",
		Help: "Number of peers currently joined across all rooms",
	})

	ActiveProducers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_active_producers_total",
		Help: "Number of producers currently open across all rooms",
	})

	ActiveConsumers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_active_consumers_total",
		Help: "Number of consumers currently open across all rooms",
	})

	WorkerRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfu_worker_restarts_total",
		Help: "Total number of worker-death-triggered process exits scheduled",
	})

	MessagesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_signaling_messages_received_total",
		Help: "Total inbound signaling requests by method",
	}, []string{"method"})

	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_signaling_messages_sent_total",
		Help: "Total outbound signaling emissions by event type",
	}, []string{"event"})

	RequestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_signaling_request_errors_total",
		Help: "Total request handler failures by error kind",
	}, []string{"method", "kind"})

	EngineCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sfu_engine_call_duration_seconds",
		Help:    "Latency of calls into the media engine",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"operation"})
)

// ObserveEngineCall records the wall-clock duration of a media-engine call.
func ObserveEngineCall(operation string, start time.Time) {
	EngineCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
