// Package metrics provides Prometheus metrics for the Skein worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the worker.
type Metrics struct {
	// Task metrics
	TasksLaunched  prometheus.Counter
	TasksCompleted *prometheus.CounterVec // by terminal state
	TasksInFlight  prometheus.Gauge

	// Checkpoint metrics
	CheckpointWrites    prometheus.Counter
	CheckpointRaces     prometheus.Counter
	CheckpointFailures  prometheus.Counter
	CheckpointBytes     prometheus.Counter
	CheckpointWriteSecs prometheus.Histogram

	// Protocol metrics
	MessagesReceived  *prometheus.CounterVec // by message type
	StatusUpdatesSent *prometheus.CounterVec // by state
	EarlyLaunches     prometheus.Counter     // LaunchTask before registration
}

// Init registers and returns worker metrics under the given namespace.
// Call once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "skein"
	}

	return &Metrics{
		TasksLaunched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_launched_total",
			Help:      "Total number of tasks handed to the local executor",
		}),
		TasksCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_completed_total",
				Help:      "Total number of tasks reaching a terminal state",
			},
			[]string{"state"},
		),
		TasksInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Number of tasks currently executing",
		}),
		CheckpointWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of partition checkpoint files committed",
		}),
		CheckpointRaces: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_races_total",
			Help:      "Duplicate checkpoint attempts that converged on an existing file",
		}),
		CheckpointFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_failures_total",
			Help:      "Partition checkpoint writes that failed",
		}),
		CheckpointBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_bytes_total",
			Help:      "Total bytes written to checkpoint files",
		}),
		CheckpointWriteSecs: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_write_duration_seconds",
			Help:      "Time to write one partition checkpoint file",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		MessagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Control messages received from the coordinator",
			},
			[]string{"type"},
		),
		StatusUpdatesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_updates_sent_total",
				Help:      "Task status updates sent to the coordinator",
			},
			[]string{"state"},
		),
		EarlyLaunches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "early_launches_total",
			Help:      "Task launch messages ignored because registration was not confirmed",
		}),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts the metrics HTTP server on addr. Blocks.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
