// Package metrics provides Prometheus metrics for tailguard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "tailguard"
)

// Tailer metrics
var (
	// LinesTotal counts complete lines delivered to the sink.
	LinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "lines_total",
			Help:      "Total complete lines read from the target file",
		},
		[]string{"path"},
	)

	// BytesReadTotal counts bytes read from the target file.
	BytesReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "bytes_read_total",
			Help:      "Total bytes read from the target file",
		},
		[]string{"path"},
	)

	// TruncationsTotal counts truncations detected under an open handle.
	TruncationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "truncations_total",
			Help:      "Total truncations detected while reading",
		},
		[]string{"path"},
	)

	// AttachesTotal counts successful attaches by mode (cold, hot).
	AttachesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "attaches_total",
			Help:      "Total successful attaches to the target file",
		},
		[]string{"path", "mode"},
	)

	// AttachErrorsTotal counts failed attach attempts.
	AttachErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "attach_errors_total",
			Help:      "Total failed attach attempts",
		},
		[]string{"path"},
	)

	// DetachesTotal counts detaches by reason (deleted, unlinked, moved, shutdown).
	DetachesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "detaches_total",
			Help:      "Total detaches from the target file",
		},
		[]string{"path", "reason"},
	)

	// ReadErrorsTotal counts failed reads.
	ReadErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "read_errors_total",
			Help:      "Total read errors on the target file",
		},
		[]string{"path"},
	)

	// EventsTotal counts filesystem events handled by the reconciler.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "events_total",
			Help:      "Total filesystem events handled",
		},
		[]string{"path", "scope"}, // file, dir, ignored
	)

	// Attached is 1 while a live handle to the target is held.
	Attached = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "attached",
			Help:      "Whether the target file is currently attached",
		},
		[]string{"path"},
	)
)

// Alerting metrics
var (
	// AlertsTotal counts alerts raised per rule.
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_total",
			Help:      "Total alerts raised",
		},
		[]string{"rule"},
	)

	// AlertsSuppressedTotal counts alerts suppressed by cooldown.
	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "suppressed_total",
			Help:      "Total alerts suppressed by cooldown",
		},
		[]string{"rule"},
	)
)

// Notifier metrics
var (
	// NotificationsTotal counts notification attempts by notifier and result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "notifications_total",
			Help:      "Total notification attempts",
		},
		[]string{"notifier", "result"}, // success, failure
	)

	// NotificationsRateLimitedTotal counts notifications dropped by the rate limiter.
	NotificationsRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "rate_limited_total",
			Help:      "Total notifications dropped due to rate limiting",
		},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
