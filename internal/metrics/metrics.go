// Package metrics exposes Prometheus instrumentation for capture sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts pipeline start attempts by variant and outcome.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenrec_sessions_total",
		Help: "Capture pipeline start attempts by outcome",
	}, []string{"variant", "result"})

	// SessionDuration tracks how long Active sessions lasted.
	SessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "screenrec_session_duration_seconds",
		Help:    "Wall time between pipeline activation and stop",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
	}, []string{"variant"})

	// DrainSamples counts encoded samples written to the muxer.
	DrainSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenrec_drain_samples_total",
		Help: "Encoded samples forwarded to the container writer",
	})

	// DrainBytes counts encoded bytes written to the muxer.
	DrainBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenrec_drain_bytes_total",
		Help: "Encoded bytes forwarded to the container writer",
	})

	// DrainErrors counts transient drain loop failures by kind.
	DrainErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenrec_drain_errors_total",
		Help: "Transient failures inside the encoder drain loop",
	}, []string{"kind"})

	// TeardownFailures counts failed release steps by step name.
	TeardownFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenrec_teardown_failures_total",
		Help: "Release steps that failed during pipeline teardown",
	}, []string{"step"})

	// MirrorDroppedFrames counts frames dropped by the mirror queue.
	MirrorDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenrec_mirror_dropped_frames_total",
		Help: "Mirrored frames dropped because the encoder input was backlogged",
	})
)

// IncSession records a start attempt outcome.
func IncSession(variant, result string) {
	SessionsTotal.WithLabelValues(variant, result).Inc()
}

// IncDrainError records a transient drain failure.
func IncDrainError(kind string) {
	DrainErrors.WithLabelValues(kind).Inc()
}

// IncTeardownFailure records a failed teardown step.
func IncTeardownFailure(step string) {
	TeardownFailures.WithLabelValues(step).Inc()
}

// ObserveSample records one sample written to the container.
func ObserveSample(bytes int) {
	DrainSamples.Inc()
	DrainBytes.Add(float64(bytes))
}

var (
	// ProcessSignals counts signals sent to helper processes.
	ProcessSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenrec_process_signals_total",
		Help: "Signals delivered to helper process groups by outcome",
	}, []string{"signal", "outcome"})

	// ProcessExits counts how helper processes ended.
	ProcessExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenrec_process_exits_total",
		Help: "Helper process exits by kind",
	}, []string{"kind"})
)

// IncProcessSignal records a signal delivery attempt.
func IncProcessSignal(signal, outcome string) {
	ProcessSignals.WithLabelValues(signal, outcome).Inc()
}

// IncProcessExit records how a helper process ended.
func IncProcessExit(kind string) {
	ProcessExits.WithLabelValues(kind).Inc()
}
