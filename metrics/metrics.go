// Package metrics provides Prometheus metrics for live sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aegis"

// Outcome and status label values.
const (
	OutcomeEnded = "ended"
	OutcomeError = "error"

	statusSuccess = "success"
	statusError   = "error"
)

// Audio frame kinds.
const (
	FrameVoice   = "voice"
	FrameSilence = "silence"
)

// Summary fallback results.
const (
	FallbackFound    = "found"
	FallbackNotFound = "not_found"
	FallbackError    = "error"
)

var (
	// sessionsActive is a gauge of sessions between start and release.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active live sessions",
		},
	)

	// sessionsTotal counts terminated sessions by outcome.
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of terminated live sessions",
		},
		[]string{"outcome"}, // outcome: ended, error
	)

	// sessionDuration is a histogram of session wall time.
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Histogram of live session duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"outcome"},
	)

	// phaseTransitionsTotal counts session phase transitions.
	phaseTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Total number of session phase transitions",
		},
		[]string{"from", "to"},
	)

	// audioFramesTotal counts encoded microphone windows.
	audioFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_total",
			Help:      "Total number of encoded microphone frames sent",
		},
		[]string{"kind"}, // kind: voice, silence
	)

	// videoFramesTotal counts camera snapshots sent.
	videoFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_frames_total",
			Help:      "Total number of camera frames sent",
		},
	)

	// playbackSegmentsTotal counts inbound audio segments queued for playback.
	playbackSegmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_total",
			Help:      "Total number of inbound audio segments queued",
		},
	)

	// playbackUnitDuration is a histogram of coalesced playback unit length.
	playbackUnitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_unit_duration_seconds",
			Help:      "Histogram of played audio unit duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"status"}, // status: success, error
	)

	// protocolErrorsTotal counts inbound frames dropped as malformed.
	protocolErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total number of inbound messages dropped as malformed",
		},
		[]string{"type"},
	)

	// summaryFallbackTotal counts out-of-band summary lookups by result.
	summaryFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_fallback_total",
			Help:      "Total number of fallback summary lookups",
		},
		[]string{"result"}, // result: found, not_found, error
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		phaseTransitionsTotal,
		audioFramesTotal,
		videoFramesTotal,
		playbackSegmentsTotal,
		playbackUnitDuration,
		protocolErrorsTotal,
		summaryFallbackTotal,
	}
)

// RecordSessionStart records a session leaving idle.
func RecordSessionStart() {
	sessionsActive.Inc()
}

// RecordSessionEnd records a session reaching a terminal phase.
func RecordSessionEnd(outcome string, durationSeconds float64) {
	sessionsActive.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordPhaseTransition records a phase change.
func RecordPhaseTransition(from, to string) {
	phaseTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordAudioFrame records a sent microphone frame.
func RecordAudioFrame(silent bool) {
	kind := FrameVoice
	if silent {
		kind = FrameSilence
	}
	audioFramesTotal.WithLabelValues(kind).Inc()
}

// RecordVideoFrame records a sent camera frame.
func RecordVideoFrame() {
	videoFramesTotal.Inc()
}

// RecordPlaybackSegment records an inbound segment being queued.
func RecordPlaybackSegment() {
	playbackSegmentsTotal.Inc()
}

// RecordPlaybackUnit records a completed playback unit.
func RecordPlaybackUnit(failed bool, durationSeconds float64) {
	status := statusSuccess
	if failed {
		status = statusError
	}
	playbackUnitDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordProtocolError records a dropped inbound message.
func RecordProtocolError(msgType string) {
	if msgType == "" {
		msgType = "unknown"
	}
	protocolErrorsTotal.WithLabelValues(msgType).Inc()
}

// RecordSummaryFallback records the result of a fallback summary lookup.
func RecordSummaryFallback(result string) {
	summaryFallbackTotal.WithLabelValues(result).Inc()
}
