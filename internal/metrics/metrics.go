// Package metrics exposes Prometheus counters for the call pipeline.
// One registry per process, built at startup and passed by reference.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates every instrument the daemon records.
type Metrics struct {
	registry *prometheus.Registry

	CallsStarted   prometheus.Counter
	CallsEnded     prometheus.Counter
	TurnsTotal     prometheus.Counter
	BargeIns       prometheus.Counter
	DroppedPackets prometheus.Counter

	STTErrors        *prometheus.CounterVec
	NLPErrors        *prometheus.CounterVec
	TTSErrors        prometheus.Counter
	PlaybackTimeouts prometheus.Counter

	NLPLatency prometheus.Histogram
	TTSLatency prometheus.Histogram
}

// New builds a Metrics set on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.CallsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_calls_started_total",
		Help: "Calls that entered the orchestrator.",
	})
	m.CallsEnded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_calls_ended_total",
		Help: "Calls that reached Closed.",
	})
	m.TurnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_turns_total",
		Help: "Completed conversation turns.",
	})
	m.BargeIns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_bargein_total",
		Help: "Times a caller interrupted active playback.",
	})
	m.DroppedPackets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_media_dropped_packets_total",
		Help: "Malformed or short media packets discarded.",
	})

	m.STTErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxgate_stt_errors_total",
		Help: "STT backend errors by type.",
	}, []string{"type"})
	m.NLPErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxgate_nlp_errors_total",
		Help: "NLP backend errors by type.",
	}, []string{"type"})
	m.TTSErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_tts_errors_total",
		Help: "TTS synthesis failures.",
	})
	m.PlaybackTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_playback_timeouts_total",
		Help: "Playback monitors that gave up waiting for PlaybackFinished.",
	})

	m.NLPLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "voxgate_nlp_latency_seconds",
		Help: "Time from user text to first spoken chunk.",
	})
	m.TTSLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "voxgate_tts_latency_seconds",
		Help: "Time to synthesize one speakable unit.",
	})

	m.registry.MustRegister(
		m.CallsStarted, m.CallsEnded, m.TurnsTotal, m.BargeIns, m.DroppedPackets,
		m.STTErrors, m.NLPErrors, m.TTSErrors, m.PlaybackTimeouts,
		m.NLPLatency, m.TTSLatency,
	)
	return m
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
