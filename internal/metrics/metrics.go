// Package metrics exposes Prometheus collectors for the watcher. Collectors
// register on the default registry at init; the HTTP layer serves them via
// promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watcher_frames_sent_total",
		Help: "Number of screen frames sent to the model.",
	})
	framesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watcher_frames_skipped_total",
		Help: "Number of captured frames skipped due to encoding failures.",
	})
	serverEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watcher_server_events_total",
		Help: "Number of server events received, by event kind.",
	}, []string{"kind"})
	sessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watcher_sessions_opened_total",
		Help: "Number of live sessions successfully established.",
	})
)

// RecordFrameSent counts one frame delivered to the model.
func RecordFrameSent() {
	framesSent.Inc()
}

// RecordFrameSkipped counts one frame dropped before delivery.
func RecordFrameSkipped() {
	framesSkipped.Inc()
}

// RecordServerEvent counts one inbound event of the given kind.
func RecordServerEvent(kind string) {
	serverEvents.WithLabelValues(kind).Inc()
}

// RecordSessionOpened counts one established live session.
func RecordSessionOpened() {
	sessionsOpened.Inc()
}

// RegisterCaptureStats exposes capture pipeline counters as Prometheus
// counters backed by the given stats callback.
func RegisterCaptureStats(stats func() (published uint64, dropped uint64)) {
	prometheus.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "watcher_capture_published_total",
		Help: "Number of frames published by the capture pipeline.",
	}, func() float64 {
		published, _ := stats()
		return float64(published)
	}))
	prometheus.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "watcher_capture_dropped_total",
		Help: "Number of captured frames dropped unconsumed.",
	}, func() float64 {
		_, dropped := stats()
		return float64(dropped)
	}))
}
