package server

import (
	"strconv"

	"github.com/MeKo-Tech/idcap/internal/capture"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcap_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idcap_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Capture workflow metrics
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idcap_sessions_active",
			Help: "Number of open capture sessions",
		},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcap_state_transitions_total",
			Help: "Total number of capture state transitions",
		},
		[]string{"to", "trigger"},
	)

	capturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcap_captures_total",
			Help: "Total number of captured sides",
		},
		[]string{"side", "glare"},
	)

	glarePercent = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idcap_capture_glare_percent",
			Help:    "Percentage of glare pixels in captured sides",
			Buckets: []float64{0, .1, .2, .5, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcap_submissions_total",
			Help: "Total number of submission attempts",
		},
		[]string{"status"}, // status: success, error
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcap_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests
	)

	// Frame upload metrics
	frameSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idcap_frame_size_bytes",
			Help:    "Size of encoded frames pushed by clients",
			Buckets: []float64{10 * 1024, 50 * 1024, 100 * 1024, 250 * 1024, 1024 * 1024, 5 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idcap_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcap_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)

	websocketEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idcap_websocket_events_dropped_total",
			Help: "Events not delivered to a slow WebSocket client",
		},
	)
)

// recordEvent updates the workflow metrics for a machine event.
func recordEvent(e capture.Event) {
	t := e.Transition
	if t == nil {
		return
	}
	transitionsTotal.WithLabelValues(t.To.String(), t.Trigger).Inc()

	switch {
	case t.To == capture.FrontCaptured || t.To == capture.BackCaptured:
		flagged := false
		if r := e.Snapshot.Report; r != nil {
			flagged = r.Flagged
			glarePercent.Observe(r.Percentage)
		}
		capturesTotal.WithLabelValues(e.Snapshot.Side.String(), strconv.FormatBool(flagged)).Inc()
	case t.To == capture.ProcessComplete:
		submissionsTotal.WithLabelValues("success").Inc()
	case t.From == capture.Sending && t.To == capture.AllCaptured:
		submissionsTotal.WithLabelValues("error").Inc()
	}
}
