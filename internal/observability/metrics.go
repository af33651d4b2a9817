package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RoleClient = "client"
	RoleServer = "server"

	DirectionIn  = "in"
	DirectionOut = "out"

	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

var (
	registerOnce sync.Once

	wireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "wire",
			Name:      "payload_bytes_total",
			Help:      "Frame payload bytes moved over the wire.",
		},
		[]string{"role", "direction"},
	)
	wireFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "wire",
			Name:      "frames_total",
			Help:      "Frames moved over the wire.",
		},
		[]string{"role", "direction"},
	)
	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "client",
			Name:      "exchanges_total",
			Help:      "Client exchanges resolved, by outcome.",
		},
		[]string{"outcome"},
	)
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgewire",
			Subsystem: "session",
			Name:      "active",
			Help:      "Live sessions.",
		},
		[]string{"role"},
	)
	loggedErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "server",
			Name:      "errors_total",
			Help:      "Errors appended to the server error log.",
		},
		[]string{"fatal"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(wireBytes, wireFrames, exchanges, activeSessions, loggedErrors)
	})
}

func RecordFrame(role, direction string, payloadBytes int) {
	RegisterMetrics()
	wireFrames.WithLabelValues(role, direction).Inc()
	wireBytes.WithLabelValues(role, direction).Add(float64(payloadBytes))
}

func RecordExchange(outcome string, n int) {
	RegisterMetrics()
	if n <= 0 {
		return
	}
	exchanges.WithLabelValues(outcome).Add(float64(n))
}

func SessionOpened(role string) {
	RegisterMetrics()
	activeSessions.WithLabelValues(role).Inc()
}

func SessionClosed(role string) {
	RegisterMetrics()
	activeSessions.WithLabelValues(role).Dec()
}

func RecordServerError(fatal bool) {
	RegisterMetrics()
	loggedErrors.WithLabelValues(strconv.FormatBool(fatal)).Inc()
}
