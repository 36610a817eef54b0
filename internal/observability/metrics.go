package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce        sync.Once
	dockRequestsTotal   *prometheus.CounterVec
	dockLatencySeconds  *prometheus.HistogramVec
	dockErrorsTotal     *prometheus.CounterVec
	dockSessionsActive  prometheus.Gauge
	dockMessagesSent    prometheus.Counter
	dockWindowEvictions prometheus.Counter
	dockOpenChatTotal   *prometheus.CounterVec
	dockPresenceEvents  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used for dock observability.
func RegisterMetrics() {
	registerOnce.Do(func() {
		dockRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dock_requests_total",
			Help: "Total number of chat dock API requests served.",
		}, []string{"method", "route", "status"})

		dockLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dock_latency_seconds",
			Help:    "Latency distribution for chat dock API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		dockErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dock_errors_total",
			Help: "Total number of error responses returned by dock endpoints.",
		}, []string{"method", "route", "status"})

		dockSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dock_sessions_active",
			Help: "Number of dock websocket sessions currently connected.",
		})

		dockMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dock_messages_sent_total",
			Help: "Total number of chat messages sent through the dock.",
		})

		dockWindowEvictions = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dock_window_evictions_total",
			Help: "Total number of chat windows evicted by the capacity rule.",
		})

		dockOpenChatTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dock_open_chat_total",
			Help: "Total number of open-chat invocations by outcome.",
		}, []string{"outcome"})

		dockPresenceEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dock_presence_events_total",
			Help: "Total number of presence events applied.",
		}, []string{"kind"})

		prometheus.MustRegister(
			dockRequestsTotal,
			dockLatencySeconds,
			dockErrorsTotal,
			dockSessionsActive,
			dockMessagesSent,
			dockWindowEvictions,
			dockOpenChatTotal,
			dockPresenceEvents,
		)
	})
}

// DockRequests exposes the counter for dock requests.
func DockRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return dockRequestsTotal
}

// DockLatency exposes the latency histogram for dock requests.
func DockLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return dockLatencySeconds
}

// DockErrors exposes the counter for dock error responses.
func DockErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return dockErrorsTotal
}

// SessionsActive exposes the gauge of connected dock sessions.
func SessionsActive() prometheus.Gauge {
	RegisterMetrics()
	return dockSessionsActive
}

// MessagesSent exposes the counter of sent chat messages.
func MessagesSent() prometheus.Counter {
	RegisterMetrics()
	return dockMessagesSent
}

// WindowEvictions exposes the counter of capacity evictions.
func WindowEvictions() prometheus.Counter {
	RegisterMetrics()
	return dockWindowEvictions
}

// OpenChats exposes the counter of open-chat invocations.
func OpenChats() *prometheus.CounterVec {
	RegisterMetrics()
	return dockOpenChatTotal
}

// PresenceEvents exposes the counter of applied presence events.
func PresenceEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return dockPresenceEvents
}
