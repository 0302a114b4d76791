// Package metric defines the bridge's Prometheus instrumentation and the
// HTTP endpoint that exposes it.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every instrument the bridge records
type Metrics struct {
	// Origin session
	SessionState       prometheus.Gauge
	Reconnects         prometheus.Counter
	FramesReceived     prometheus.Counter
	EventsSuppressed   prometheus.Counter
	FramesUntranslated prometheus.Counter

	// Bus side
	EventsPublished   *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	CommandsHandled   *prometheus.CounterVec
	ActionsSent       *prometheus.CounterVec
	BusConnected      prometheus.Gauge
	StateMirrorWrites *prometheus.CounterVec
}

// NewMetrics creates the full instrument set, unregistered
func NewMetrics() *Metrics {
	return &Metrics{
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncbridge",
			Subsystem: "session",
			Name:      "state",
			Help:      "Session liveness (0=disconnected, 1=reconnecting, 2=connected)",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncbridge",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Total number of successful reconnections",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncbridge",
			Subsystem: "session",
			Name:      "frames_received_total",
			Help:      "Total raw frames received from the origin platform",
		}),
		EventsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncbridge",
			Subsystem: "translate",
			Name:      "suppressed_total",
			Help:      "Chat frames discarded during the replay-suppression window",
		}),
		FramesUntranslated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncbridge",
			Subsystem: "translate",
			Name:      "unknown_total",
			Help:      "Frames with no canonical representation",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncbridge",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Canonical events relayed to the bus",
		}, []string{"type"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncbridge",
			Subsystem: "bus",
			Name:      "publish_failures_total",
			Help:      "Bus publishes that failed",
		}, []string{"kind"}),
		CommandsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncbridge",
			Subsystem: "bus",
			Name:      "commands_handled_total",
			Help:      "Command requests processed, by command and outcome",
		}, []string{"command", "status"}),
		ActionsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncbridge",
			Subsystem: "bus",
			Name:      "actions_sent_total",
			Help:      "Outbound origin-platform actions, by action and outcome",
		}, []string{"action", "status"}),
		BusConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncbridge",
			Subsystem: "bus",
			Name:      "connected",
			Help:      "Bus connection status (1=connected)",
		}),
		StateMirrorWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncbridge",
			Subsystem: "state",
			Name:      "mirror_writes_total",
			Help:      "State mirror KV writes, by class and outcome",
		}, []string{"class", "status"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SessionState,
		m.Reconnects,
		m.FramesReceived,
		m.EventsSuppressed,
		m.FramesUntranslated,
		m.EventsPublished,
		m.PublishFailures,
		m.CommandsHandled,
		m.ActionsSent,
		m.BusConnected,
		m.StateMirrorWrites,
	}
}
