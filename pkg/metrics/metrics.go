// Package metrics holds the prometheus collectors shared by the connection
// manager and the action dispatcher. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "voxchat"

type Metrics struct {
	ActionsStarted   *prometheus.CounterVec
	ActionsCompleted *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	PendingActions   prometheus.Gauge
	PushFrames       *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg skips
// registration, which keeps tests independent of the default registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ActionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_started_total",
			Help:      "Actions issued, by kind.",
		}, []string{"kind"}),
		ActionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_completed_total",
			Help:      "Actions resolved into a terminal transcript entry, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Time from issuing an action to its terminal entry.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		PendingActions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_actions",
			Help:      "Actions issued but not yet resolved.",
		}),
		PushFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_frames_total",
			Help:      "Inbound push-channel frames, by result (ok, malformed, discarded).",
		}, []string{"result"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_state_transitions_total",
			Help:      "Push-channel state transitions, by target state.",
		}, []string{"state"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.ActionsStarted, m.ActionsCompleted, m.ActionDuration,
		m.PendingActions, m.PushFrames, m.StateTransitions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register metrics")
		}
	}
	return m, nil
}

func (m *Metrics) ActionStarted(kind string) {
	if m == nil {
		return
	}
	m.ActionsStarted.WithLabelValues(kind).Inc()
	m.PendingActions.Inc()
}

func (m *Metrics) ActionCompleted(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ActionsCompleted.WithLabelValues(kind, outcome).Inc()
	m.ActionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	m.PendingActions.Dec()
}

func (m *Metrics) PushFrame(result string) {
	if m == nil {
		return
	}
	m.PushFrames.WithLabelValues(result).Inc()
}

func (m *Metrics) StateTransition(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}
