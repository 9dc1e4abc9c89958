package observability

import (
	"context"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatflow"

// Message outcomes reported by ObserveMessage.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeFallback  = "fallback"
	OutcomeError     = "error"
)

// Metrics holds the engine collectors.
type Metrics struct {
	NodeVisits      *prometheus.CounterVec
	SessionEnds     *prometheus.CounterVec
	Fallbacks       *prometheus.CounterVec
	DispatchErrors  *prometheus.CounterVec
	Messages        *prometheus.CounterVec
	MessageDuration *prometheus.HistogramVec
	SessionsExpired prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_visits_total",
				Help:      "Total number of nodes rendered, by flow and node kind.",
			},
			[]string{"flow_id", "kind"},
		),
		SessionEnds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_ends_total",
				Help:      "Total number of conversations that returned to idle, by reason.",
			},
			[]string{"reason"},
		),
		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Total number of messages routed to the AI fallback, by outcome.",
			},
			[]string{"outcome"},
		),
		DispatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_errors_total",
				Help:      "Total number of actions the transport failed to deliver, by action type.",
			},
			[]string{"action_type"},
		),
		Messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of inbound messages, by outcome.",
			},
			[]string{"outcome"},
		),
		MessageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_duration_seconds",
				Help:      "Time spent handling one inbound message.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		SessionsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_expired_total",
				Help:      "Total number of idle sessions removed by the janitor.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.NodeVisits, m.SessionEnds, m.Fallbacks, m.DispatchErrors, m.Messages, m.MessageDuration, m.SessionsExpired)
	}
	return m
}

// ObserveSweep counts the sessions removed by one janitor sweep.
func (m *Metrics) ObserveSweep(removed int) {
	m.SessionsExpired.Add(float64(removed))
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			m.NodeVisits.WithLabelValues(e.FlowID, string(e.Kind)).Inc()
		},
		OnSessionEnd: func(ctx context.Context, e *domain.SessionEvent) {
			m.SessionEnds.WithLabelValues(string(e.Reason)).Inc()
		},
		OnFallback: func(ctx context.Context, e *domain.FallbackEvent) {
			m.Fallbacks.WithLabelValues(fallbackOutcome(e)).Inc()
		},
		OnDispatchError: func(ctx context.Context, e *domain.DispatchEvent) {
			m.DispatchErrors.WithLabelValues(string(e.Action.Type)).Inc()
		},
	}
}

func fallbackOutcome(e *domain.FallbackEvent) string {
	switch {
	case e.Throttled:
		return "throttled"
	case e.Answered:
		return "answered"
	default:
		return "empty"
	}
}

// ObserveMessage records the outcome and latency of one inbound message.
func (m *Metrics) ObserveMessage(d time.Duration, matched, fallback bool, err error) {
	outcome := OutcomeUnmatched
	switch {
	case err != nil:
		outcome = OutcomeError
	case fallback:
		outcome = OutcomeFallback
	case matched:
		outcome = OutcomeMatched
	}
	m.Messages.WithLabelValues(outcome).Inc()
	m.MessageDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
