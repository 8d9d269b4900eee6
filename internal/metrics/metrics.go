// ABOUTME: Prometheus collectors for relay exchanges, generation latency, and session transitions
// ABOUTME: A nil *Metrics is valid and records nothing

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/claude-relay/internal/session"
)

// Exchange outcomes.
const (
	OutcomeOK              = "ok"
	OutcomeGenerationError = "generation_error"
	OutcomeStoreError      = "store_error"
)

// Metrics holds the relay's collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	exchanges   *prometheus.CounterVec
	generation  *prometheus.HistogramVec
	truncations prometheus.Counter
	transitions *prometheus.CounterVec
	costUSD     prometheus.Counter
}

// New creates and registers the relay collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claude_relay_exchanges_total",
				Help: "Message exchanges handled, by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
		generation: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claude_relay_generation_duration_seconds",
				Help:    "Wall time of Claude CLI invocations",
				Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"resumed"},
		),
		truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claude_relay_truncations_total",
			Help: "Replies cut to the length cap",
		}),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claude_relay_session_transitions_total",
				Help: "Applied session state transitions",
			},
			[]string{"event", "from", "to"},
		),
		costUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claude_relay_cost_usd_total",
			Help: "Cumulative cost reported by the Claude CLI",
		}),
	}

	m.registry.MustRegister(
		m.exchanges,
		m.generation,
		m.truncations,
		m.transitions,
		m.costUSD,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveExchange counts one handled message.
func (m *Metrics) ObserveExchange(transport, outcome string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(transport, outcome).Inc()
}

// ObserveGeneration records a CLI invocation's wall time and cost.
func (m *Metrics) ObserveGeneration(d time.Duration, resumed bool, costUSD float64) {
	if m == nil {
		return
	}
	label := "false"
	if resumed {
		label = "true"
	}
	m.generation.WithLabelValues(label).Observe(d.Seconds())
	if costUSD > 0 {
		m.costUSD.Add(costUSD)
	}
}

// ObserveTruncation counts a reply cut to the length cap.
func (m *Metrics) ObserveTruncation() {
	if m == nil {
		return
	}
	m.truncations.Inc()
}

// TransitionHook returns a session.TransitionHook feeding the transitions counter.
func (m *Metrics) TransitionHook() session.TransitionHook {
	return func(_ string, from, to session.State, event session.Event) {
		if m == nil {
			return
		}
		m.transitions.WithLabelValues(event.String(), from.String(), to.String()).Inc()
	}
}
