// Package metrics exposes Prometheus counters for the session bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the Prometheus collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "sessionbridge").
	Namespace string

	// Registry receives the collectors. Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures Config.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Recorder records bridge events. A nil *Recorder is valid and records nothing.
type Recorder struct {
	guardDecisions *prometheus.CounterVec
	providerCalls  *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	bypassTokens   *prometheus.CounterVec
	signOuts       *prometheus.CounterVec
	evictions      prometheus.Counter
}

// New registers the collectors and returns a Recorder.
func New(opts ...Option) *Recorder {
	cfg := Config{
		Namespace: "sessionbridge",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)

	return &Recorder{
		guardDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "guard_decisions_total",
			Help:      "Role guard decisions by resulting state",
		}, []string{"state"}),

		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "provider_calls_total",
			Help:      "Calls to the managed auth provider by operation and outcome",
		}, []string{"operation", "outcome"}),

		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "session_refreshes_total",
			Help:      "Session refresh attempts by outcome",
		}, []string{"outcome"}),

		bypassTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "bypass_tokens_total",
			Help:      "Bypass token operations by outcome",
		}, []string{"outcome"}),

		signOuts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "sign_outs_total",
			Help:      "Session sign-outs by outcome",
		}, []string{"outcome"}),

		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "revocations_evicted_total",
			Help:      "Revoked tokens dropped from the full in-memory store",
		}),
	}
}

// GuardDecision counts one role guard decision.
func (r *Recorder) GuardDecision(state string) {
	if r == nil {
		return
	}
	r.guardDecisions.WithLabelValues(state).Inc()
}

// ProviderCall counts one provider call.
func (r *Recorder) ProviderCall(operation, outcome string) {
	if r == nil {
		return
	}
	r.providerCalls.WithLabelValues(operation, outcome).Inc()
}

// Refresh counts one refresh attempt. outcome is "success", "failure" or "coalesced".
func (r *Recorder) Refresh(outcome string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(outcome).Inc()
}

// BypassToken counts one bypass token operation.
func (r *Recorder) BypassToken(outcome string) {
	if r == nil {
		return
	}
	r.bypassTokens.WithLabelValues(outcome).Inc()
}

// SignOut counts one sign-out.
func (r *Recorder) SignOut(outcome string) {
	if r == nil {
		return
	}
	r.signOuts.WithLabelValues(outcome).Inc()
}

// RevocationEvicted counts one revocation dropped from the in-memory store.
func (r *Recorder) RevocationEvicted() {
	if r == nil {
		return
	}
	r.evictions.Inc()
}
