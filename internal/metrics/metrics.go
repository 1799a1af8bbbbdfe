// Package metrics provides Prometheus instrumentation for the ccip server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the
// global default) so that only ccip metrics appear on the /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors used by the ccip server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	EvaluationsTotal     prometheus.Counter
	RuleUsesTotal        *prometheus.CounterVec
	CheckInsTotal        prometheus.Counter
	RulesetLoadsTotal    *prometheus.CounterVec
	RulesetInvalidations prometheus.Counter
	AuthFailuresTotal    prometheus.Counter
}

// New creates and registers all ccip metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccip_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccip_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccip_status_evaluations_total",
			Help: "Total number of attendee status evaluations.",
		}),

		RuleUsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccip_rule_uses_total",
			Help: "Total number of rule consumption attempts by outcome.",
		}, []string{"outcome"}),

		CheckInsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccip_check_ins_total",
			Help: "Total number of first-use attendee check-ins.",
		}),

		RulesetLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccip_ruleset_loads_total",
			Help: "Total number of ruleset cache loads by result.",
		}, []string{"result"}),

		RulesetInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccip_ruleset_invalidations_total",
			Help: "Total number of NOTIFY-triggered ruleset invalidations.",
		}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccip_auth_failures_total",
			Help: "Total number of failed admin authentication attempts.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EvaluationsTotal,
		m.RuleUsesTotal,
		m.CheckInsTotal,
		m.RulesetLoadsTotal,
		m.RulesetInvalidations,
		m.AuthFailuresTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordEvaluation increments the status evaluation counter.
func (m *Metrics) RecordEvaluation() {
	m.EvaluationsTotal.Inc()
}

// RecordRuleUse increments the rule consumption counter for one outcome.
func (m *Metrics) RecordRuleUse(outcome string) {
	m.RuleUsesTotal.WithLabelValues(outcome).Inc()
}

// AttendeeCheckedIn increments the check-in counter.
func (m *Metrics) AttendeeCheckedIn() {
	m.CheckInsTotal.Inc()
}

// RulesetReloaded increments the ruleset load counter for one result.
func (m *Metrics) RulesetReloaded(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.RulesetLoadsTotal.WithLabelValues(result).Inc()
}

// RulesetInvalidated increments the NOTIFY invalidation counter.
func (m *Metrics) RulesetInvalidated() {
	m.RulesetInvalidations.Inc()
}
