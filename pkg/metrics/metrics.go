// Package metrics defines Prometheus metrics for the session subsystem.
//
// Metric naming follows Prometheus conventions:
//   - procureauth_ prefix for all metrics
//   - _total suffix for counters
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
	OutcomeExpired   = "expired"
	OutcomeRecovered = "recovered"
)

type Metrics struct {
	LoginsTotal         *prometheus.CounterVec
	RefreshesTotal      *prometheus.CounterVec
	LogoutsTotal        prometheus.Counter
	GatewayRetriesTotal *prometheus.CounterVec
	ActiveSession       prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procureauth_logins_total",
				Help: "Total login attempts by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procureauth_refreshes_total",
				Help: "Total credential refreshes by outcome.",
			},
			[]string{"outcome"},
		),
		LogoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "procureauth_logouts_total",
				Help: "Total transitions from an authenticated session to logged out.",
			},
		),
		GatewayRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procureauth_gateway_retries_total",
				Help: "Total refresh-and-retry cycles run by the request gateway, by outcome.",
			},
			[]string{"outcome"},
		),
		ActiveSession: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "procureauth_session_active",
				Help: "1 while a session is authenticated, 0 otherwise.",
			},
		),
	}
}

// Register adds every collector to reg. Collectors already registered with
// reg are tolerated so a process can share one Metrics across clients.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil || reg == nil {
		return nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.LoginsTotal,
		m.RefreshesTotal,
		m.LogoutsTotal,
		m.GatewayRetriesTotal,
		m.ActiveSession,
	}
}

func (m *Metrics) ObserveLogin(method, outcome string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(method, outcome).Inc()
	if outcome == OutcomeSuccess {
		m.ActiveSession.Set(1)
	}
}

func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLogout() {
	if m == nil {
		return
	}
	m.LogoutsTotal.Inc()
	m.ActiveSession.Set(0)
}

// ObserveRestore marks a session adopted without a login, e.g. at bootstrap.
func (m *Metrics) ObserveRestore() {
	if m == nil {
		return
	}
	m.ActiveSession.Set(1)
}

func (m *Metrics) ObserveGatewayRetry(outcome string) {
	if m == nil {
		return
	}
	m.GatewayRetriesTotal.WithLabelValues(outcome).Inc()
}
