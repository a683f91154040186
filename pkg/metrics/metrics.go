// Package metrics exposes run counters for signals, rejections, trades and
// equity. Each run owns its registry so repeated or concurrent runs (tests,
// walk-forward windows) never collide on global registration.
//
//   - rangefx_signals_total{module}               proposals from decision modules
//   - rangefx_rejections_total{code}              pipeline rejections by code
//   - rangefx_positions_opened_total{module,side} admitted positions
//   - rangefx_exits_total{reason}                 closes by reason
//   - rangefx_partials_total{module}              partial exits taken
//   - rangefx_equity                              equity after the last close
//   - rangefx_regime_score{instrument}            latest effective regime score
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one run
type Metrics struct {
	Registry *prometheus.Registry

	Signals    *prometheus.CounterVec
	Rejections *prometheus.CounterVec
	Opened     *prometheus.CounterVec
	Exits      *prometheus.CounterVec
	Partials   *prometheus.CounterVec
	Equity     prometheus.Gauge
	Regime     *prometheus.GaugeVec
}

// New creates and registers a fresh set of collectors
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rangefx_signals_total",
				Help: "Signals proposed by decision modules",
			},
			[]string{"module"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rangefx_rejections_total",
				Help: "Signals rejected by the arbitration pipeline, by code",
			},
			[]string{"code"},
		),
		Opened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rangefx_positions_opened_total",
				Help: "Positions opened",
			},
			[]string{"module", "side"},
		),
		Exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rangefx_exits_total",
				Help: "Positions closed, by reason",
			},
			[]string{"reason"},
		),
		Partials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rangefx_partials_total",
				Help: "Partial exits taken",
			},
			[]string{"module"},
		),
		Equity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rangefx_equity",
				Help: "Account equity after the last close",
			},
		),
		Regime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rangefx_regime_score",
				Help: "Latest effective regime score per instrument",
			},
			[]string{"instrument"},
		),
	}
	m.Registry.MustRegister(m.Signals, m.Rejections, m.Opened, m.Exits, m.Partials, m.Equity, m.Regime)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RejectionCounts returns the rejection counter per code as plain numbers
func (m *Metrics) RejectionCounts() map[string]int {
	out := make(map[string]int)
	families, err := m.Registry.Gather()
	if err != nil {
		return out
	}
	for _, f := range families {
		if f.GetName() != "rangefx_rejections_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "code" {
					out[lp.GetValue()] = int(metric.GetCounter().GetValue())
				}
			}
		}
	}
	return out
}
