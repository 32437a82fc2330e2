/*
 *
 * browser-perfbudget - performance budget checks driven by a real browser
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package metrics exports suite results as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grafana/browser-perfbudget/perf"
)

// Metrics holds the Prometheus metrics of suite runs. Each instance owns
// its registry so several suites can be exported side by side.
type Metrics struct {
	registry *prometheus.Registry

	// Sample values, labeled by scenario, temperature and metric name.
	Sample *prometheus.GaugeVec

	// Budget violations, labeled by scenario and metric name.
	ViolationsTotal *prometheus.CounterVec

	// Scenario outcomes, labeled by result (passed, violated, failed).
	ScenariosTotal *prometheus.CounterVec

	LastRunTimestamp prometheus.Gauge
	LastRunPassed    prometheus.Gauge
}

// New creates a new Metrics instance registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Sample: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "perfbudget_sample_value",
				Help: "Counter value captured for the measured navigation of a scenario",
			},
			[]string{"scenario", "temperature", "metric"},
		),
		ViolationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfbudget_budget_violations_total",
				Help: "Total number of budget checks that failed",
			},
			[]string{"scenario", "metric"},
		),
		ScenariosTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfbudget_scenarios_total",
				Help: "Total number of scenarios run, by result",
			},
			[]string{"result"},
		),
		LastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "perfbudget_last_run_timestamp_seconds",
				Help: "Unix time the last suite run finished",
			},
		),
		LastRunPassed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "perfbudget_last_run_passed",
				Help: "Whether the last suite run passed (1) or not (0)",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveResult records the outcome and sample of one scenario.
func (m *Metrics) ObserveResult(res perf.Result) {
	switch {
	case res.Error != "":
		m.ScenariosTotal.WithLabelValues("failed").Inc()
	case len(res.Violations) > 0:
		m.ScenariosTotal.WithLabelValues("violated").Inc()
	default:
		m.ScenariosTotal.WithLabelValues("passed").Inc()
	}

	for _, v := range res.Violations {
		m.ViolationsTotal.WithLabelValues(res.Scenario, v.Metric).Inc()
	}

	if res.Sample == nil {
		return
	}
	for name, v := range res.Sample.Metrics() {
		m.Sample.WithLabelValues(res.Scenario, string(res.Temperature), name).Set(float64(v))
	}
}

// ObserveReport records every result of r and the run summary.
func (m *Metrics) ObserveReport(r *perf.Report) {
	for _, res := range r.Results {
		m.ObserveResult(res)
	}

	m.LastRunTimestamp.Set(float64(r.Finished.Unix()))
	if r.Passed() {
		m.LastRunPassed.Set(1)
	} else {
		m.LastRunPassed.Set(0)
	}
}

// WriteToTextfile writes the metrics in the text exposition format, for
// the node exporter textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %q: %w", path, err)
	}
	return nil
}
