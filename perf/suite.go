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

package perf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grafana/browser-perfbudget/browserprocess"
)

// Suite runs the canonical scenarios of one target page and checks each
// sample against a budget.
type Suite struct {
	Target Target
	// Label prefixes scenario names, "nodePage" gives "nodePageColdCache".
	Label string
	// Temperatures to run. Empty means all of them. They always run in
	// canonical order.
	Temperatures []Temperature
	Budgets      map[Temperature]Budget
	// VerifyStable runs the hot scenario a second time and fails when the
	// two samples disagree.
	VerifyStable bool
}

// Scenarios returns the scenarios of the suite in canonical order.
func (s Suite) Scenarios() ([]Scenario, error) {
	temps, err := s.temperatures()
	if err != nil {
		return nil, err
	}
	if err := s.Target.Validate(temps...); err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}

	scenarios := make([]Scenario, 0, len(temps))
	for _, t := range temps {
		sc, err := s.Target.Scenario(t, ScenarioLabel(s.Label, t))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

func (s Suite) temperatures() ([]Temperature, error) {
	if len(s.Temperatures) == 0 {
		return Temperatures(), nil
	}
	want := make(map[Temperature]bool, len(s.Temperatures))
	for _, t := range s.Temperatures {
		if _, ok := setups[t]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTemperature, t)
		}
		want[t] = true
	}
	var temps []Temperature
	for _, t := range Temperatures() {
		if want[t] {
			temps = append(temps, t)
		}
	}
	return temps, nil
}

// Result is the outcome of one scenario of a suite.
type Result struct {
	Scenario    string      `json:"scenario"`
	Temperature Temperature `json:"temperature"`
	Sample      *Sample     `json:"sample,omitempty"`
	Violations  []Violation `json:"violations,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Passed reports whether the scenario produced a sample within budget.
func (r Result) Passed() bool {
	return r.Sample != nil && r.Error == "" && len(r.Violations) == 0
}

// Report is the outcome of a suite run.
type Report struct {
	RunID    string    `json:"runId"`
	Target   string    `json:"target"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Results  []Result  `json:"results"`
}

// Passed reports whether every scenario passed.
func (r *Report) Passed() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if !res.Passed() {
			return false
		}
	}
	return true
}

// Sample returns the sample of the named scenario.
func (r *Report) Sample(scenario string) (Sample, bool) {
	for _, res := range r.Results {
		if res.Scenario == scenario && res.Sample != nil {
			return *res.Sample, true
		}
	}
	return Sample{}, false
}

// RunSuite runs the scenarios of s in canonical order. A budget violation
// is recorded and the suite continues; a navigation, step or collection
// failure aborts the remaining scenarios. The returned error joins every
// failure; the report is always returned.
func (r *Runner) RunSuite(ctx context.Context, s Suite) (*Report, error) {
	report := &Report{
		RunID:   browserprocess.GetRunID(ctx),
		Target:  s.Target.Path,
		Started: time.Now(),
	}
	defer func() { report.Finished = time.Now() }()

	scenarios, err := s.Scenarios()
	if err != nil {
		return report, err
	}

	var errs []error
	for _, sc := range scenarios {
		res := Result{Scenario: sc.Name, Temperature: sc.Temperature}

		sample, err := r.Run(ctx, sc)
		if err != nil {
			res.Error = err.Error()
			report.Results = append(report.Results, res)
			errs = append(errs, err)
			r.logger.Errorf("Runner:RunSuite", "scenario:%q aborting suite: %v", sc.Name, err)
			break
		}
		res.Sample = &sample

		if b, ok := s.Budgets[sc.Temperature]; ok {
			if err := b.Assert(sample); err != nil {
				var be *BudgetError
				if errors.As(err, &be) {
					res.Violations = be.Violations
				}
				errs = append(errs, err)
			}
		}

		if s.VerifyStable && sc.Temperature == Hot {
			if err := r.verifyStable(ctx, sc, sample); err != nil {
				res.Error = err.Error()
				errs = append(errs, err)
			}
		}

		report.Results = append(report.Results, res)
	}

	return report, errors.Join(errs...)
}

// verifyStable reruns sc and compares the counters with first.
func (r *Runner) verifyStable(ctx context.Context, sc Scenario, first Sample) error {
	again, err := r.Run(ctx, sc)
	if err != nil {
		return fmt.Errorf("repeating scenario %q: %w", sc.Name, err)
	}
	if diff := first.DiffCounts(again); len(diff) > 0 {
		return &UnstableError{Scenario: sc.Name, Diff: diff}
	}
	return nil
}
