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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyScenarioName is returned when a scenario has no label.
	ErrEmptyScenarioName = errors.New("scenario name is empty")

	// ErrTextNotFound is wrapped by a NavigationError when the expected
	// text fragment is missing from the navigated document.
	ErrTextNotFound = errors.New("expected text not found")

	// ErrUnknownTemperature is returned for an unknown cache temperature.
	ErrUnknownTemperature = errors.New("unknown cache temperature")

	// ErrNoTelemetry is returned by a collector that has nothing to record.
	ErrNoTelemetry = errors.New("no telemetry source configured")
)

// MeasuredStep is the Step index reported for the measured navigation.
const MeasuredStep = -1

// NavigationError is returned when a setup or measured navigation fails,
// times out, or does not contain the expected text.
type NavigationError struct {
	Scenario string
	Step     int
	Path     string
	Err      error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("scenario %q: navigating to %q (%s): %v", e.Scenario, e.Path, stepName(e.Step), e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// CollectionError is returned when the telemetry collector cannot attach
// to the measured navigation or reports inconsistent data.
type CollectionError struct {
	Scenario string
	Err      error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("scenario %q: collecting telemetry: %v", e.Scenario, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// StepError is returned when a non navigation setup step fails, such as
// clearing caches.
type StepError struct {
	Scenario string
	Step     int
	Kind     StepKind
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("scenario %q: %s (%s): %v", e.Scenario, e.Kind, stepName(e.Step), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Violation is a single budget check that failed.
type Violation struct {
	Metric string `json:"metric"`
	Got    string `json:"got"`
	Want   string `json:"want"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: got %s, want %s", v.Metric, v.Got, v.Want)
}

// BudgetError is returned when a sample falls outside its budget.
type BudgetError struct {
	Scenario   string
	Violations []Violation
}

func (e *BudgetError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("scenario %q: budget exceeded: %s", e.Scenario, strings.Join(parts, "; "))
}

// UnstableError is returned when two runs of the same scenario against an
// unchanged target disagree.
type UnstableError struct {
	Scenario string
	Diff     []string
}

func (e *UnstableError) Error() string {
	return fmt.Sprintf("scenario %q: repeated runs disagree: %s", e.Scenario, strings.Join(e.Diff, "; "))
}

func stepName(step int) string {
	if step == MeasuredStep {
		return "measured navigation"
	}
	return fmt.Sprintf("setup step %d", step+1)
}
