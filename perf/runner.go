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
	"sync"

	"go.opentelemetry.io/otel/codes"

	"github.com/grafana/browser-perfbudget/log"
	"github.com/grafana/browser-perfbudget/trace"
)

// Runner drives scenarios: it runs the setup steps of a scenario without
// capture and hands exactly the measured navigation to the Collector.
//
// Scenarios touch process wide state (cache bins, the browser cache), so a
// Runner runs one scenario at a time.
type Runner struct {
	nav       Navigator
	caches    CacheRegistry
	collector Collector
	rebuilder Rebuilder
	tracer    *trace.Tracer
	logger    *log.Logger

	mu sync.Mutex
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRebuilder sets what the rebuildAll step calls. Without it the step
// clears all caches.
func WithRebuilder(r Rebuilder) RunnerOption {
	return func(rn *Runner) { rn.rebuilder = r }
}

// WithTracer sets the tracer used for scenario and step spans.
func WithTracer(t *trace.Tracer) RunnerOption {
	return func(rn *Runner) { rn.tracer = t }
}

// WithLogger sets the runner logger.
func WithLogger(l *log.Logger) RunnerOption {
	return func(rn *Runner) { rn.logger = l }
}

// NewRunner returns a runner navigating with nav, clearing caches through
// caches and measuring with collector.
func NewRunner(nav Navigator, caches CacheRegistry, collector Collector, opts ...RunnerOption) *Runner {
	r := &Runner{
		nav:       nav,
		caches:    caches,
		collector: collector,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.NewNullLogger()
	}
	if r.tracer == nil {
		r.tracer = trace.NewNoopTracer()
	}
	return r
}

// Run runs sc and returns its sample labeled with the scenario name.
func (r *Runner) Run(ctx context.Context, sc Scenario) (Sample, error) {
	return r.RunScenario(ctx, sc.Name, sc.Setup, sc.Measured)
}

// RunScenario executes setup in order, then captures telemetry around the
// measured navigation only. Any failure aborts the scenario and no sample
// is returned.
func (r *Runner) RunScenario(ctx context.Context, name string, setup []Step, measured Step) (_ Sample, err error) {
	if name == "" {
		return Sample{}, ErrEmptyScenarioName
	}
	if measured.Kind != StepNavigate {
		return Sample{}, &StepError{
			Scenario: name, Step: MeasuredStep, Kind: measured.Kind,
			Err: errors.New("measured step must be a navigation"),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.tracer.TraceScenario(ctx, name)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.tracer.EndScenario(name)
	}()

	r.logger.Debugf("Runner:RunScenario", "scenario:%q setupSteps:%d measured:%q", name, len(setup), measured.Path)

	for i, step := range setup {
		if err := r.runStep(ctx, name, i, step); err != nil {
			return Sample{}, err
		}
	}

	sctx, sspan := r.tracer.TraceStep(ctx, name, MeasuredStep, measured.Kind)
	defer sspan.End()

	sample, err := r.collector.CaptureDuring(sctx, name, func(ctx context.Context) error {
		return r.navigate(ctx, name, MeasuredStep, Navigate(measured.Path))
	})
	if err != nil {
		var (
			navErr  *NavigationError
			collErr *CollectionError
		)
		if !errors.As(err, &navErr) && !errors.As(err, &collErr) {
			err = &CollectionError{Scenario: name, Err: err}
		}
		return Sample{}, err
	}
	sample.Label = name

	// The content check runs outside of the capture.
	if err := r.checkText(sctx, name, MeasuredStep, measured); err != nil {
		return Sample{}, err
	}

	r.logger.Infof("Runner:RunScenario", "scenario:%q queries:%d cacheGets:%d cacheSets:%d scripts:%d stylesheets:%d",
		name, sample.QueryCount, sample.CacheGetCount, sample.CacheSetCount, sample.ScriptCount, sample.StylesheetCount)

	return sample, nil
}

// ClearAllCaches deletes every entry of every registered partition. It
// returns after the last partition is cleared.
func (r *Runner) ClearAllCaches(ctx context.Context) error {
	parts, err := r.caches.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("listing cache partitions: %w", err)
	}
	for _, p := range parts {
		if err := p.DeleteAll(ctx); err != nil {
			return fmt.Errorf("clearing cache partition %q: %w", p.Name(), err)
		}
		r.logger.Tracef("Runner:ClearAllCaches", "partition:%q cleared", p.Name())
	}
	r.logger.Debugf("Runner:ClearAllCaches", "cleared %d partitions", len(parts))
	return nil
}

func (r *Runner) runStep(ctx context.Context, scenario string, i int, step Step) (err error) {
	ctx, span := r.tracer.TraceStep(ctx, scenario, i, step.Kind)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	r.logger.Debugf("Runner:runStep", "scenario:%q step:%d kind:%s path:%q", scenario, i, step.Kind, step.Path)

	switch step.Kind {
	case StepNavigate:
		return r.navigate(ctx, scenario, i, step)
	case StepClearAllCaches:
		err = r.ClearAllCaches(ctx)
	case StepRebuildAll:
		if r.rebuilder == nil {
			err = r.ClearAllCaches(ctx)
			break
		}
		err = r.rebuilder.RebuildAll(ctx)
	case StepClearBrowserCache:
		c, ok := r.nav.(BrowserCacheClearer)
		if !ok {
			r.logger.Warnf("Runner:runStep", "scenario:%q step:%d navigator cannot clear its cache, skipping", scenario, i)
			return nil
		}
		err = c.ClearBrowserCache(ctx)
	default:
		err = fmt.Errorf("unknown step kind %s", step.Kind)
	}
	if err != nil {
		return &StepError{Scenario: scenario, Step: i, Kind: step.Kind, Err: err}
	}
	return nil
}

func (r *Runner) navigate(ctx context.Context, scenario string, i int, step Step) error {
	if err := r.nav.Navigate(ctx, step.Path); err != nil {
		return &NavigationError{Scenario: scenario, Step: i, Path: step.Path, Err: err}
	}
	return r.checkText(ctx, scenario, i, step)
}

func (r *Runner) checkText(ctx context.Context, scenario string, i int, step Step) error {
	if step.Expect == "" {
		return nil
	}
	ok, err := r.nav.HasText(ctx, step.Expect)
	if err != nil {
		return &NavigationError{Scenario: scenario, Step: i, Path: step.Path, Err: fmt.Errorf("checking for %q: %w", step.Expect, err)}
	}
	if !ok {
		return &NavigationError{Scenario: scenario, Step: i, Path: step.Path, Err: fmt.Errorf("%w: %q", ErrTextNotFound, step.Expect)}
	}
	return nil
}
