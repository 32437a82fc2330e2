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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/browser-perfbudget/browserprocess"
)

func TestRunSuite(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	r := newSiteRunner(site)
	ctx := browserprocess.WithRunID(context.Background(), "run-42")

	report, err := r.RunSuite(ctx, Suite{
		Target:       testTarget(),
		Label:        "nodePage",
		Temperatures: []Temperature{Hot, Cold},
		Budgets: map[Temperature]Budget{
			Hot:  NewBudget().WithQueries().With(MetricQueryCount, Exactly(0)).With(MetricCacheGetCount, AtLeast(1)),
			Cold: NewBudget().With(MetricQueryCount, AtLeast(1)),
		},
		VerifyStable: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "run-42", report.RunID)
	assert.Equal(t, "/node/1", report.Target)
	assert.True(t, report.Passed())
	assert.False(t, report.Finished.Before(report.Started))

	require.Len(t, report.Results, 2)
	assert.Equal(t, "nodePageColdCache", report.Results[0].Scenario)
	assert.Equal(t, "nodePageHotCache", report.Results[1].Scenario)

	hot, ok := report.Sample("nodePageHotCache")
	require.True(t, ok)
	assert.Zero(t, hot.QueryCount)
}

func TestRunSuiteBudgetViolationContinues(t *testing.T) {
	t.Parallel()

	r := newSiteRunner(newFakeSite())
	report, err := r.RunSuite(context.Background(), Suite{
		Target: testTarget(),
		Budgets: map[Temperature]Budget{
			Cold: NewBudget().With(MetricQueryCount, Exactly(0)),
		},
	})

	var be *BudgetError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "pageColdCache", be.Scenario)

	require.Len(t, report.Results, 4)
	assert.False(t, report.Results[0].Passed())
	assert.Equal(t, []Violation{{Metric: MetricQueryCount, Got: "2", Want: "0"}}, report.Results[0].Violations)
	for _, res := range report.Results[1:] {
		assert.True(t, res.Passed(), res.Scenario)
	}
	assert.False(t, report.Passed())
}

func TestRunSuiteNavigationErrorAborts(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.navFail["/node/2"] = errNotFound

	report, err := newSiteRunner(site).RunSuite(context.Background(), Suite{Target: testTarget()})

	var ne *NavigationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "pageWarmCache", ne.Scenario)

	require.Len(t, report.Results, 3)
	assert.Nil(t, report.Results[2].Sample)
	assert.NotEmpty(t, report.Results[2].Error)
	_, ok := report.Sample("pageHotCache")
	assert.False(t, ok)
}

func TestRunSuiteInvalidTarget(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	_, err := newSiteRunner(site).RunSuite(context.Background(), Suite{
		Target: Target{Path: "/node/1"},
	})
	require.Error(t, err)
	assert.Empty(t, site.navigations())

	_, err = newSiteRunner(site).RunSuite(context.Background(), Suite{
		Target:       testTarget(),
		Temperatures: []Temperature{"boiling"},
	})
	assert.ErrorIs(t, err, ErrUnknownTemperature)
}

// flakySite adds a query to every other measured hot request.
type flakySite struct {
	*fakeSite
	n int
}

func (f *flakySite) Snapshot(ctx context.Context) (ServerStats, error) {
	st, err := f.fakeSite.Snapshot(ctx)
	f.n++
	if f.n%2 == 0 {
		st.Queries = append(st.Queries, "SELECT sessions")
	}
	return st, err
}

func TestRunSuiteVerifyStable(t *testing.T) {
	t.Parallel()

	site := &flakySite{fakeSite: newFakeSite()}
	r := NewRunner(site, site, NewCollector(site, nil, nil))

	report, err := r.RunSuite(context.Background(), Suite{
		Target:       testTarget(),
		Temperatures: []Temperature{Hot},
		VerifyStable: true,
	})

	var ue *UnstableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, []string{"queryCount: 0 != 1"}, ue.Diff)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Passed())
}
