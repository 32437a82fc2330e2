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

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/browser-perfbudget/perf"
)

func testReport() *perf.Report {
	hot := perf.NewSample("nodePageHotCache",
		perf.ServerStats{CacheGetCount: 1, CacheTagIsValidCount: 1},
		perf.AssetStats{ScriptCount: 1, ScriptBytes: 7512, StylesheetCount: 2, StylesheetBytes: 41994},
	)
	cold := perf.NewSample("nodePageColdCache",
		perf.ServerStats{Queries: []string{"SELECT 1", "SELECT 2"}, CacheGetCount: 5},
		perf.AssetStats{},
	)

	return &perf.Report{
		Finished: time.Unix(1700000000, 0),
		Results: []perf.Result{
			{Scenario: cold.Label, Temperature: perf.Cold, Sample: &cold},
			{
				Scenario: hot.Label, Temperature: perf.Hot, Sample: &hot,
				Violations: []perf.Violation{{Metric: perf.MetricQueryCount, Got: "1", Want: "0"}},
			},
			{Scenario: "nodePageWarmCache", Temperature: perf.Warm, Error: "navigation failed"},
		},
	}
}

func TestObserveReport(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveReport(testReport())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sample.WithLabelValues("nodePageColdCache", "cold", perf.MetricQueryCount)))
	assert.Equal(t, 7512.0, testutil.ToFloat64(m.Sample.WithLabelValues("nodePageHotCache", "hot", perf.MetricScriptBytes)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ViolationsTotal.WithLabelValues("nodePageHotCache", perf.MetricQueryCount)))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScenariosTotal.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScenariosTotal.WithLabelValues("violated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScenariosTotal.WithLabelValues("failed")))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.LastRunPassed))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastRunTimestamp))
}

func TestObserveReportPassed(t *testing.T) {
	t.Parallel()

	s := perf.NewSample("hot", perf.ServerStats{}, perf.AssetStats{})
	m := New()
	m.ObserveReport(&perf.Report{Results: []perf.Result{{Scenario: "hot", Temperature: perf.Hot, Sample: &s}}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LastRunPassed))
	// one series per metric name
	assert.Equal(t, len(perf.MetricNames()), testutil.CollectAndCount(m.Sample))
}

func TestWriteToTextfile(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveReport(testReport())

	p := filepath.Join(t.TempDir(), "perfbudget.prom")
	require.NoError(t, m.WriteToTextfile(p))

	b, err := os.ReadFile(p) //nolint:gosec
	require.NoError(t, err)
	out := string(b)
	assert.True(t, strings.Contains(out, `perfbudget_sample_value{metric="scriptBytes",scenario="nodePageHotCache",temperature="hot"} 7512`), out)
	assert.Contains(t, out, "perfbudget_last_run_passed 0")

	assert.Error(t, m.WriteToTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")))
}
