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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/browser-perfbudget/perf"
)

const yamlSuite = `
base_url: http://localhost:8080
label: nodePage
target:
  path: /node/1
  unrelated: /user/login
  sibling: /node/2
  expect: quiche
temperatures: [hot, COLD]
verify_stable: true
budgets:
  hot:
    queries: []
    cacheGetCount: 1
    cacheSetCount: 0
    scriptBytes: {min: 7000, max: 8000}
  cold:
    queryCount: {max: 10}
`

const jsonSuite = `{
  "label": "nodePage",
  "target": {"path": "/node/1", "unrelated": "/user/login", "sibling": "/node/2"},
  "budgets": {"hot": {"queries": [], "stylesheetBytes": {"min": 41500, "max": 42500}}}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadSuiteFileYAML(t *testing.T) {
	t.Parallel()

	f, err := LoadSuiteFile(writeFile(t, "suite.yaml", yamlSuite))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", f.BaseURLOr("http://other"))

	s, err := f.ToSuite()
	require.NoError(t, err)
	assert.Equal(t, []perf.Temperature{perf.Hot, perf.Cold}, s.Temperatures)
	assert.True(t, s.VerifyStable)
	assert.Equal(t, "quiche", s.Target.Expect)

	hot := s.Budgets[perf.Hot]
	assert.Equal(t, []string{}, hot.Queries)
	assert.True(t, hot.Metrics[perf.MetricScriptBytes].Contains(7512))
	assert.False(t, hot.Metrics[perf.MetricCacheGetCount].Contains(2))
	assert.True(t, s.Budgets[perf.Cold].Metrics[perf.MetricQueryCount].Contains(10))

	scenarios, err := s.Scenarios()
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "nodePageColdCache", scenarios[0].Name, "canonical order")
}

func TestLoadSuiteFileJSON(t *testing.T) {
	t.Parallel()

	f, err := LoadSuiteFile(writeFile(t, "suite.json", jsonSuite))
	require.NoError(t, err)
	assert.Equal(t, "http://fallback", f.BaseURLOr("http://fallback"))

	s, err := f.ToSuite()
	require.NoError(t, err)
	assert.Empty(t, s.Temperatures)
	assert.True(t, s.Budgets[perf.Hot].Metrics[perf.MetricStylesheetBytes].Contains(41994))
}

func TestLoadSuiteFileErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadSuiteFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadSuiteFile(writeFile(t, "suite.toml", "label = 'x'"))
	assert.ErrorContains(t, err, "unsupported suite format")

	_, err = LoadSuiteFile(writeFile(t, "suite.yaml", "budgets:\n  hot:\n    nope: 1\n"))
	assert.Error(t, err, "unknown metric")

	_, err = LoadSuiteFile(writeFile(t, "suite.json", "{"))
	assert.Error(t, err)
}

func TestToSuiteErrors(t *testing.T) {
	t.Parallel()

	_, err := (&SuiteFile{
		Target:       perf.Target{Path: "/node/1"},
		Temperatures: []string{"lukewarm"},
	}).ToSuite()
	require.ErrorIs(t, err, perf.ErrUnknownTemperature)

	_, err = (&SuiteFile{
		Target:  perf.Target{Path: "/node/1", UnrelatedPath: "/u", SiblingPath: "/s"},
		Budgets: map[string]perf.Budget{"tepid": perf.NewBudget()},
	}).ToSuite()
	require.ErrorIs(t, err, perf.ErrUnknownTemperature)

	// cold needs an unrelated page
	_, err = (&SuiteFile{Target: perf.Target{Path: "/node/1"}, Temperatures: []string{"cold"}}).ToSuite()
	assert.Error(t, err)

	_, err = (&SuiteFile{
		Target:       perf.Target{Path: "/node/1"},
		Temperatures: []string{"hot"},
		Budgets:      map[string]perf.Budget{"hot": perf.NewBudget().With(perf.MetricQueryCount, perf.Between(3, 1))},
	}).ToSuite()
	assert.Error(t, err)
	_, err = (&SuiteFile{
		Target:       perf.Target{Path: "/node/1"},
		Temperatures: []string{"hot"},
		Budgets:      map[string]perf.Budget{"hot": perf.NewBudget()},
	}).ToSuite()
	assert.ErrorIs(t, err, ErrEmptyBudget)
}
