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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func referenceHotSample() Sample {
	return NewSample("nodePageHotCache",
		ServerStats{CacheGetCount: 1, CacheTagIsValidCount: 1},
		AssetStats{ScriptCount: 1, ScriptBytes: 7512, StylesheetCount: 2, StylesheetBytes: 41987},
	)
}

func TestRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		r    Range
		in   []int64
		out  []int64
		repr string
	}{
		{Exactly(2), []int64{2}, []int64{1, 3}, "2"},
		{Between(7000, 8000), []int64{7000, 7500, 8000}, []int64{6999, 8001}, "[7000, 8000]"},
		{AtLeast(1), []int64{1, 100}, []int64{0}, ">= 1"},
		{AtMost(0), []int64{0, -1}, []int64{1}, "<= 0"},
		{Range{}, []int64{0, 1 << 40}, nil, "any"},
	}
	for _, tt := range tests {
		for _, v := range tt.in {
			assert.True(t, tt.r.Contains(v), "%s should contain %d", tt.repr, v)
		}
		for _, v := range tt.out {
			assert.False(t, tt.r.Contains(v), "%s should not contain %d", tt.repr, v)
		}
		assert.Equal(t, tt.repr, tt.r.String())
	}

	assert.Error(t, Between(3, 1).Validate())
}

func TestReferenceHotBudget(t *testing.T) {
	t.Parallel()

	b := ReferenceHotBudget()
	require.NoError(t, b.Validate())
	assert.Empty(t, b.Check(referenceHotSample()))
	assert.NoError(t, b.Assert(referenceHotSample()))

	s := referenceHotSample()
	s.Queries = []string{"SELECT 1"}
	s.QueryCount = 1
	s.ScriptBytes = 9000

	v := b.Check(s)
	require.Len(t, v, 3)
	assert.Equal(t, "queries", v[0].Metric)
	assert.Equal(t, Violation{Metric: MetricQueryCount, Got: "1", Want: "0"}, v[1])
	assert.Equal(t, Violation{Metric: MetricScriptBytes, Got: "9000", Want: "[7000, 8000]"}, v[2])

	err := b.Assert(s)
	var be *BudgetError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "nodePageHotCache", be.Scenario)
	assert.Contains(t, err.Error(), "scriptBytes: got 9000, want [7000, 8000]")
}

func TestBudgetWithCopies(t *testing.T) {
	t.Parallel()

	base := NewBudget().With(MetricQueryCount, Exactly(0))
	derived := base.With(MetricCacheGetCount, AtLeast(1))

	assert.Len(t, base.Metrics, 1)
	assert.Len(t, derived.Metrics, 2)
	assert.True(t, NewBudget().IsEmpty())
	assert.False(t, NewBudget().WithQueries().IsEmpty())
}

func TestBudgetUnmarshalYAML(t *testing.T) {
	t.Parallel()

	const doc = `
queryCount: 0
cacheGetCount: {min: 1}
scriptBytes:
  min: 7000
  max: 8000
queries: []
`
	var b Budget
	require.NoError(t, yaml.Unmarshal([]byte(doc), &b))

	assert.Equal(t, Exactly(0), b.Metrics[MetricQueryCount])
	assert.Equal(t, AtLeast(1), b.Metrics[MetricCacheGetCount])
	assert.Equal(t, Between(7000, 8000), b.Metrics[MetricScriptBytes])
	assert.NotNil(t, b.Queries)
	assert.Empty(t, b.Queries)

	err := yaml.Unmarshal([]byte("nope: 1\n"), &b)
	assert.ErrorContains(t, err, `unknown metric "nope"`)

	err = yaml.Unmarshal([]byte("scriptBytes: {min: 9, max: 1}\n"), &b)
	assert.ErrorContains(t, err, "min is above max")
}

func TestBudgetUnmarshalYAMLRejectsLooseRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, doc, wantErr string
	}{
		{"misspelled_keys", "scriptBytes: {mn: 7000, mx: 8000}\n", `unknown range key "mn"`},
		{"empty_value", "scriptBytes:\n", "range is null"},
		{"explicit_null", "scriptBytes: ~\n", "range is null"},
		{"null_bound", "scriptBytes: {min: ~, max: 8000}\n", "range is null"},
		{"no_bounds", "scriptBytes: {}\n", "range needs a min or a max"},
		{"sequence", "scriptBytes: [1, 2]\n", "range must be a number"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := ReferenceHotBudget()
			err := yaml.Unmarshal([]byte(tt.doc), &b)
			assert.ErrorContains(t, err, tt.wantErr)
			assert.Equal(t, ReferenceHotBudget(), b, "budget is left untouched")
		})
	}
}

func TestBudgetUnmarshalJSON(t *testing.T) {
	t.Parallel()

	var b Budget
	require.NoError(t, json.Unmarshal(
		[]byte(`{"queryCount": 0, "stylesheetBytes": {"min": 41500, "max": 42500}, "cacheSetCount": {"max": 2}}`), &b))

	assert.Equal(t, Exactly(0), b.Metrics[MetricQueryCount])
	assert.Equal(t, Between(41500, 42500), b.Metrics[MetricStylesheetBytes])
	assert.Equal(t, AtMost(2), b.Metrics[MetricCacheSetCount])
	assert.Nil(t, b.Queries)

	out, err := json.Marshal(b)
	require.NoError(t, err)
	var again Budget
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, b, again)
}

func TestBudgetUnmarshalJSONRejectsLooseRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, doc, wantErr string
	}{
		{"misspelled_keys", `{"scriptBytes": {"mn": 7000, "mx": 8000}}`, `unknown field "mn"`},
		{"null", `{"scriptBytes": null}`, "range is null"},
		{"null_bound", `{"scriptBytes": {"min": null, "max": 8000}}`, "range is null"},
		{"no_bounds", `{"scriptBytes": {}}`, "range needs a min or a max"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := ReferenceHotBudget()
			err := json.Unmarshal([]byte(tt.doc), &b)
			assert.ErrorContains(t, err, tt.wantErr)
			assert.Equal(t, ReferenceHotBudget(), b, "budget is left untouched")
		})
	}
}

func TestRangeMarshalJSON(t *testing.T) {
	t.Parallel()

	for _, r := range []Range{Exactly(3), Between(1, 5), AtLeast(2), AtMost(9)} {
		out, err := json.Marshal(r)
		require.NoError(t, err)
		assert.NotContains(t, string(out), "null")

		var again Range
		require.NoError(t, json.Unmarshal(out, &again), string(out))
		assert.Equal(t, r, again)
	}
}
