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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"
)

// Range is an inclusive range with optional bounds.
type Range struct {
	Min null.Int `json:"min" yaml:"min"`
	Max null.Int `json:"max" yaml:"max"`
}

// Exactly returns a range holding only v.
func Exactly(v int64) Range { return Range{Min: null.IntFrom(v), Max: null.IntFrom(v)} }

// Between returns the inclusive range [min, max].
func Between(min, max int64) Range { return Range{Min: null.IntFrom(min), Max: null.IntFrom(max)} }

// AtLeast returns the range [min, +inf).
func AtLeast(min int64) Range { return Range{Min: null.IntFrom(min)} }

// AtMost returns the range (-inf, max].
func AtMost(max int64) Range { return Range{Max: null.IntFrom(max)} }

// Contains reports whether v lies in the range.
func (r Range) Contains(v int64) bool {
	if r.Min.Valid && v < r.Min.Int64 {
		return false
	}
	if r.Max.Valid && v > r.Max.Int64 {
		return false
	}
	return true
}

// Validate rejects ranges whose minimum is above their maximum.
func (r Range) Validate() error {
	if r.Min.Valid && r.Max.Valid && r.Min.Int64 > r.Max.Int64 {
		return fmt.Errorf("invalid range %s: min is above max", r)
	}
	return nil
}

func (r Range) String() string {
	switch {
	case r.Min.Valid && r.Max.Valid && r.Min.Int64 == r.Max.Int64:
		return strconv.FormatInt(r.Min.Int64, 10)
	case r.Min.Valid && r.Max.Valid:
		return fmt.Sprintf("[%d, %d]", r.Min.Int64, r.Max.Int64)
	case r.Min.Valid:
		return fmt.Sprintf(">= %d", r.Min.Int64)
	case r.Max.Valid:
		return fmt.Sprintf("<= %d", r.Max.Int64)
	default:
		return "any"
	}
}

var (
	errNullRange  = errors.New("range is null")
	errEmptyRange = errors.New("range needs a min or a max")
)

const yamlNullTag = "!!null"

// UnmarshalYAML accepts a scalar (exact value) or a {min, max} mapping.
func (r *Range) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() == yamlNullTag {
			return errNullRange
		}
		var v int64
		if err := node.Decode(&v); err != nil {
			return fmt.Errorf("decoding exact range value: %w", err)
		}
		*r = Exactly(v)
		return nil
	case yaml.MappingNode:
	default:
		return fmt.Errorf("range must be a number or a {min, max} mapping, line %d", node.Line)
	}

	var out Range
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.ShortTag() == yamlNullTag {
			return fmt.Errorf("range %s: %w", key.Value, errNullRange)
		}
		var v int64
		if err := value.Decode(&v); err != nil {
			return fmt.Errorf("decoding range %s: %w", key.Value, err)
		}
		switch key.Value {
		case "min":
			out.Min = null.IntFrom(v)
		case "max":
			out.Max = null.IntFrom(v)
		default:
			return fmt.Errorf("unknown range key %q, want min or max", key.Value)
		}
	}
	return r.set(out)
}

// UnmarshalJSON accepts a number (exact value) or a {min, max} object.
func (r *Range) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return errNullRange
	case len(b) > 0 && b[0] != '{':
		var v int64
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("decoding exact range value: %w", err)
		}
		*r = Exactly(v)
		return nil
	}

	var raw struct {
		Min json.RawMessage `json:"min"`
		Max json.RawMessage `json:"max"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decoding range: %w", err)
	}

	var (
		out Range
		err error
	)
	if out.Min, err = decodeBound("min", raw.Min); err != nil {
		return err
	}
	if out.Max, err = decodeBound("max", raw.Max); err != nil {
		return err
	}
	return r.set(out)
}

// MarshalJSON writes an exact range as a number and leaves out missing
// bounds, so the output decodes back with UnmarshalJSON.
func (r Range) MarshalJSON() ([]byte, error) {
	if r.Min.Valid && r.Max.Valid && r.Min.Int64 == r.Max.Int64 {
		return json.Marshal(r.Min.Int64)
	}
	out := make(map[string]int64, 2)
	if r.Min.Valid {
		out["min"] = r.Min.Int64
	}
	if r.Max.Valid {
		out["max"] = r.Max.Int64
	}
	return json.Marshal(out)
}

func decodeBound(name string, raw json.RawMessage) (null.Int, error) {
	if raw == nil {
		return null.Int{}, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return null.Int{}, fmt.Errorf("range %s: %w", name, errNullRange)
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return null.Int{}, fmt.Errorf("decoding range %s: %w", name, err)
	}
	return null.IntFrom(v), nil
}

func (r *Range) set(out Range) error {
	if !out.Min.Valid && !out.Max.Valid {
		return errEmptyRange
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*r = out
	return nil
}

const budgetQueriesKey = "queries"

// Budget holds the accepted range of each metric of a sample. Metrics
// without a range are not checked. A non-nil Queries pins the exact list of
// recorded queries.
type Budget struct {
	Metrics map[string]Range
	Queries []string
}

// NewBudget returns an empty budget.
func NewBudget() Budget {
	return Budget{Metrics: make(map[string]Range)}
}

// With returns a copy of b with metric limited to r.
func (b Budget) With(metric string, r Range) Budget {
	m := make(map[string]Range, len(b.Metrics)+1)
	for k, v := range b.Metrics {
		m[k] = v
	}
	m[metric] = r
	b.Metrics = m
	return b
}

// WithQueries returns a copy of b expecting exactly queries.
func (b Budget) WithQueries(queries ...string) Budget {
	q := make([]string, len(queries))
	copy(q, queries)
	b.Queries = q
	return b
}

// IsEmpty reports whether the budget checks nothing.
func (b Budget) IsEmpty() bool {
	return len(b.Metrics) == 0 && b.Queries == nil
}

// Validate checks metric names and ranges.
func (b Budget) Validate() error {
	var errs []error
	for _, name := range b.metricNames() {
		if !IsMetric(name) {
			errs = append(errs, fmt.Errorf("unknown metric %q", name))
			continue
		}
		if err := b.Metrics[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Check returns the violations of s against the budget, in metric name
// order. An empty result means the sample is within budget.
func (b Budget) Check(s Sample) []Violation {
	var violations []Violation
	if b.Queries != nil && !equalQueries(b.Queries, s.Queries) {
		violations = append(violations, Violation{
			Metric: budgetQueriesKey,
			Got:    fmt.Sprintf("%q", s.Queries),
			Want:   fmt.Sprintf("%q", b.Queries),
		})
	}
	for _, name := range b.metricNames() {
		r := b.Metrics[name]
		v, ok := s.Metric(name)
		if !ok {
			violations = append(violations, Violation{Metric: name, Got: "unknown metric", Want: r.String()})
			continue
		}
		if !r.Contains(v) {
			violations = append(violations, Violation{Metric: name, Got: strconv.FormatInt(v, 10), Want: r.String()})
		}
	}
	return violations
}

// Assert returns a BudgetError when s violates the budget.
func (b Budget) Assert(s Sample) error {
	if v := b.Check(s); len(v) > 0 {
		return &BudgetError{Scenario: s.Label, Violations: v}
	}
	return nil
}

func (b Budget) metricNames() []string {
	names := make([]string, 0, len(b.Metrics))
	for n := range b.Metrics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// UnmarshalYAML decodes a mapping of metric names to ranges; the special
// "queries" key holds the exact expected query list.
func (b *Budget) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("decoding budget: %w", err)
	}

	out := NewBudget()
	for key, value := range raw {
		value := value
		if key == budgetQueriesKey {
			q := []string{}
			if err := value.Decode(&q); err != nil {
				return fmt.Errorf("decoding budget queries: %w", err)
			}
			out.Queries = q
			continue
		}
		if value.ShortTag() == yamlNullTag {
			return fmt.Errorf("decoding budget %s: %w", key, errNullRange)
		}
		var r Range
		if err := value.Decode(&r); err != nil {
			return fmt.Errorf("decoding budget %s: %w", key, err)
		}
		out.Metrics[key] = r
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*b = out
	return nil
}

// UnmarshalJSON is the JSON counterpart of UnmarshalYAML.
func (b *Budget) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding budget: %w", err)
	}

	out := NewBudget()
	for key, value := range raw {
		if key == budgetQueriesKey {
			q := []string{}
			if err := json.Unmarshal(value, &q); err != nil {
				return fmt.Errorf("decoding budget queries: %w", err)
			}
			out.Queries = q
			continue
		}
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return fmt.Errorf("decoding budget %s: %w", key, errNullRange)
		}
		var r Range
		if err := json.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("decoding budget %s: %w", key, err)
		}
		out.Metrics[key] = r
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*b = out
	return nil
}

// MarshalJSON encodes the budget in the same shape UnmarshalJSON reads.
func (b Budget) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Metrics)+1)
	for k, v := range b.Metrics {
		out[k] = v
	}
	if b.Queries != nil {
		out[budgetQueriesKey] = b.Queries
	}
	return json.Marshal(out)
}

// ReferenceHotBudget is the budget of a hot cache request to a stable page
// that is fully served from the page cache: one script, two stylesheets
// and no database work.
func ReferenceHotBudget() Budget {
	return NewBudget().
		WithQueries().
		With(MetricQueryCount, Exactly(0)).
		With(MetricCacheGetCount, Exactly(1)).
		With(MetricCacheSetCount, Exactly(0)).
		With(MetricCacheDeleteCount, Exactly(0)).
		With(MetricCacheTagChecksumCount, Exactly(0)).
		With(MetricCacheTagIsValidCount, Exactly(1)).
		With(MetricCacheTagInvalidationCount, Exactly(0)).
		With(MetricScriptCount, Exactly(1)).
		With(MetricScriptBytes, Between(7000, 8000)).
		With(MetricStylesheetCount, Exactly(2)).
		With(MetricStylesheetBytes, Between(41500, 42500))
}

func equalQueries(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
