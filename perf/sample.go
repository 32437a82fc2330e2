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
	"sort"
)

// Metric names used by budgets, reports and exported metrics.
const (
	MetricQueryCount                = "queryCount"
	MetricCacheGetCount             = "cacheGetCount"
	MetricCacheSetCount             = "cacheSetCount"
	MetricCacheDeleteCount          = "cacheDeleteCount"
	MetricCacheTagChecksumCount     = "cacheTagChecksumCount"
	MetricCacheTagIsValidCount      = "cacheTagIsValidCount"
	MetricCacheTagInvalidationCount = "cacheTagInvalidationCount"
	MetricScriptCount               = "scriptCount"
	MetricScriptBytes               = "scriptBytes"
	MetricStylesheetCount           = "stylesheetCount"
	MetricStylesheetBytes           = "stylesheetBytes"
)

// ServerStats is the server side telemetry of one navigation: the database
// queries in execution order and the cache operation counts.
type ServerStats struct {
	Queries                   []string `json:"queries"`
	CacheGetCount             int64    `json:"cacheGetCount"`
	CacheSetCount             int64    `json:"cacheSetCount"`
	CacheDeleteCount          int64    `json:"cacheDeleteCount"`
	CacheTagChecksumCount     int64    `json:"cacheTagChecksumCount"`
	CacheTagIsValidCount      int64    `json:"cacheTagIsValidCount"`
	CacheTagInvalidationCount int64    `json:"cacheTagInvalidationCount"`
}

// AssetStats is the browser side telemetry of one navigation.
type AssetStats struct {
	ScriptCount     int64 `json:"scriptCount"`
	ScriptBytes     int64 `json:"scriptBytes"`
	StylesheetCount int64 `json:"stylesheetCount"`
	StylesheetBytes int64 `json:"stylesheetBytes"`
}

// Sample is the telemetry captured for exactly one measured navigation.
//
// A Sample is a value: the runner never hands out a Sample it will touch
// again, and the query list is copied on construction.
type Sample struct {
	Label                     string   `json:"label"`
	Queries                   []string `json:"queries"`
	QueryCount                int64    `json:"queryCount"`
	CacheGetCount             int64    `json:"cacheGetCount"`
	CacheSetCount             int64    `json:"cacheSetCount"`
	CacheDeleteCount          int64    `json:"cacheDeleteCount"`
	CacheTagChecksumCount     int64    `json:"cacheTagChecksumCount"`
	CacheTagIsValidCount      int64    `json:"cacheTagIsValidCount"`
	CacheTagInvalidationCount int64    `json:"cacheTagInvalidationCount"`
	ScriptCount               int64    `json:"scriptCount"`
	ScriptBytes               int64    `json:"scriptBytes"`
	StylesheetCount           int64    `json:"stylesheetCount"`
	StylesheetBytes           int64    `json:"stylesheetBytes"`
}

// NewSample builds a labeled sample from server and asset telemetry.
func NewSample(label string, server ServerStats, assets AssetStats) Sample {
	queries := make([]string, len(server.Queries))
	copy(queries, server.Queries)

	return Sample{
		Label:                     label,
		Queries:                   queries,
		QueryCount:                int64(len(queries)),
		CacheGetCount:             server.CacheGetCount,
		CacheSetCount:             server.CacheSetCount,
		CacheDeleteCount:          server.CacheDeleteCount,
		CacheTagChecksumCount:     server.CacheTagChecksumCount,
		CacheTagIsValidCount:      server.CacheTagIsValidCount,
		CacheTagInvalidationCount: server.CacheTagInvalidationCount,
		ScriptCount:               assets.ScriptCount,
		ScriptBytes:               assets.ScriptBytes,
		StylesheetCount:           assets.StylesheetCount,
		StylesheetBytes:           assets.StylesheetBytes,
	}
}

// Metrics returns every counter of the sample keyed by metric name.
func (s Sample) Metrics() map[string]int64 {
	return map[string]int64{
		MetricQueryCount:                s.QueryCount,
		MetricCacheGetCount:             s.CacheGetCount,
		MetricCacheSetCount:             s.CacheSetCount,
		MetricCacheDeleteCount:          s.CacheDeleteCount,
		MetricCacheTagChecksumCount:     s.CacheTagChecksumCount,
		MetricCacheTagIsValidCount:      s.CacheTagIsValidCount,
		MetricCacheTagInvalidationCount: s.CacheTagInvalidationCount,
		MetricScriptCount:               s.ScriptCount,
		MetricScriptBytes:               s.ScriptBytes,
		MetricStylesheetCount:           s.StylesheetCount,
		MetricStylesheetBytes:           s.StylesheetBytes,
	}
}

// Metric returns the value of the named counter.
func (s Sample) Metric(name string) (int64, bool) {
	v, ok := s.Metrics()[name]
	return v, ok
}

// MetricNames returns the known metric names in a stable order.
func MetricNames() []string {
	names := make([]string, 0, len(Sample{}.Metrics()))
	for n := range (Sample{}).Metrics() {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsMetric reports whether name is a known metric.
func IsMetric(name string) bool {
	_, ok := Sample{}.Metric(name)
	return ok
}

// Validate checks the sample invariants: no negative counters and a query
// list as long as the query count.
func (s Sample) Validate() error {
	var errs []error
	for _, name := range MetricNames() {
		if v, _ := s.Metric(name); v < 0 {
			errs = append(errs, fmt.Errorf("%s is negative: %d", name, v))
		}
	}
	if n := int64(len(s.Queries)); n != s.QueryCount {
		errs = append(errs, fmt.Errorf("%s is %d but %d queries were recorded", MetricQueryCount, s.QueryCount, n))
	}
	return errors.Join(errs...)
}

// DiffCounts lists the counters that differ between s and other,
// formatted as "name: a != b". Labels and query text are ignored.
func (s Sample) DiffCounts(other Sample) []string {
	var diff []string
	om := other.Metrics()
	for _, name := range MetricNames() {
		v, _ := s.Metric(name)
		if ov := om[name]; v != ov {
			diff = append(diff, fmt.Sprintf("%s: %d != %d", name, v, ov))
		}
	}
	return diff
}
