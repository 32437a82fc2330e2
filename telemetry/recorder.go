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

// Package telemetry records the database queries and cache operations of
// the system under test and exposes them over HTTP.
package telemetry

import (
	"context"
	"sync"

	"github.com/grafana/browser-perfbudget/perf"
)

// Recorder is a thread safe record of server side work. A nil *Recorder
// records nothing.
type Recorder struct {
	mu    sync.Mutex
	stats perf.ServerStats
	bins  map[string]int64
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{bins: make(map[string]int64)}
}

// RecordQuery appends a query in execution order.
func (r *Recorder) RecordQuery(query string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.stats.Queries = append(r.stats.Queries, query)
	r.mu.Unlock()
}

// RecordCacheGet counts a cache get on bin.
func (r *Recorder) RecordCacheGet(bin string) {
	r.count(func(s *perf.ServerStats) { s.CacheGetCount++ }, bin)
}

// RecordCacheSet counts a cache set on bin.
func (r *Recorder) RecordCacheSet(bin string) {
	r.count(func(s *perf.ServerStats) { s.CacheSetCount++ }, bin)
}

// RecordCacheDelete counts a cache delete on bin.
func (r *Recorder) RecordCacheDelete(bin string) {
	r.count(func(s *perf.ServerStats) { s.CacheDeleteCount++ }, bin)
}

// RecordTagChecksum counts a cache tag checksum computation.
func (r *Recorder) RecordTagChecksum() {
	r.count(func(s *perf.ServerStats) { s.CacheTagChecksumCount++ }, "")
}

// RecordTagIsValid counts a cache tag validity check.
func (r *Recorder) RecordTagIsValid() {
	r.count(func(s *perf.ServerStats) { s.CacheTagIsValidCount++ }, "")
}

// RecordTagInvalidation counts the invalidation of one tag.
func (r *Recorder) RecordTagInvalidation(string) {
	r.count(func(s *perf.ServerStats) { s.CacheTagInvalidationCount++ }, "")
}

func (r *Recorder) count(inc func(*perf.ServerStats), bin string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	inc(&r.stats)
	if bin != "" {
		r.bins[bin]++
	}
	r.mu.Unlock()
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset(context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	r.stats = perf.ServerStats{}
	r.bins = make(map[string]int64)
	r.mu.Unlock()
	return nil
}

// Snapshot returns a copy of what was recorded since the last Reset.
func (r *Recorder) Snapshot(context.Context) (perf.ServerStats, error) {
	if r == nil {
		return perf.ServerStats{}, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.Queries = append([]string{}, r.stats.Queries...)
	return s, nil
}

// BinOperations returns the number of cache operations per bin since the
// last Reset.
func (r *Recorder) BinOperations() map[string]int64 {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int64, len(r.bins))
	for k, v := range r.bins {
		out[k] = v
	}
	return out
}
