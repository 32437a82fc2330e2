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

// Package cache implements the cache bins of the demo site: named
// in-memory partitions with optional expiry and cache tags, reporting every
// operation to a Recorder.
package cache

import (
	"context"
	"sync"
	"time"
)

// Recorder receives cache operations. telemetry.Recorder implements it.
type Recorder interface {
	RecordCacheGet(bin string)
	RecordCacheSet(bin string)
	RecordCacheDelete(bin string)
	RecordTagChecksum()
	RecordTagIsValid()
	RecordTagInvalidation(tag string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheGet(string)        {}
func (nopRecorder) RecordCacheSet(string)        {}
func (nopRecorder) RecordCacheDelete(string)     {}
func (nopRecorder) RecordTagChecksum()           {}
func (nopRecorder) RecordTagIsValid()            {}
func (nopRecorder) RecordTagInvalidation(string) {}

func recorderOrNop(rec Recorder) Recorder {
	if rec == nil {
		return nopRecorder{}
	}
	return rec
}

type entry struct {
	value      any
	tags       []string
	checksum   int64
	expiration int64
}

func (e *entry) expired(now int64) bool {
	return e.expiration > 0 && now > e.expiration
}

// Bin is one cache partition.
type Bin struct {
	name string
	tags *TagStore
	rec  Recorder
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// BinOption configures a Bin.
type BinOption func(*Bin)

// WithTTL expires entries d after they are set. Expired entries are
// dropped lazily on Get.
func WithTTL(d time.Duration) BinOption {
	return func(b *Bin) { b.ttl = d }
}

// withClock replaces time.Now.
func withClock(now func() time.Time) BinOption {
	return func(b *Bin) { b.now = now }
}

func newBin(name string, tags *TagStore, rec Recorder, opts ...BinOption) *Bin {
	b := &Bin{
		name:    name,
		tags:    tags,
		rec:     recorderOrNop(rec),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the bin name.
func (b *Bin) Name() string { return b.name }

// Get returns the value of key. Expired entries and entries whose tags
// were invalidated after they were set are misses.
func (b *Bin) Get(key string) (any, bool) {
	b.rec.RecordCacheGet(b.name)

	now := b.now().UnixNano()

	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if e.expired(now) {
		b.mu.Lock()
		if cur, ok := b.entries[key]; ok && cur == e {
			delete(b.entries, key)
		}
		b.mu.Unlock()
		return nil, false
	}

	if len(e.tags) > 0 && !b.tags.IsValid(e.tags, e.checksum) {
		return nil, false
	}

	return e.value, true
}

// Set stores value under key, tagged with tags.
func (b *Bin) Set(key string, value any, tags ...string) {
	b.rec.RecordCacheSet(b.name)

	e := &entry{value: value}
	if len(tags) > 0 {
		e.tags = append([]string(nil), tags...)
		e.checksum = b.tags.Checksum(e.tags)
	}
	if b.ttl > 0 {
		e.expiration = b.now().Add(b.ttl).UnixNano()
	}

	b.mu.Lock()
	b.entries[key] = e
	b.mu.Unlock()
}

// Delete removes key.
func (b *Bin) Delete(key string) {
	b.rec.RecordCacheDelete(b.name)

	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
}

// DeleteAll removes every entry of the bin.
func (b *Bin) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.rec.RecordCacheDelete(b.name)

	b.mu.Lock()
	b.entries = make(map[string]*entry)
	b.mu.Unlock()

	return nil
}

// Len returns the number of stored entries, expired ones included.
func (b *Bin) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.entries)
}
