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

package cache

import (
	"sort"
	"sync"
)

// TagStore tracks cache tag invalidations. The checksum of a tag set is
// the sum of the invalidation counts of its tags, so an entry stored with
// a checksum becomes invalid as soon as one of its tags is invalidated.
type TagStore struct {
	mu            sync.RWMutex
	invalidations map[string]int64
	rec           Recorder
}

// NewTagStore returns an empty tag store reporting to rec, which may be nil.
func NewTagStore(rec Recorder) *TagStore {
	return &TagStore{
		invalidations: make(map[string]int64),
		rec:           recorderOrNop(rec),
	}
}

// Checksum returns the current checksum of tags.
func (s *TagStore) Checksum(tags []string) int64 {
	s.rec.RecordTagChecksum()
	return s.checksum(tags)
}

// IsValid reports whether checksum is still the checksum of tags.
func (s *TagStore) IsValid(tags []string, checksum int64) bool {
	s.rec.RecordTagIsValid()
	return s.checksum(tags) == checksum
}

// Invalidate marks every entry tagged with one of tags as stale.
func (s *TagStore) Invalidate(tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tags {
		s.invalidations[t]++
		s.rec.RecordTagInvalidation(t)
	}
}

// Invalidated returns the invalidated tags in name order.
func (s *TagStore) Invalidated() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tags := make([]string, 0, len(s.invalidations))
	for t := range s.invalidations {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func (s *TagStore) checksum(tags []string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, t := range tags {
		sum += s.invalidations[t]
	}
	return sum
}
