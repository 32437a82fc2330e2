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
	"context"
	"sort"
	"sync"

	"github.com/grafana/browser-perfbudget/perf"
)

// Registry owns the bins of one site and the tag store they share.
type Registry struct {
	rec  Recorder
	tags *TagStore

	mu   sync.Mutex
	bins map[string]*Bin
}

// NewRegistry returns an empty registry reporting to rec, which may be nil.
func NewRegistry(rec Recorder) *Registry {
	return &Registry{
		rec:  rec,
		tags: NewTagStore(rec),
		bins: make(map[string]*Bin),
	}
}

// Bin returns the named bin, creating it with opts on first use.
func (r *Registry) Bin(name string, opts ...BinOption) *Bin {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bins[name]; ok {
		return b
	}
	b := newBin(name, r.tags, r.rec, opts...)
	r.bins[name] = b
	return b
}

// Tags returns the shared tag store.
func (r *Registry) Tags() *TagStore { return r.tags }

// Bins returns every bin ordered by name.
func (r *Registry) Bins() []*Bin {
	r.mu.Lock()
	defer r.mu.Unlock()

	bins := make([]*Bin, 0, len(r.bins))
	for _, b := range r.bins {
		bins = append(bins, b)
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i].name < bins[j].name })
	return bins
}

// Names returns the bin names in order.
func (r *Registry) Names() []string {
	bins := r.Bins()
	names := make([]string, len(bins))
	for i, b := range bins {
		names[i] = b.name
	}
	return names
}

// Partitions lists the bins as perf partitions.
func (r *Registry) Partitions(ctx context.Context) ([]perf.Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bins := r.Bins()
	parts := make([]perf.Partition, len(bins))
	for i, b := range bins {
		parts[i] = b
	}
	return parts, nil
}

// DeleteAll empties every bin.
func (r *Registry) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, b := range r.Bins() {
		if err := b.DeleteAll(ctx); err != nil {
			return err
		}
	}
	return nil
}
