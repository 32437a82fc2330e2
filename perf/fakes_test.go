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
	"errors"
	"fmt"
	"strings"
	"sync"
)

var errNotFound = errors.New("404 Not Found")

// fakeSite is a tiny cached site: a global config entry plus one page
// cache entry per path. Misses cost queries and sets, hits cost one get.
type fakeSite struct {
	mu sync.Mutex

	pages    map[string]string
	navFail  map[string]error
	config   bool
	rendered map[string]bool
	lastBody string
	navs     []string

	queries []string
	gets    int64
	sets    int64
	deletes int64

	resetErr    error
	negativeGet bool
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages: map[string]string{
			"/node/1":     "Deep mediterranean quiche",
			"/node/2":     "Super easy vegetarian pasta bake",
			"/user/login": "Log in",
			"/warmup":     "warmup",
		},
		navFail:  map[string]error{},
		rendered: map[string]bool{},
	}
}

func (s *fakeSite) Navigate(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.navs = append(s.navs, path)
	if err := s.navFail[path]; err != nil {
		return err
	}
	body, ok := s.pages[path]
	if !ok {
		return errNotFound
	}
	if path == "/warmup" {
		s.queries = append(s.queries, "SELECT warmup")
	}

	s.gets++
	if !s.rendered[path] {
		if !s.config {
			s.gets++
			s.queries = append(s.queries, "SELECT config")
			s.sets++
			s.config = true
		}
		s.queries = append(s.queries, fmt.Sprintf("SELECT node WHERE path = '%s'", path))
		s.sets++
		s.rendered[path] = true
	}
	s.lastBody = body
	return nil
}

func (s *fakeSite) HasText(_ context.Context, fragment string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return strings.Contains(s.lastBody, fragment), nil
}

func (s *fakeSite) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resetErr != nil {
		return s.resetErr
	}
	s.queries = nil
	s.gets, s.sets, s.deletes = 0, 0, 0
	return nil
}

func (s *fakeSite) Snapshot(context.Context) (ServerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := ServerStats{
		Queries:          append([]string(nil), s.queries...),
		CacheGetCount:    s.gets,
		CacheSetCount:    s.sets,
		CacheDeleteCount: s.deletes,
	}
	if s.negativeGet {
		st.CacheGetCount = -1
	}
	return st, nil
}

func (s *fakeSite) Partitions(context.Context) ([]Partition, error) {
	return []Partition{
		&fakePartition{name: "config", clear: func() {
			s.mu.Lock()
			s.config = false
			s.deletes++
			s.mu.Unlock()
		}},
		&fakePartition{name: "page", clear: func() {
			s.mu.Lock()
			s.rendered = map[string]bool{}
			s.deletes++
			s.mu.Unlock()
		}},
	}, nil
}

func (s *fakeSite) navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.navs...)
}

type fakePartition struct {
	name    string
	clear   func()
	err     error
	cleared int
}

func (p *fakePartition) Name() string { return p.name }

func (p *fakePartition) DeleteAll(context.Context) error {
	if p.err != nil {
		return p.err
	}
	p.cleared++
	p.clear()
	return nil
}

type fakeRegistry struct {
	parts []Partition
	err   error
}

func (r *fakeRegistry) Partitions(context.Context) ([]Partition, error) {
	return r.parts, r.err
}

type fakeRebuilder struct {
	site  *fakeSite
	calls int
}

func (r *fakeRebuilder) RebuildAll(ctx context.Context) error {
	r.calls++
	parts, _ := r.site.Partitions(ctx)
	for _, p := range parts {
		if err := p.DeleteAll(ctx); err != nil {
			return err
		}
	}
	return nil
}

type fakeAssets struct {
	started  int
	stopped  int
	stats    AssetStats
	startErr error
}

func (a *fakeAssets) StartRecording(context.Context) error {
	if a.startErr != nil {
		return a.startErr
	}
	a.started++
	return nil
}

func (a *fakeAssets) StopRecording(context.Context) (AssetStats, error) {
	a.stopped++
	return a.stats, nil
}

func newSiteRunner(site *fakeSite, opts ...RunnerOption) *Runner {
	return NewRunner(site, site, NewCollector(site, nil, nil), opts...)
}

func testTarget() Target {
	return Target{
		Path:          "/node/1",
		UnrelatedPath: "/user/login",
		SiblingPath:   "/node/2",
		Expect:        "quiche",
	}
}
