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

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/browser-perfbudget/cache"
	"github.com/grafana/browser-perfbudget/log"
	"github.com/grafana/browser-perfbudget/perf"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := NewRecorder()
	r.RecordQuery("SELECT 1")
	r.RecordQuery("SELECT 2")
	r.RecordCacheGet("page")
	r.RecordCacheSet("page")
	r.RecordCacheDelete("render")
	r.RecordTagChecksum()
	r.RecordTagIsValid()
	r.RecordTagInvalidation("node:1")

	s, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, perf.ServerStats{
		Queries:                   []string{"SELECT 1", "SELECT 2"},
		CacheGetCount:             1,
		CacheSetCount:             1,
		CacheDeleteCount:          1,
		CacheTagChecksumCount:     1,
		CacheTagIsValidCount:      1,
		CacheTagInvalidationCount: 1,
	}, s)

	s.Queries[0] = "mutated"
	again, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", again.Queries[0], "snapshots are copies")

	require.NoError(t, r.Reset(ctx))
	s, err = r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.Queries)
	assert.Zero(t, s.CacheGetCount)
	assert.Empty(t, r.BinOperations())
}

func TestNilRecorder(t *testing.T) {
	t.Parallel()

	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordQuery("SELECT 1")
		r.RecordCacheGet("page")
		r.RecordTagIsValid()
		_ = r.Reset(context.Background())
	})
	s, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Queries)
}

type countingRebuilder struct {
	calls int
	err   error
}

func (r *countingRebuilder) RebuildAll(context.Context) error {
	r.calls++
	return r.err
}

func newTestServer(t *testing.T, rb perf.Rebuilder) (*httptest.Server, *Recorder, *cache.Registry) {
	t.Helper()

	rec := NewRecorder()
	reg := cache.NewRegistry(rec)
	reg.Bin("page").Set("/node/1", "page")
	reg.Bin("render").Set("node:1", "render")

	router := gin.New()
	RegisterRoutes(router, NewHandler(rec, reg, rb, log.NewNullLogger()))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv, rec, reg
}

func TestClientAgainstHandler(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rb := &countingRebuilder{}
	srv, rec, reg := newTestServer(t, rb)
	c := NewClient(srv.URL+"/", srv.Client())

	require.NoError(t, c.Reset(ctx))
	rec.RecordQuery("SELECT nid FROM node")
	reg.Bin("page").Get("/node/1")

	s, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT nid FROM node"}, s.Queries)
	assert.EqualValues(t, 1, s.CacheGetCount)

	parts, err := c.Partitions(ctx)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "page", parts[0].Name())
	assert.Equal(t, "render", parts[1].Name())

	require.NoError(t, parts[0].DeleteAll(ctx))
	assert.Zero(t, reg.Bin("page").Len())
	assert.Equal(t, 1, reg.Bin("render").Len())

	require.NoError(t, c.RebuildAll(ctx))
	assert.Equal(t, 1, rb.calls)
}

func TestClientErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv, _, _ := newTestServer(t, nil)
	c := NewClient(srv.URL, nil)

	err := c.RebuildAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "501")
	assert.Contains(t, err.Error(), "rebuild is not supported")

	err = (&remoteBin{name: "nope", client: c}).DeleteAll(ctx)
	assert.ErrorContains(t, err, "unknown cache bin nope")

	rbErr := &countingRebuilder{err: errors.New("router table locked")}
	srv2, _, _ := newTestServer(t, rbErr)
	err = NewClient(srv2.URL, nil).RebuildAll(ctx)
	assert.ErrorContains(t, err, "router table locked")
}

func TestHandlerClearAll(t *testing.T) {
	t.Parallel()

	srv, _, reg := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/_perf/cache", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, reg.Bin("page").Len())
	assert.Zero(t, reg.Bin("render").Len())
}
