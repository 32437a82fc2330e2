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

import "context"

// Navigator drives the browser. Navigate blocks until the page has settled
// and fails on non-2xx responses or timeouts.
type Navigator interface {
	Navigate(ctx context.Context, path string) error
	HasText(ctx context.Context, fragment string) (bool, error)
}

// BrowserCacheClearer is implemented by navigators that can drop the
// browser level HTTP cache.
type BrowserCacheClearer interface {
	ClearBrowserCache(ctx context.Context) error
}

// Partition is a single cache bin of the system under test.
type Partition interface {
	Name() string
	DeleteAll(ctx context.Context) error
}

// CacheRegistry lists every cache partition of the system under test.
type CacheRegistry interface {
	Partitions(ctx context.Context) ([]Partition, error)
}

// Rebuilder forces a rebuild of all derived state (routes, caches,
// aggregated assets) of the system under test.
type Rebuilder interface {
	RebuildAll(ctx context.Context) error
}

// Collector instruments exactly the navigation executed inside fn.
// An error returned by fn is passed through unchanged.
type Collector interface {
	CaptureDuring(ctx context.Context, label string, fn func(context.Context) error) (Sample, error)
}

// ServerRecorder gives access to the server side telemetry of the system
// under test.
type ServerRecorder interface {
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (ServerStats, error)
}

// AssetRecorder records the scripts and stylesheets loaded by the browser
// between StartRecording and StopRecording.
type AssetRecorder interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (AssetStats, error)
}
