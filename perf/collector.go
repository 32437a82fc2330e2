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

	"github.com/grafana/browser-perfbudget/log"
)

// TelemetryCollector captures server side telemetry and browser asset
// loads around one navigation.
type TelemetryCollector struct {
	server ServerRecorder
	assets AssetRecorder
	logger *log.Logger
}

// NewCollector returns a collector over the given recorders. Either one
// may be nil, in which case the matching counters stay zero; both nil is
// rejected when capturing.
func NewCollector(server ServerRecorder, assets AssetRecorder, logger *log.Logger) *TelemetryCollector {
	return &TelemetryCollector{
		server: server,
		assets: assets,
		logger: logger,
	}
}

// CaptureDuring resets the recorders, runs fn, and builds a sample from
// what was recorded in between. An error returned by fn is returned
// unchanged and no sample is produced. Any recorder failure or invalid
// telemetry is a *CollectionError.
func (c *TelemetryCollector) CaptureDuring(
	ctx context.Context, label string, fn func(context.Context) error,
) (Sample, error) {
	if c.server == nil && c.assets == nil {
		return Sample{}, &CollectionError{Scenario: label, Err: ErrNoTelemetry}
	}

	c.logger.Debugf("TelemetryCollector:CaptureDuring", "label:%q attaching", label)

	if c.server != nil {
		if err := c.server.Reset(ctx); err != nil {
			return Sample{}, &CollectionError{Scenario: label, Err: fmt.Errorf("resetting server telemetry: %w", err)}
		}
	}
	if c.assets != nil {
		if err := c.assets.StartRecording(ctx); err != nil {
			return Sample{}, &CollectionError{Scenario: label, Err: fmt.Errorf("starting asset recording: %w", err)}
		}
	}

	if err := fn(ctx); err != nil {
		if c.assets != nil {
			// Recording must not outlive the failed navigation.
			if _, serr := c.assets.StopRecording(context.WithoutCancel(ctx)); serr != nil {
				c.logger.Warnf("TelemetryCollector:CaptureDuring", "label:%q stopping asset recording: %v", label, serr)
			}
		}
		return Sample{}, err
	}

	var (
		server ServerStats
		assets AssetStats
		errs   []error
	)
	if c.assets != nil {
		a, err := c.assets.StopRecording(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("stopping asset recording: %w", err))
		}
		assets = a
	}
	if c.server != nil {
		s, err := c.server.Snapshot(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("reading server telemetry: %w", err))
		}
		server = s
	}
	if err := errors.Join(errs...); err != nil {
		return Sample{}, &CollectionError{Scenario: label, Err: err}
	}

	sample := NewSample(label, server, assets)
	if err := sample.Validate(); err != nil {
		return Sample{}, &CollectionError{Scenario: label, Err: fmt.Errorf("inconsistent telemetry: %w", err)}
	}

	c.logger.Debugf("TelemetryCollector:CaptureDuring", "label:%q queries:%d gets:%d sets:%d",
		label, sample.QueryCount, sample.CacheGetCount, sample.CacheSetCount)

	return sample, nil
}
