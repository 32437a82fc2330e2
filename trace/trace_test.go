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

package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/grafana/browser-perfbudget/log"
)

type stepKind string

func (k stepKind) String() string { return string(k) }

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return NewTracer(log.NewNullLogger(), tp, map[string]string{"run.id": "run-1"}), rec
}

func attr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTraceScenarioParentsSteps(t *testing.T) {
	t.Parallel()

	tr, rec := newRecordingTracer(t)
	ctx := context.Background()

	sctx, span := tr.TraceScenario(ctx, "nodePageHotCache")
	_, step := tr.TraceStep(ctx, "nodePageHotCache", 0, stepKind("navigate"))
	step.End()
	_, measured := tr.TraceStep(sctx, "nodePageHotCache", -1, stepKind("measured"))
	measured.SetStatus(codes.Error, "boom")
	measured.End()
	span.End()
	tr.EndScenario("nodePageHotCache")

	ended := rec.Ended()
	require.Len(t, ended, 3)

	scenario := ended[2]
	assert.Equal(t, "scenario", scenario.Name())
	for _, s := range ended[:2] {
		assert.Equal(t, scenario.SpanContext().SpanID(), s.Parent().SpanID(), s.Name())
		assert.Equal(t, scenario.SpanContext().TraceID(), s.SpanContext().TraceID(), s.Name())
	}
	assert.Equal(t, "navigate", ended[0].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)

	v, ok := attr(ended[0].Attributes(), "step")
	require.True(t, ok)
	assert.EqualValues(t, 0, v.AsInt64())
	v, ok = attr(scenario.Attributes(), "run.id")
	require.True(t, ok)
	assert.Equal(t, "run-1", v.AsString())
}

func TestTraceStepWithoutScenario(t *testing.T) {
	t.Parallel()

	tr, rec := newRecordingTracer(t)

	_, span := tr.TraceStep(context.Background(), "unknown", 2, stepKind("navigate"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Parent().IsValid())
}

func TestTraceScenarioEndsPreviousLiveSpan(t *testing.T) {
	t.Parallel()

	tr, rec := newRecordingTracer(t)
	ctx := context.Background()

	_, first := tr.TraceScenario(ctx, "nodePageColdCache")
	_, second := tr.TraceScenario(ctx, "nodePageColdCache")
	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, first.SpanContext().SpanID(), rec.Ended()[0].SpanContext().SpanID())

	second.End()
	tr.EndScenario("nodePageColdCache")
	assert.Len(t, rec.Ended(), 2)
}

func TestGetTraceID(t *testing.T) {
	t.Parallel()

	tr, _ := newRecordingTracer(t)
	_, span := tr.Start(context.Background(), "x")
	defer span.End()

	assert.Len(t, GetTraceID(span.SpanContext()), 32)

	_, noopSpan := NewNoopTracer().Start(context.Background(), "y")
	assert.Empty(t, GetTraceID(noopSpan.SpanContext()))
}
