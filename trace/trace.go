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

// Package trace provides tracing instrumentation tailored for scenario runs.
package trace

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/grafana/browser-perfbudget/log"
)

const tracerName = "perfbudget"

// liveSpan is the span of a scenario that is currently running.
//
// Steps are traced from the runner without a handle on the scenario span,
// so the tracer keeps a reference to it keyed by scenario name.
type liveSpan struct {
	ctx  context.Context
	span trace.Span
}

// Tracer generates spans for scenarios and their steps.
type Tracer struct {
	logger *log.Logger

	trace.Tracer

	metadata []attribute.KeyValue

	liveSpansMu sync.RWMutex
	liveSpans   map[string]*liveSpan
}

// NewTracer creates a new Tracer from the given TracerProvider.
func NewTracer(logger *log.Logger, tp trace.TracerProvider, metadata map[string]string, options ...trace.TracerOption) *Tracer {
	return &Tracer{
		logger:    logger,
		Tracer:    tp.Tracer(tracerName, options...),
		metadata:  buildMetadataAttributes(metadata),
		liveSpans: make(map[string]*liveSpan),
	}
}

// NewNoopTracer returns a tracer whose spans record nothing.
func NewNoopTracer() *Tracer {
	return NewTracer(log.NewNullLogger(), noop.NewTracerProvider(), nil)
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

// GetTraceID returns the hex trace ID of spanCtx, or an empty string.
func GetTraceID(spanCtx trace.SpanContext) string {
	if spanCtx.HasTraceID() {
		traceID := spanCtx.TraceID()
		return traceID.String()
	}
	return ""
}

// TraceScenario starts the span of a scenario run and records it as the
// live span for name. A previous live span for the same name is ended.
// The caller must end the returned span, then call EndScenario.
func (t *Tracer) TraceScenario(
	ctx context.Context, name string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[name]
	if ls != nil {
		ls.span.End()
	} else {
		ls = &liveSpan{}
	}

	opts = append(opts, trace.WithAttributes(attribute.String("scenario", name)))
	spanName := "scenario"
	ls.ctx, ls.span = t.Start(ctx, spanName, opts...)
	t.liveSpans[name] = ls

	traceID := GetTraceID(trace.SpanContextFromContext(ls.ctx))
	t.logger.Debugf("Tracer:TraceScenario", "spanName: %q traceID: %q scenario: %q", spanName, traceID, name)

	return ls.ctx, &SpanLogger{Span: ls.span, logger: t.logger, spanName: spanName}
}

// EndScenario forgets the live span of name. It does not end the span.
func (t *Tracer) EndScenario(name string) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	delete(t.liveSpans, name)
}

// TraceStep adds a span for one scenario step to the live span of the
// scenario. Without a live span the step span is created from ctx. It is
// the caller's responsibility to end the span.
func (t *Tracer) TraceStep(
	ctx context.Context, scenario string, step int, kind fmt.Stringer, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.RLock()
	ls := t.liveSpans[scenario]
	t.liveSpansMu.RUnlock()

	spanName := kind.String()
	opts = append(opts, trace.WithAttributes(
		attribute.String("scenario", scenario),
		attribute.Int("step", step),
	))

	if ls == nil {
		t.logger.Debugf("Tracer:TraceStep", "no live span spanName: %q scenario: %q", spanName, scenario)
		sCtx, span := t.Start(ctx, spanName, opts...)

		return sCtx, &SpanLogger{Span: span, logger: t.logger, spanName: spanName}
	}

	// keep cancellation of ctx while parenting to the scenario span
	parent := trace.ContextWithSpan(ctx, ls.span)
	sCtx, span := t.Start(parent, spanName, opts...)

	return sCtx, &SpanLogger{Span: span, logger: t.logger, spanName: spanName}
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	meta := make([]attribute.KeyValue, 0, len(metadata))
	for mk, mv := range metadata {
		meta = append(meta, attribute.String(mk, mv))
	}

	return meta
}

// SpanLogger is a Span that will log the method calls.
type SpanLogger struct {
	trace.Span
	logger   *log.Logger
	spanName string
}

// SetStatus will log some info before calling the underlying SetStatus.
func (i *SpanLogger) SetStatus(code codes.Code, description string) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("SpanLogger:SetStatus", "spanName: %q traceID: %q code: %q description: %q", i.spanName, traceID, code, description)

	i.Span.SetStatus(code, description)
}

// End will log some info before calling the underlying End.
func (i *SpanLogger) End(options ...trace.SpanEndOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("SpanLogger:End", "spanName: %q traceID: %q", i.spanName, traceID)

	i.Span.End(options...)
}

// RecordError will log some info before calling the underlying RecordError.
func (i *SpanLogger) RecordError(err error, options ...trace.EventOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("SpanLogger:RecordError", "spanName: %q traceID: %q err: %q", i.spanName, traceID, err)

	i.Span.RecordError(err, options...)
}
