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

// Package otel sets up the OpenTelemetry trace pipeline of a run.
package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "perfbudget"

// Resource attribute keys describing a run.
const (
	AttrRunID     = attribute.Key("perfbudget.run.id")
	AttrNavigator = attribute.Key("perfbudget.navigator")
)

// ErrUnsupportedProto indicates that the exporter protocol is not supported.
var ErrUnsupportedProto = errors.New("unsupported protocol")

// Options configures the trace pipeline of a run.
type Options struct {
	// Endpoint of the OTLP collector. Spans are not exported when empty.
	Endpoint  string
	Proto     string
	Insecure  bool
	RunID     string
	Navigator string
}

// Provider is the tracer provider of a run. It is installed as the global
// provider by Setup.
type Provider struct {
	trace.TracerProvider

	sdk *sdktrace.TracerProvider
}

// Setup builds the provider described by opts: an OTLP exporting one, or
// a noop one without an endpoint.
func Setup(ctx context.Context, opts Options) (*Provider, error) {
	if opts.Endpoint == "" {
		p := &Provider{TracerProvider: noop.NewTracerProvider()}
		otel.SetTracerProvider(p.TracerProvider)
		return p, nil
	}

	exporter, err := newExporter(ctx, opts)
	if err != nil {
		return nil, err
	}
	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(opts.resource()),
	)
	otel.SetTracerProvider(sdk)

	return &Provider{TracerProvider: sdk, sdk: sdk}, nil
}

// Exporting reports whether spans leave the process.
func (p *Provider) Exporting() bool { return p.sdk != nil }

// Shutdown flushes pending spans. It is a no-op for a noop provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	if err := p.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down trace provider: %w", err)
	}
	return nil
}

func (o Options) resource() *resource.Resource {
	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if o.RunID != "" {
		attrs = append(attrs, AttrRunID.String(o.RunID))
	}
	if o.Navigator != "" {
		attrs = append(attrs, AttrNavigator.String(o.Navigator))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func newExporter(ctx context.Context, o Options) (*otlptrace.Exporter, error) {
	if !strings.EqualFold(o.Proto, "http") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProto, o.Proto)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(o.Endpoint)}
	if o.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}
	return exporter, nil
}
