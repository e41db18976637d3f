// SPDX-FileCopyrightText: 2026 snupsd authors
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/snups/snupsd/pkg/config"
)

func restoreGlobalProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestInit_Disabled(t *testing.T) {
	restoreGlobalProvider(t)
	ctx := context.Background()

	tp, shutdown, err := Init(ctx, Options{})
	require.NoError(t, err)

	assert.IsType(t, noop.TracerProvider{}, tp)
	assert.NoError(t, shutdown(ctx))
}

func TestInit_StdoutExporterWritesDeliverySpans(t *testing.T) {
	restoreGlobalProvider(t)
	ctx := context.Background()
	var out bytes.Buffer

	tp, shutdown, err := Init(ctx, Options{
		Enabled:      true,
		Exporter:     "stdout",
		SamplingRate: 1,
		Writer:       &out,
		Logger:       zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "mail.Deliver")
	span.End()
	require.NoError(t, shutdown(ctx))

	assert.NotNil(t, tp)
	assert.Contains(t, out.String(), `"Name":"mail.Deliver"`)
	assert.Contains(t, out.String(), DefaultServiceName)
}

func TestInit_ZeroSamplingRateDropsSpans(t *testing.T) {
	restoreGlobalProvider(t)
	ctx := context.Background()
	var out bytes.Buffer

	_, shutdown, err := Init(ctx, Options{Enabled: true, Exporter: "stdout", SamplingRate: -3, Writer: &out})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "mail.Deliver")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
	require.NoError(t, shutdown(ctx))
	assert.Empty(t, out.String())
}

func TestInit_NoneExporter(t *testing.T) {
	restoreGlobalProvider(t)
	ctx := context.Background()

	tp, shutdown, err := Init(ctx, Options{Enabled: true, Exporter: "none", SamplingRate: 2})
	require.NoError(t, err)
	defer func() { _ = shutdown(ctx) }()

	_, isNoop := tp.(noop.TracerProvider)
	assert.False(t, isNoop)

	_, span := tp.Tracer("test").Start(ctx, "mail.Attempt")
	assert.True(t, span.SpanContext().IsSampled(), "rate above 1 samples everything")
	span.End()
}

func TestInit_OTLPExporter(t *testing.T) {
	restoreGlobalProvider(t)
	ctx := context.Background()

	// The gRPC connection is established lazily.
	_, shutdown, err := Init(ctx, Options{Enabled: true, Exporter: "otlp", Endpoint: "localhost:0", Insecure: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(ctx) })
}

func TestInit_UnknownExporter(t *testing.T) {
	_, _, err := Init(context.Background(), Options{Enabled: true, Exporter: "jaeger"})
	assert.ErrorContains(t, err, "unknown trace exporter")
}

func TestFromConfig(t *testing.T) {
	opts := FromConfig(config.Tracing{
		Enabled:      true,
		Exporter:     "otlp",
		Endpoint:     "collector:4317",
		Insecure:     true,
		SamplingRate: 0.25,
	}, "v1.2.3", nil)

	assert.Equal(t, Options{
		Enabled:        true,
		ServiceName:    DefaultServiceName,
		ServiceVersion: "v1.2.3",
		Exporter:       "otlp",
		Endpoint:       "collector:4317",
		Insecure:       true,
		SamplingRate:   0.25,
	}, opts)
}
