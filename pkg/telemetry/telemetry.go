// SPDX-FileCopyrightText: 2026 snupsd authors
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry sets up OpenTelemetry tracing for mail deliveries.
//
// Tracing is off by default. When enabled, every delivery produces a
// mail.Deliver span with one mail.Attempt child per SMTP session, which makes
// failover across mail exchanges visible in a trace backend.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/snups/snupsd/pkg/config"
)

// DefaultServiceName is the service.name resource attribute.
const DefaultServiceName = "snupsd"

const shutdownTimeout = 5 * time.Second

// Options configures the TracerProvider.
type Options struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Exporter is one of "otlp" (default), "stdout" or "none".
	Exporter string
	// Endpoint is the OTLP gRPC collector address, e.g. "collector:4317".
	Endpoint string
	Insecure bool

	// SamplingRate is clamped to [0, 1].
	SamplingRate float64

	// Writer receives spans of the stdout exporter. Defaults to os.Stdout.
	Writer io.Writer

	Logger *zap.SugaredLogger
}

// FromConfig builds Options from the tracing section of the daemon config.
func FromConfig(cfg config.Tracing, version string, log *zap.SugaredLogger) Options {
	return Options{
		Enabled:        cfg.Enabled,
		ServiceName:    DefaultServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Exporter,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		SamplingRate:   cfg.SamplingRate,
		Logger:         log,
	}
}

// ShutdownFunc flushes pending spans and stops the TracerProvider.
type ShutdownFunc func(ctx context.Context) error

// Init installs the global TracerProvider. With tracing disabled a no-op
// provider is installed and the returned ShutdownFunc does nothing.
func Init(ctx context.Context, opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	if !opts.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	opts.SamplingRate = clampRate(opts.SamplingRate, log)

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	exporter, err := newExporter(ctx, opts, log)
	if err != nil {
		return nil, nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SamplingRate))),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warnw("OpenTelemetry internal error", "error", err)
	}))

	log.Infow("Tracing initialized",
		"exporter", opts.Exporter,
		"samplingRate", opts.SamplingRate)

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	}
	return tp, shutdown, nil
}

func newExporter(ctx context.Context, opts Options, log *zap.SugaredLogger) (sdktrace.SpanExporter, error) {
	switch opts.Exporter {
	case "otlp", "":
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP gRPC exporter: %w", err)
		}
		log.Infow("OTLP trace exporter created", "endpoint", opts.Endpoint, "insecure", opts.Insecure)
		return exporter, nil

	case "stdout":
		w := opts.Writer
		if w == nil {
			w = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return exporter, nil

	case "none":
		// spans are sampled and ended but never exported
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown trace exporter %q: supported values are otlp, stdout, none", opts.Exporter)
	}
}

func clampRate(rate float64, log *zap.SugaredLogger) float64 {
	switch {
	case rate < 0:
		log.Warnw("Negative sampling rate, sampling nothing", "provided", rate)
		return 0
	case rate > 1:
		log.Warnw("Sampling rate above 1, sampling everything", "provided", rate)
		return 1
	default:
		return rate
	}
}
