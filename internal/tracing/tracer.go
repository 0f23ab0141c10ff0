// Package tracing wires OpenTelemetry spans around the three places spec §9
// calls out for observability: one LLM call, one tool execution, and one
// observational-memory cycle. It plays the role of the teacher's
// internal/agent/loop_tracing.go, but that file leaned on a hand-rolled
// internal/tracing span-collector package that was never part of the
// retrieved source (see DESIGN.md) — this package covers the same three
// call sites with the real go.opentelemetry.io/otel SDK instead, grounded on
// kadirpekel-hector/pkg/observability/tracer.go's InitGlobalTracer/GetTracer
// shape.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nextlevelbuilder/codeloom/internal/config"
)

const instrumentationName = "github.com/nextlevelbuilder/codeloom/internal/agentloop"

const defaultServiceName = "codeloom"

var tracer trace.Tracer = noop.NewTracerProvider().Tracer(instrumentationName)

// Init configures the global TracerProvider from cfg and returns a shutdown
// func the caller must defer-call to flush pending spans on exit. When
// cfg.Enabled is false it installs the otel no-op provider, so every span.Start
// call elsewhere in the codebase stays cheap and safe to leave unconditional.
func Init(ctx context.Context, cfg config.TelemetryConfig) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		tracer = noop.NewTracerProvider().Tracer(instrumentationName)
		return func(context.Context) error { return nil }, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracing: telemetry enabled but endpoint is empty")
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: build exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(instrumentationName)
	return tp.Shutdown, nil
}

// truncatePreview caps a span's input/output preview attribute the way the
// teacher's emitLLMSpan/emitToolSpan truncate before storing a SpanData row.
func truncatePreview(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

const previewLimit = 500
