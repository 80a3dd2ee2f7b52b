// Package telemetry also sets up OpenTelemetry tracing: an OTLP/gRPC
// exporter gated on OTEL_EXPORTER_OTLP_ENDPOINT, with spans tagged by
// pipeline stage and subject.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracerProvider   *sdktrace.TracerProvider
	isTracingEnabled bool
)

// InitTracing initializes OpenTelemetry tracing with an OTLP/gRPC exporter.
// If OTEL_EXPORTER_OTLP_ENDPOINT is unset, tracing is a no-op.
func InitTracing(serviceName, serviceVersion string) (func(), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		slog.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)
	isTracingEnabled = true
	slog.Info("tracing initialized", slog.String("service", serviceName), slog.String("endpoint", endpoint))

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("tracer provider shutdown failed", slog.Any("err", err))
		}
	}, nil
}

// IsTracingEnabled reports whether tracing is active.
func IsTracingEnabled() bool {
	return isTracingEnabled
}

// Stage names one phase of an archival pass. Every span is tagged with its
// stage so traces read in the same vocabulary as the rest of the pipeline
// (discover a source, fetch a video's metadata/comments/captions, write it
// to the store, checkpoint the run).
type Stage string

const (
	StageDiscover   Stage = "discover"
	StageFetch      Stage = "fetch"
	StageWrite      Stage = "write"
	StageCheckpoint Stage = "checkpoint"
)

// StartSpan starts a span for one pipeline stage acting on subject (a
// source URL, video id, or checkpoint label), tagged with ytarchive.stage
// and ytarchive.subject plus any stage-specific attrs.
func StartSpan(ctx context.Context, stage Stage, subject string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("ytarchive/pipeline")
	all := append([]attribute.KeyValue{
		attribute.String("ytarchive.stage", string(stage)),
		attribute.String("ytarchive.subject", subject),
	}, attrs...)
	return tracer.Start(ctx, string(stage), trace.WithAttributes(all...))
}

// RecordError records err on span and sets error status, if err is non-nil.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks span as successful.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
