// Package obstrace wires OpenTelemetry trace export for the orchestrator
// server, per spec.md §4.12. Tracing is optional: callers that never
// configure an OTLP endpoint get a no-op tracer provider.
package obstrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config selects the exporter endpoint and service identity.
type Config struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
}

// Init builds and installs a TracerProvider exporting spans over OTLP/gRPC.
// The caller must Shutdown the returned provider on exit to flush pending
// spans.
func Init(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartJobSpan opens a span around one job-store operation, tagged with the
// job id and workspace so traces line up with the event log.
func StartJobSpan(ctx context.Context, operation, jobID, workspace string) (context.Context, trace.Span) {
	tracer := otel.Tracer("cascade/orchestratord")
	return tracer.Start(ctx, "job."+operation, trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.workspace", workspace),
	))
}
