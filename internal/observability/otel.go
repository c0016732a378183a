// Package observability wires optional OpenTelemetry tracing of RPC calls.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// RunIDEnv carries the generated trace run id from the coordinator to its
// workers.
const RunIDEnv = "FORKBENCH_TRACE_RUN_ID"

// RunID returns explicit when set. Otherwise it returns the id inherited via
// RunIDEnv, generating and exporting a new one when there is none.
func RunID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if id := os.Getenv(RunIDEnv); id != "" {
		return id
	}
	id := uuid.NewString()
	_ = os.Setenv(RunIDEnv, id)
	return id
}

type TracerConfig struct {
	Enabled bool
	Service string
	// Endpoint selects OTLP/HTTP export. Empty means stdout export to Writer.
	Endpoint string
	Writer   io.Writer
	RunID    string
	// Role is "coordinator" or "worker".
	Role     string
	WorkerID int
	Log      *slog.Logger
}

// InitTracer sets the global tracer provider and returns its shutdown func.
// When tracing is disabled the global no-op provider is left in place.
func InitTracer(cfg TracerConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	ctx := context.Background()
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		log.Debug("otel trace exporter configured", "type", "otlphttp", "endpoint", endpoint)
	} else {
		opts := []stdouttrace.Option{}
		if cfg.Writer != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
		}
		exporter, err = stdouttrace.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		log.Debug("otel trace exporter configured", "type", "stdout")
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.Service),
		attribute.String("forkbench.role", cfg.Role),
		attribute.Int("forkbench.worker", cfg.WorkerID),
	}
	attrs = append(attrs, attribute.String("forkbench.run_id", RunID(cfg.RunID)))
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}, nil
}
