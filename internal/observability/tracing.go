// Package observability wires an optional OTLP trace exporter into
// Genkit's tracer provider. Tracing is off unless an endpoint is
// configured; the rest of the application never checks whether it is on.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config for trace export.
type Config struct {
	// Endpoint is the OTLP HTTP receiver host:port, e.g. "localhost:4318".
	// Empty disables tracing entirely.
	Endpoint string
	// ServiceName labels spans in the tracing backend. Default: "ragent".
	ServiceName string
	// Environment tags spans with a deployment environment.
	Environment string
}

// Setup registers an OTLP exporter with Genkit's TracerProvider and
// returns a shutdown function that flushes pending spans. With no
// endpoint configured both the setup and the returned shutdown are
// no-ops, so callers need no conditional.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func(context.Context) error { return nil }

	if cfg.Endpoint == "" {
		return noop, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "ragent"
	}

	// Genkit's TracerProvider reads service identity from OTEL env vars.
	// Setenv is safe here: Setup runs once at startup before any
	// goroutines exist.
	_ = os.Setenv("OTEL_SERVICE_NAME", serviceName)
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		// Tracing is best effort. A missing collector must not keep
		// the assistant from starting.
		logger.Warn("creating otlp exporter, tracing disabled", "endpoint", cfg.Endpoint, "error", err)
		return noop, nil
	}

	tracing.TracerProvider().RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter))

	// Emit one span at startup so a misconfigured collector shows up in
	// the logs immediately, not after the first user turn.
	tracer := tracing.TracerProvider().Tracer("ragent")
	_, span := tracer.Start(ctx, "ragent.init", trace.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.String("deployment.environment", cfg.Environment),
	))
	span.End()

	logger.Debug("tracing enabled", "endpoint", cfg.Endpoint, "service", serviceName)
	return tracing.TracerProvider().Shutdown, nil
}
