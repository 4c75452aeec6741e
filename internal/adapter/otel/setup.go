// Package otel provides OpenTelemetry tracing setup and span helpers.
package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc is called to flush and shut down the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer returns a no-op shutdown function. Wiring an OTLP exporter and
// TracerProvider is left to the deployment; span helpers fall back to the
// global no-op tracer until one is registered.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel: tracer initialized", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}
