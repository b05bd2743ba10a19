package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const logPrefix = "telemetry:providers"

// ShutdownFunc flushes and stops the providers installed by SetupStdout.
type ShutdownFunc func(ctx context.Context) error

// SetupStdout installs global tracer and meter providers exporting to w and
// the W3C trace context propagator.
func SetupStdout(w io.Writer, metricInterval time.Duration) (ShutdownFunc, error) {
	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("%s - stdout trace exporter: %w", logPrefix, err)
	}
	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("%s - stdout metric exporter: %w", logPrefix, err)
	}
	if metricInterval <= 0 {
		metricInterval = time.Minute
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
		sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(metricInterval)),
	))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	slog.Info(fmt.Sprintf("%s - stdout telemetry enabled (metrics every %s)", logPrefix, metricInterval))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
