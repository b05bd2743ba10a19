// Package telemetry provides OpenTelemetry instrumentation for the
// dispatcher. It implements dispatcher.DispatchHook to add tracing and
// metrics around every call.
//
// Usage:
//
//	d := dispatcher.NewDispatcher(reg)
//	telemetry.Instrument(d, telemetry.DefaultConfig())
package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
)

const instrumentationName = "rpc_dispatch"

// Config configures OpenTelemetry instrumentation.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator extracts trace context from transport metadata.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	// EnableTracing enables span creation.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording.
	EnableMetrics bool
	// ServiceName is the rpc.service attribute value.
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns a Config with tracing and metrics enabled.
// Providers are resolved from the global OTel SDK at instrumentation time.
func DefaultConfig() Config {
	return Config{
		EnableTracing: true,
		EnableMetrics: true,
		ServiceName:   "rpc-dispatch",
	}
}

// Instrument installs the hook on d.
func Instrument(d *dispatcher.Dispatcher, cfg Config) {
	d.SetDispatchHook(NewHook(cfg))
}

// NewHook builds the dispatch hook.
func NewHook(cfg Config) dispatcher.DispatchHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requestCounter, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of RPC requests"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of RPC requests"),
		)
	}
	return hook
}

type otelHook struct {
	cfg               Config
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnDispatchStart extracts the parent trace context and starts a server span.
func (h *otelHook) OnDispatchStart(ctx context.Context, info dispatcher.DispatchInfo) (context.Context, dispatcher.HookToken) {
	if h.cfg.Propagator != nil && info.TransportMetadata != nil {
		ctx = h.cfg.Propagator.Extract(ctx, propagation.MapCarrier(info.TransportMetadata))
	}
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", info.Protocol.String()),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Method),
		attribute.String("rpc.entry_point", info.EntryPoint),
	}
	if info.RequestID != "" {
		attrs = append(attrs, attribute.String("rpc.request_id", info.RequestID))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)
	if v := info.TransportMetadata["remote_addr"]; v != "" {
		attrs = append(attrs, attribute.String("net.peer.ip", v))
	}
	if v := info.TransportMetadata["user-agent"]; v != "" {
		attrs = append(attrs, attribute.String("user_agent.original", v))
	}

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("rpc/%s", info.Method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnDispatchEnd records metrics and ends the span.
func (h *otelHook) OnDispatchEnd(ctx context.Context, token dispatcher.HookToken, info dispatcher.DispatchInfo, result *dispatcher.Result) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)

	status := "ok"
	var fault *dispatcher.Fault
	if result != nil && result.IsError() {
		status = "error"
		fault = result.Fault()
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", info.Protocol.String()),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.Method),
			attribute.String("rpc.entry_point", info.EntryPoint),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	if fault != nil {
		st.span.SetStatus(codes.Error, fault.Message)
		st.span.RecordError(fault)
		st.span.SetAttributes(attribute.String("rpc.error_code", strconv.Itoa(fault.Code)))
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}
