package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "live-core"

// TracerProvider owns the SDK provider; the zero value is a disabled provider.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "live-core",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// sampler honours the caller's sampling decision and samples new roots at rate.
func sampler(rate float64) tracesdk.Sampler {
	switch {
	case rate >= 1:
		return tracesdk.ParentBased(tracesdk.AlwaysSample())
	case rate <= 0:
		return tracesdk.ParentBased(tracesdk.NeverSample())
	default:
		return tracesdk.ParentBased(tracesdk.TraceIDRatioBased(rate))
	}
}

// Init installs the global tracer provider and W3C propagators. With
// tracing disabled the global no-op provider stays in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultConfig().ServiceName
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.tp == nil {
		return nil
	}
	return tp.tp.Shutdown(ctx)
}

var (
	StreamIDKey    = attribute.Key("stream.id")
	UserIDKey      = attribute.Key("user.id")
	ServerIDKey    = attribute.Key("server.id")
	RecordingIDKey = attribute.Key("recording.id")
	DurationKey    = attribute.Key("duration_ms")
)

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceWebSocketMessage spans the handling of one inbound signaling message.
func TraceWebSocketMessage(ctx context.Context, messageType, userID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "signal."+messageType,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("signal.message_type", messageType),
			UserIDKey.String(userID),
		),
	)
}

func TraceWebRTC(ctx context.Context, operation, userID, streamID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "webrtc."+operation,
		trace.WithAttributes(
			UserIDKey.String(userID),
			StreamIDKey.String(streamID),
		),
	)
}

func TraceRecording(ctx context.Context, operation, streamID, recordingID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "recording."+operation,
		trace.WithAttributes(
			StreamIDKey.String(streamID),
			RecordingIDKey.String(recordingID),
		),
	)
}

func TraceCluster(ctx context.Context, operation, serverID, streamID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{ServerIDKey.String(serverID)}
	if streamID != "" {
		attrs = append(attrs, StreamIDKey.String(streamID))
	}
	return StartSpan(ctx, "cluster."+operation, trace.WithAttributes(attrs...))
}
