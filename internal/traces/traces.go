// Package traces wires OpenTelemetry tracing for the ContextForge API.
package traces

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/contextforge/contextforge"

// Incoming W3C trace context is honoured even when export is disabled, so
// request IDs from upstream proxies still correlate.
var propagator = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

// Config controls span export.
type Config struct {
	Endpoint       string  // OTLP gRPC endpoint; empty disables export
	ServiceVersion string
	SampleRatio    float64 // for root spans; <= 0 or > 1 means 1
}

// Shutdown flushes and stops the exporter.
type Shutdown func(context.Context) error

// Init installs a tracer provider exporting to cfg.Endpoint. Without an
// endpoint nothing is installed and the returned Shutdown is a no-op.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (Shutdown, error) {
	otel.SetTextMapPropagator(propagator)
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("contextforge"),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "sample_ratio", ratio)
	return tp.Shutdown, nil
}

// StartSpan starts an internal span on the global provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func UserID(id string) attribute.KeyValue {
	return attribute.String("user.id", id)
}

func Range(r string) attribute.KeyValue {
	return attribute.String("analytics.range", r)
}

func Read(name string) attribute.KeyValue {
	return attribute.String("analytics.read", name)
}

func JobID(id string) attribute.KeyValue {
	return attribute.String("job.id", id)
}

// Middleware starts a server span per request, named after the route and
// parented to any incoming traceparent.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := otel.Tracer(tracerName).Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
