// ABOUTME: OpenTelemetry instrumentation for broker calls and notifications
// ABOUTME: Spans plus duration, count and error instruments around every unary call

package telemetry

import (
	"context"
	"fmt"
	"path"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const instrumentationName = "github.com/2389/mapi-bridge"

type options struct {
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures the instrumentation.
type Option func(*options)

// WithServiceName sets the service attribute on every span and measurement.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithDisabled turns off both tracing and metrics.
func WithDisabled() Option {
	return func(o *options) {
		o.tracingEnabled = false
		o.metricsEnabled = false
	}
}

// Instrumentation records broker calls and delivered notifications.
type Instrumentation struct {
	opts    *options
	tracer  trace.Tracer
	service attribute.KeyValue

	callLatency   metric.Float64Histogram
	callCount     metric.Int64Counter
	callErrors    metric.Int64Counter
	notifications metric.Int64Counter
}

// New creates instrumentation against the global providers unless
// overridden by options.
func New(opts ...Option) (*Instrumentation, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "mapi-bridge",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	in := &Instrumentation{opts: o, service: attribute.String("service", o.serviceName)}
	if o.tracingEnabled {
		in.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := in.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("telemetry: init metrics: %w", err)
		}
	}
	return in, nil
}

func (in *Instrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	in.callLatency, err = meter.Float64Histogram(
		"mapibridge.call.duration",
		metric.WithDescription("Duration of broker calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	in.callCount, err = meter.Int64Counter(
		"mapibridge.call.count",
		metric.WithDescription("Number of broker calls"),
	)
	if err != nil {
		return err
	}

	in.callErrors, err = meter.Int64Counter(
		"mapibridge.call.errors",
		metric.WithDescription("Number of failed broker calls"),
	)
	if err != nil {
		return err
	}

	in.notifications, err = meter.Int64Counter(
		"mapibridge.notifications",
		metric.WithDescription("Number of change notifications forwarded"),
	)
	return err
}

// startSpan starts a new span if tracing is enabled.
func (in *Instrumentation) startSpan(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if in.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := in.tracer.Start(ctx, name,
		trace.WithAttributes(append(attrs, in.service)...),
		trace.WithSpanKind(kind),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		} else {
			span.SetStatus(otelcodes.Ok, "")
		}
		span.End()
	}
}

func (in *Instrumentation) recordCall(ctx context.Context, method string, side string, d time.Duration, err error) {
	if !in.opts.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(
		in.service,
		attribute.String("method", method),
		attribute.String("side", side),
		attribute.String("code", status.Code(err).String()),
	)
	in.callLatency.Record(ctx, d.Seconds(), attrs)
	in.callCount.Add(ctx, 1, attrs)
	if err != nil {
		in.callErrors.Add(ctx, 1, attrs)
	}
}

// RecordNotification counts one forwarded notification.
func (in *Instrumentation) RecordNotification(ctx context.Context, eventType, kind string, err error) {
	if !in.opts.metricsEnabled {
		return
	}
	in.notifications.Add(ctx, 1, metric.WithAttributes(
		in.service,
		attribute.String("type", eventType),
		attribute.String("kind", kind),
		attribute.Bool("failed", err != nil),
	))
}

// UnaryServerInterceptor wraps every served call in a span and records it.
func (in *Instrumentation) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := path.Base(info.FullMethod)
		ctx, end := in.startSpan(ctx, "serve "+method, trace.SpanKindServer, attribute.String("rpc.method", info.FullMethod))
		start := time.Now()
		resp, err := handler(ctx, req)
		in.recordCall(ctx, method, "server", time.Since(start), err)
		end(err)
		return resp, err
	}
}

// UnaryClientInterceptor wraps every outgoing call in a span and records it.
func (in *Instrumentation) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, fullMethod string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		method := path.Base(fullMethod)
		ctx, end := in.startSpan(ctx, "call "+method, trace.SpanKindClient, attribute.String("rpc.method", fullMethod))
		start := time.Now()
		err := invoker(ctx, fullMethod, req, reply, cc, opts...)
		in.recordCall(ctx, method, "client", time.Since(start), err)
		end(err)
		return err
	}
}
