// ABOUTME: Tests for the telemetry interceptors
// ABOUTME: Uses no-op providers and checks calls pass through unchanged

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newTest(t *testing.T, opts ...Option) *Instrumentation {
	t.Helper()
	opts = append([]Option{
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMeterProvider(metricnoop.NewMeterProvider()),
		WithServiceName("test"),
	}, opts...)
	in, err := New(opts...)
	require.NoError(t, err)
	return in
}

func TestUnaryServerInterceptor(t *testing.T) {
	in := newTest(t)
	ic := in.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/mapibridge.v1.Broker/Ping"}

	resp, err := ic(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		assert.NotNil(t, trace.SpanFromContext(ctx))
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	failure := status.Error(codes.NotFound, "gone")
	_, err = ic(context.Background(), "req", info, func(context.Context, any) (any, error) {
		return nil, failure
	})
	assert.Equal(t, failure, err)
}

func TestUnaryClientInterceptor(t *testing.T) {
	in := newTest(t)
	ic := in.UnaryClientInterceptor()

	var gotMethod string
	boom := errors.New("boom")
	err := ic(context.Background(), "/mapibridge.v1.Callback/Inserted", nil, nil, nil,
		func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			gotMethod = method
			return boom
		})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "/mapibridge.v1.Callback/Inserted", gotMethod)
}

func TestDisabled(t *testing.T) {
	in := newTest(t, WithDisabled())
	in.RecordNotification(context.Background(), "inserted", "contact", nil)

	resp, err := in.UnaryServerInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(context.Context, any) (any, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, resp)
}

func TestRecordNotification(t *testing.T) {
	in := newTest(t)
	in.RecordNotification(context.Background(), "deleted", "appointment", errors.New("unreachable"))
}
