// ABOUTME: Shared server and client connection options for both services
// ABOUTME: Loopback transport, keepalive and per-call credentials

package wire

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ServerOptions returns keepalive settings for a loopback server pinging
// every interval, followed by extra.
func ServerOptions(interval time.Duration, extra ...grpc.ServerOption) []grpc.ServerOption {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    interval,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	return append(opts, extra...)
}

// Dial connects to a loopback endpoint. creds may be nil when authentication
// is disabled. The connection is established lazily; activation confirms it
// with a Ping.
func Dial(endpoint string, creds credentials.PerRPCCredentials, interceptors ...grpc.UnaryClientInterceptor) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if creds != nil {
		opts = append(opts, grpc.WithPerRPCCredentials(creds))
	}
	if len(interceptors) > 0 {
		opts = append(opts, grpc.WithChainUnaryInterceptor(interceptors...))
	}
	return grpc.NewClient(endpoint, opts...)
}
