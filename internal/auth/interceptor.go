// ABOUTME: gRPC interceptor and per-call credentials for bearer tokens
// ABOUTME: Extracts the token from metadata and populates the caller identity

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// DefaultTokenTTL bounds the lifetime of minted tokens.
const DefaultTokenTTL = 5 * time.Minute

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}

// UnaryInterceptor returns a gRPC unary interceptor that accepts only tokens
// whose subject is one of allowed. An empty allowed list accepts any subject.
func UnaryInterceptor(tokens TokenVerifier, logger *slog.Logger, allowed ...string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		id, err := extractIdentity(ctx, tokens, allowed, logger, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(WithIdentity(ctx, id), req)
	}
}

// NoAuthUnaryInterceptor injects an anonymous identity when authentication
// is disabled.
func NoAuthUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		return handler(WithIdentity(ctx, &Identity{Subject: "anonymous", Anonymous: true}), req)
	}
}

func extractIdentity(ctx context.Context, tokens TokenVerifier, allowed []string, logger *slog.Logger, method string) (*Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(logger, ctx, "missing_metadata", "method", method)
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		logAuthFailure(logger, ctx, "missing_authorization", "method", method)
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}

	authHeader := authHeaders[0]
	if !strings.HasPrefix(authHeader, "Bearer ") {
		logAuthFailure(logger, ctx, "bad_authorization_format", "method", method)
		return nil, status.Error(codes.Unauthenticated, "invalid authorization header format")
	}

	subject, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "), allowed...)
	if errors.Is(err, ErrSubjectNotAllowed) {
		logAuthFailure(logger, ctx, "subject_not_allowed", "method", method, "subject", subject)
		return nil, status.Errorf(codes.PermissionDenied, "subject %q may not call %s", subject, method)
	}
	if err != nil {
		logAuthFailure(logger, ctx, "invalid_token", "method", method, "error", err)
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}

	return &Identity{Subject: subject}, nil
}

// Credentials attaches a freshly minted bearer token to every call.
type Credentials struct {
	signer  *JWTVerifier
	subject string
	ttl     time.Duration
}

// NewCredentials returns per-call credentials for subject.
func NewCredentials(signer *JWTVerifier, subject string) *Credentials {
	return &Credentials{signer: signer, subject: subject, ttl: DefaultTokenTTL}
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (c *Credentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	token, err := c.signer.Generate(c.subject, c.ttl)
	if err != nil {
		return nil, err
	}
	return map[string]string{"authorization": "Bearer " + token}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials. Both
// ends listen on loopback only.
func (c *Credentials) RequireTransportSecurity() bool { return false }
