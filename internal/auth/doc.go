// Package auth authenticates calls between a host process and the broker
// server it launched.
//
// # Shared Secret
//
// The launcher generates a random secret for every broker it starts and
// hands it to the child through the MAPIBRIDGE_SECRET environment variable.
// Both sides sign and verify HS256 JWTs with that secret, so only the pair
// that shares a launch can talk to each other even though both listen on
// loopback.
//
// # Subjects
//
// Tokens carry the caller role in the "sub" claim:
//
//   - SubjectHost: calls from the host into the broker
//   - SubjectBroker: callbacks from the broker into the host
//
// # gRPC Integration
//
// UnaryInterceptor verifies the bearer token in the "authorization" metadata
// and attaches an Identity to the context. Credentials implements
// credentials.PerRPCCredentials and mints a fresh token per call.
// NoAuthUnaryInterceptor attaches an anonymous identity when authentication
// is disabled by configuration.
package auth
