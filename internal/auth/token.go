// ABOUTME: JWT token verification for authenticating bridge calls
// ABOUTME: Uses HS256 signing with the per-launch shared secret

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SecretEnv carries the hex encoded shared secret into a launched broker.
const SecretEnv = "MAPIBRIDGE_SECRET"

// Caller roles carried in the "sub" claim.
const (
	SubjectHost   = "host"
	SubjectBroker = "broker"
)

// Issuer is the "iss" claim of every channel token.
const Issuer = "mapi-bridge"

// clockSkew tolerates small clock differences between the two processes.
const clockSkew = 5 * time.Second

var (
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrExpiredToken      = errors.New("auth: token expired")
	ErrMissingClaim      = errors.New("auth: missing required claim")
	ErrSubjectNotAllowed = errors.New("auth: subject not allowed")
	ErrNoSecret          = errors.New("auth: no shared secret")
)

// TokenVerifier checks a bearer token and returns the caller role. With a
// non-empty allowed list, any other role fails with ErrSubjectNotAllowed.
type TokenVerifier interface {
	Verify(token string, allowed ...string) (subject string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// NewSecret returns 32 random bytes suitable for one launch.
func NewSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("auth: generating secret: %w", err)
	}
	return secret, nil
}

// EncodeSecret renders a secret for the environment.
func EncodeSecret(secret []byte) string {
	return hex.EncodeToString(secret)
}

// SecretFromEnv reads the shared secret handed over by the launcher.
func SecretFromEnv() ([]byte, error) {
	raw := os.Getenv(SecretEnv)
	if raw == "" {
		return nil, ErrNoSecret
	}
	secret, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("auth: decoding %s: %w", SecretEnv, err)
	}
	if len(secret) < 16 {
		return nil, fmt.Errorf("auth: %s is too short", SecretEnv)
	}
	return secret, nil
}

// Verify accepts only HS256 tokens issued by Issuer with an expiry and a
// subject.
func (v *JWTVerifier) Verify(token string, allowed ...string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case claims.Subject == "":
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	case len(allowed) > 0 && !slices.Contains(allowed, claims.Subject):
		return claims.Subject, fmt.Errorf("%w: %q", ErrSubjectNotAllowed, claims.Subject)
	}
	return claims.Subject, nil
}

// Generate mints a token for subject that expires after ttl.
func (v *JWTVerifier) Generate(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
