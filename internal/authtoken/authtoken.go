// Package authtoken gates the debug-agent's HTTP and WebSocket endpoints
// behind a single shared-secret JWT, for deployments where the
// --remote-debugging-port-style endpoint is reachable outside a trusted
// network (SPEC_FULL.md domain stack §5, Access control). There are no
// roles or claims to check beyond "signed with our secret and not
// expired" — any holder of a valid token may attach a debug session.
package authtoken

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken and ErrInvalidToken distinguish "no Authorization
// header" from "header present but the token doesn't verify", so
// callers can choose different log levels or response bodies.
var (
	ErrMissingToken = errors.New("authtoken: no bearer token presented")
	ErrInvalidToken = errors.New("authtoken: token invalid or expired")
)

// Gate validates bearer tokens signed with one shared secret.
type Gate struct {
	secret []byte
}

// NewGate builds a Gate. An empty secret disables validation entirely:
// Verify always succeeds. This lets local/dev deployments run without
// configuring a secret while production deployments set DEBUGAGENT_JWT_SECRET.
func NewGate(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// Enabled reports whether this Gate actually checks tokens.
func (g *Gate) Enabled() bool {
	return len(g.secret) > 0
}

// Issue mints a token valid for ttl, for use by an operator's own
// provisioning tooling rather than by the debug agent itself.
func (g *Gate) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// Verify checks raw against the configured secret and expiry. When the
// Gate has no secret configured, Verify always succeeds.
func (g *Gate) Verify(raw string) error {
	if !g.Enabled() {
		return nil
	}
	if raw == "" {
		return ErrMissingToken
	}

	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return g.secret, nil
	})
	if err != nil {
		return ErrInvalidToken
	}
	return nil
}

// BearerToken extracts the token from a "Bearer <token>" Authorization
// header value, returning "" if the header doesn't match that shape.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
