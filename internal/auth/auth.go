// Package auth verifies the caller's bearer token (a Supabase access token,
// HS256-signed with the project's JWT secret) so that telemetry is only
// attributed to the user the token belongs to.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrMissingToken means there was no "Authorization: Bearer" header.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken covers bad signatures, wrong algorithms and malformed tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token's exp is in the past.
	ErrTokenExpired = errors.New("token expired")
)

// Verifier checks HS256 tokens against one shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier returns nil when secret is empty. A nil *Verifier means
// "verification disabled" and callers check for it.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Subject returns the "sub" claim of the request's bearer token.
func (v *Verifier) Subject(r *http.Request) (string, error) {
	raw, ok := bearer(r.Header.Get("Authorization"))
	if !ok {
		return "", ErrMissingToken
	}
	return v.Parse(raw)
}

// Parse validates a raw token string and returns its subject.
func (v *Verifier) Parse(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func bearer(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
