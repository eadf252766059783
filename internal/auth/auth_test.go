package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	assert.Nil(t, NewVerifier(""))
}

func TestSubject(t *testing.T) {
	v := NewVerifier(secret)
	now := time.Now()

	valid := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.RegisteredClaims{
		Subject:   "user-123",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	expired := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.RegisteredClaims{
		Subject:   "user-123",
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
	})
	wrongKey := sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{Subject: "user-123"})
	wrongAlg := sign(t, jwt.SigningMethodHS512, []byte(secret), jwt.RegisteredClaims{Subject: "user-123"})
	noSub := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.RegisteredClaims{})

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "valid", header: "Bearer " + valid, want: "user-123"},
		{name: "lowercase scheme", header: "bearer " + valid, want: "user-123"},
		{name: "missing", header: "", wantErr: ErrMissingToken},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", wantErr: ErrMissingToken},
		{name: "expired", header: "Bearer " + expired, wantErr: ErrTokenExpired},
		{name: "wrong key", header: "Bearer " + wrongKey, wantErr: ErrInvalidToken},
		{name: "wrong algorithm", header: "Bearer " + wrongAlg, wantErr: ErrInvalidToken},
		{name: "no subject", header: "Bearer " + noSub, wantErr: ErrInvalidToken},
		{name: "garbage", header: "Bearer not.a.jwt", wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := v.Subject(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
