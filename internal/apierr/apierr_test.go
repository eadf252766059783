package apierr

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{InvalidBody(nil), http.StatusBadRequest},
		{InvalidMessages(), http.StatusBadRequest},
		{UnknownModel("x"), http.StatusBadRequest},
		{MethodNotAllowed(), http.StatusMethodNotAllowed},
		{Upstream(429, "slow down", nil), http.StatusTooManyRequests},
		{Upstream(200, "odd", nil), http.StatusBadGateway},
		{UpstreamTimeout(context.DeadlineExceeded), http.StatusGatewayTimeout},
		{Internal(nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("handling: %w", UnknownModel("gpt-9"))
	assert.Equal(t, KindUnknownModel, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("plain")))
}

func TestBodyOf(t *testing.T) {
	b := BodyOf(UnknownModel("gpt-9"))
	assert.False(t, b.Success)
	assert.Equal(t, "Unknown model: gpt-9", b.Error)
}
