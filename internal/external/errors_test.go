package external

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/httputil"
)

func TestMapHTTPError(t *testing.T) {
	status := func(code int) error {
		return fmt.Errorf("get: %w", &httputil.StatusError{URL: "http://x", StatusCode: code, RetryAfter: 2 * time.Second})
	}

	tests := []struct {
		name      string
		err       error
		check     func(t *testing.T, err error)
		retryable bool
	}{
		{
			name: "401 is auth",
			err:  status(401),
			check: func(t *testing.T, err error) {
				var ae *contracts.AuthError
				assert.ErrorAs(t, err, &ae)
				assert.Equal(t, "naver", ae.Source)
			},
		},
		{
			name: "403 is auth",
			err:  status(403),
			check: func(t *testing.T, err error) {
				var ae *contracts.AuthError
				assert.ErrorAs(t, err, &ae)
			},
		},
		{
			name: "429 keeps retry-after",
			err:  status(429),
			check: func(t *testing.T, err error) {
				var re *contracts.RateLimitError
				assert.ErrorAs(t, err, &re)
				assert.Equal(t, 2*time.Second, re.RetryAfter)
			},
			retryable: true,
		},
		{
			name: "5xx is unavailable",
			err:  status(503),
			check: func(t *testing.T, err error) {
				var ue *contracts.SourceUnavailableError
				assert.ErrorAs(t, err, &ue)
			},
			retryable: true,
		},
		{
			name: "404 is permanent",
			err:  status(404),
			check: func(t *testing.T, err error) {
				var se *httputil.StatusError
				assert.ErrorAs(t, err, &se)
				assert.Contains(t, err.Error(), "naver")
			},
		},
		{
			name: "network failure is unavailable",
			err:  errors.New("connection refused"),
			check: func(t *testing.T, err error) {
				var ue *contracts.SourceUnavailableError
				assert.ErrorAs(t, err, &ue)
			},
			retryable: true,
		},
		{
			name: "cancellation passes through",
			err:  context.Canceled,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, context.Canceled)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPError("naver", tt.err)
			tt.check(t, err)
			assert.Equal(t, tt.retryable, contracts.IsRetryable(err))
		})
	}

	assert.NoError(t, MapHTTPError("naver", nil))
}
