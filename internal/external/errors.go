package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/httputil"
)

// MapHTTPError converts an httputil failure into the error taxonomy
// ⭐ SSOT: 외부 HTTP 에러 분류는 여기서만
//
//	401/403        → AuthError (재시도 안 함)
//	429            → RateLimitError
//	5xx / 네트워크 → SourceUnavailableError
//	기타 4xx       → 일반 에러 (재시도 안 함)
func MapHTTPError(source string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var se *httputil.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			return &contracts.AuthError{Source: source, Err: err}
		case se.StatusCode == http.StatusTooManyRequests:
			return &contracts.RateLimitError{Source: source, RetryAfter: se.RetryAfter}
		case se.StatusCode >= 500:
			return &contracts.SourceUnavailableError{Source: source, Err: err}
		default:
			return fmt.Errorf("%s: %w", source, err)
		}
	}
	return &contracts.SourceUnavailableError{Source: source, Err: err}
}
