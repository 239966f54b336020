package contracts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error taxonomy
// ⭐ SSOT: 재시도 여부 판단은 IsRetryable 하나로

// ConfigError is an invalid or missing parameter; surfaced before any side effect
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// AuthError is an upstream credential failure (never retried)
type AuthError struct {
	Source string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed for %s: %v", e.Source, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SourceUnavailableError is a transient upstream outage (5xx, network)
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// RateLimitError is an upstream throttle response (429)
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration // 0 = 알 수 없음
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited (retry after %s)", e.Source, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Source)
}

// SchemaError is a column set mismatch between data and its destination
type SchemaError struct {
	Table   string   // 비어있으면 입력 배치
	Columns []string // 누락/불일치 컬럼
	Reason  string
}

func (e *SchemaError) Error() string {
	where := "input batch"
	if e.Table != "" {
		where = e.Table
	}
	return fmt.Sprintf("schema mismatch in %s: %s [%s]", where, e.Reason, strings.Join(e.Columns, ", "))
}

// LoadError is a warehouse write failure after retries
type LoadError struct {
	Target string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load into %s failed: %v", e.Target, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// EmptyUniverseError means there is nothing to build for the reference date
type EmptyUniverseError struct {
	ReferenceDate time.Time
}

func (e *EmptyUniverseError) Error() string {
	if e.ReferenceDate.IsZero() {
		return "empty universe"
	}
	return fmt.Sprintf("empty universe for %s", e.ReferenceDate.Format("2006-01-02"))
}

// IsRetryable reports whether err is transient (rate limit or source outage)
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var su *SourceUnavailableError
	return errors.As(err, &su)
}
