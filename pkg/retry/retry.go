package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wonny/aegis-etl/pkg/config"
	"github.com/wonny/aegis-etl/pkg/logger"
)

// Policy describes how an operation is retried
// ⭐ SSOT: 모든 외부 호출(수집/적재/업로드)은 이 정책으로 재시도
type Policy struct {
	Name        string
	MaxAttempts int // 총 시도 횟수 (1 = 재시도 없음)
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable classifies errors; nil retries every error
	Retryable func(error) bool

	// OnRetry is called before each wait with the attempt that just failed
	OnRetry func(attempt int, delay time.Duration, err error)

	// Jitter returns a value in [0, 1); nil uses math/rand
	Jitter func() float64

	timer backoff.Timer
}

// FromSettings builds a policy from the settings file
func FromSettings(name string, s config.RetrySettings, retryable func(error) bool) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: s.MaxAttempts,
		BaseDelay:   s.BaseDelay,
		MaxDelay:    s.MaxDelay,
		Retryable:   retryable,
	}
}

// WithLogging returns a copy that logs each retry with the policy name
func (p Policy) WithLogging(log *logger.Logger) Policy {
	prev := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.WithError(err).WithFields(map[string]interface{}{
			"op":      p.Name,
			"attempt": attempt,
			"of":      p.MaxAttempts,
			"delay":   delay.String(),
		}).Warn("Retrying")
		if prev != nil {
			prev(attempt, delay, err)
		}
	}
	return p
}

// ExhaustedError is returned when every attempt failed with a retryable error
type ExhaustedError struct {
	Name     string
	Attempts int
	Err      error // 마지막 에러
}

func (e *ExhaustedError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Delay returns the wait after the given failed attempt (1-based):
// min(MaxDelay, base*2^(attempt-1) + U[0, base*2^(attempt-1)))
func (p Policy) Delay(attempt int, u float64) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}

	step := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if p.MaxDelay > 0 && step >= p.MaxDelay {
			break
		}
		step *= 2
	}

	d := step + time.Duration(u*float64(step))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// policyBackOff implements backoff.BackOff with the Policy formula
type policyBackOff struct {
	p       Policy
	jitter  func() float64
	attempt int
}

func (b *policyBackOff) Reset() { b.attempt = 0 }

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= b.p.MaxAttempts {
		return backoff.Stop
	}
	return b.p.Delay(b.attempt, b.jitter())
}

// Do runs op until it succeeds, fails with a non-retryable error, exhausts
// MaxAttempts or ctx is done.
//
//   - success: nil
//   - non-retryable error: returned as is
//   - exhausted: *ExhaustedError wrapping the last error
//   - cancelled: ctx.Err()
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	jitter := p.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}

	attempts := 0
	var lastErr error
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempts, next, err)
		}
	}

	b := backoff.WithContext(&policyBackOff{p: p, jitter: jitter}, ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, p.timer)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, lastErr) {
		return ctxErr
	}
	if attempts >= p.MaxAttempts && errors.Is(err, lastErr) && isRetryable(p, lastErr) {
		return &ExhaustedError{Name: p.Name, Attempts: attempts, Err: lastErr}
	}
	return err
}

// DoValue is Do for operations producing a value
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func isRetryable(p Policy, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return p.Retryable == nil || p.Retryable(err)
}
