package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

func onlyTransient(err error) bool { return errors.Is(err, errTransient) }

// instantTimer fires immediately so tests do not sleep
type instantTimer struct {
	mu     sync.Mutex
	c      chan time.Time
	starts []time.Duration
}

func (t *instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts = append(t.starts, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

func TestDo_FailsTwiceThenSucceeds(t *testing.T) {
	p := Policy{
		Name:        "fetch",
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    25 * time.Millisecond,
		Retryable:   onlyTransient,
		Jitter:      func() float64 { return 0.5 },
	}

	var reported []time.Duration
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		reported = append(reported, delay)
	}

	var stamps []time.Time
	got, err := DoValue(context.Background(), p, func(ctx context.Context) (string, error) {
		stamps = append(stamps, time.Now())
		if len(stamps) < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	require.Len(t, stamps, 3, "exactly 3 attempts")
	require.Len(t, reported, 2)

	assert.Equal(t, 15*time.Millisecond, reported[0])
	assert.Equal(t, 25*time.Millisecond, reported[1], "clamped at max delay")
	assert.LessOrEqual(t, reported[0], reported[1])

	gap1 := stamps[1].Sub(stamps[0])
	gap2 := stamps[2].Sub(stamps[1])
	assert.GreaterOrEqual(t, gap1, reported[0])
	assert.GreaterOrEqual(t, gap2, reported[1])
	assert.LessOrEqual(t, gap1, gap2)
	assert.Less(t, gap2, p.MaxDelay+250*time.Millisecond)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	timer := &instantTimer{}
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute, Retryable: onlyTransient, timer: timer}

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errFatal
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, errFatal, err, "non-retryable error is not wrapped")
	assert.Empty(t, timer.starts)
}

func TestDo_Exhausted(t *testing.T) {
	timer := &instantTimer{}
	p := Policy{Name: "load", MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 3 * time.Second, Retryable: onlyTransient, timer: timer}

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errTransient
	})

	require.Error(t, err)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 4, ex.Attempts)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, errTransient)
	assert.Contains(t, err.Error(), "load")

	require.Len(t, timer.starts, 3)
	for i, d := range timer.starts {
		assert.LessOrEqual(t, d, p.MaxDelay)
		if i > 0 {
			assert.GreaterOrEqual(t, d, timer.starts[i-1])
		}
	}
}

func TestDo_SingleAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 1, Retryable: onlyTransient, timer: &instantTimer{}}

	err := Do(context.Background(), p, func(ctx context.Context) error { return errTransient })

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 1, ex.Attempts)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	calls := 0
	err := Do(ctx, p, func(ctx context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextAlreadyDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, Policy{MaxAttempts: 3}, func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	tests := []struct {
		attempt int
		u       float64
		want    time.Duration
	}{
		{0, 0.5, 0},
		{1, 0, 100 * time.Millisecond},
		{1, 0.99, 199 * time.Millisecond},
		{2, 0, 200 * time.Millisecond},
		{3, 0.5, 600 * time.Millisecond},
		{4, 0.5, time.Second},
		{60, 0.9, time.Second},
	}

	for _, tt := range tests {
		got := p.Delay(tt.attempt, tt.u)
		assert.Equal(t, tt.want, got, "attempt %d u %v", tt.attempt, tt.u)
	}
}

func TestPolicy_DelayMonotone(t *testing.T) {
	p := Policy{BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}

	// worst case: max jitter followed by zero jitter
	prev := time.Duration(0)
	for k := 1; k <= 10; k++ {
		lo := p.Delay(k, 0)
		assert.GreaterOrEqual(t, lo, prev)
		prev = p.Delay(k, 0.999999)
		assert.LessOrEqual(t, prev, p.MaxDelay)
	}
}
