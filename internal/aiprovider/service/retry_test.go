package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func TestRetryPolicyDelays(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
}

func TestRetryPolicyRetriesTransient(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := DefaultRetryPolicy()
	p.Sleeper = sleeper

	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return &aidomain.StatusError{StatusCode: 429, Err: errors.New("rate limited")}
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())
}

func TestRetryPolicyStopsOnPermanent(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := DefaultRetryPolicy()
	p.Sleeper = sleeper

	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		return &aidomain.StatusError{StatusCode: 401, Err: errors.New("bad key")}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, sleeper.Delays())
}

func TestRetryPolicyRecovers(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := DefaultRetryPolicy()
	p.Sleeper = sleeper

	attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt < 2 {
			return &aidomain.StatusError{StatusCode: 529, Err: errors.New("overloaded")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.Delays())
}

func TestRetryPolicyHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultRetryPolicy()
	p.Sleeper = &recordingSleeper{}

	attempts, err := p.Do(ctx, func(context.Context, int) error {
		cancel()
		return &aidomain.StatusError{StatusCode: 503, Err: errors.New("unavailable")}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestTimerSleeperCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := RealSleeper.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &aidomain.StatusError{StatusCode: 429}, true},
		{"overloaded", &aidomain.StatusError{StatusCode: 529}, true},
		{"unavailable", &aidomain.StatusError{StatusCode: 503}, true},
		{"bad gateway", &aidomain.StatusError{StatusCode: 502}, true},
		{"internal", &aidomain.StatusError{StatusCode: 500}, true},
		{"bad request", &aidomain.StatusError{StatusCode: 400}, false},
		{"unauthorized", &aidomain.StatusError{StatusCode: 401}, false},
		{"forbidden", &aidomain.StatusError{StatusCode: 403}, false},
		{"not found", &aidomain.StatusError{StatusCode: 404}, false},
		{"unprocessable", &aidomain.StatusError{StatusCode: 422}, false},
		{"timeout", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, aidomain.IsTransient(tt.err))
		})
	}
}
