package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdmitImmediatelyUnderLimit(t *testing.T) {
	l := New(Config{Window: time.Second, MaxRequests: 3, MaxWait: time.Second})

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.AdmitOrWait(context.Background(), "cdn.example.com"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestOverLimitBlocksForWindowRemainder(t *testing.T) {
	window := 300 * time.Millisecond
	l := New(Config{Window: window, MaxRequests: 2, MaxWait: time.Second})

	start := time.Now()
	require.NoError(t, l.AdmitOrWait(context.Background(), "cdn.example.com"))
	require.NoError(t, l.AdmitOrWait(context.Background(), "cdn.example.com"))
	require.NoError(t, l.AdmitOrWait(context.Background(), "cdn.example.com"))
	elapsed := time.Since(start)

	// The third call must wait out roughly the rest of the window.
	require.GreaterOrEqual(t, elapsed, window-20*time.Millisecond)
}

func TestHostsAreIndependent(t *testing.T) {
	l := New(Config{Window: time.Second, MaxRequests: 1, MaxWait: time.Second})

	start := time.Now()
	require.NoError(t, l.AdmitOrWait(context.Background(), "a.example.com"))
	require.NoError(t, l.AdmitOrWait(context.Background(), "b.example.com"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestExpiredEntriesArePurged(t *testing.T) {
	l := New(Config{Window: time.Second, MaxRequests: 2, MaxWait: time.Second})

	base := time.Now()
	current := base
	l.now = func() time.Time { return current }

	_, ok := l.tryAdmit("host")
	require.True(t, ok)
	_, ok = l.tryAdmit("host")
	require.True(t, ok)
	wait, ok := l.tryAdmit("host")
	require.False(t, ok)
	require.Greater(t, wait, time.Duration(0))

	// Move past the window; both entries expire.
	current = base.Add(1100 * time.Millisecond)
	_, ok = l.tryAdmit("host")
	require.True(t, ok)
	require.Len(t, l.windows["host"], 1)
}

func TestWaitClampedToMaxWait(t *testing.T) {
	l := New(Config{Window: time.Hour, MaxRequests: 1, MaxWait: 10 * time.Millisecond})

	slept := make([]time.Duration, 0, 4)
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		if len(slept) >= 2 {
			return context.Canceled
		}
		return nil
	}

	require.NoError(t, l.AdmitOrWait(context.Background(), "host"))
	err := l.AdmitOrWait(context.Background(), "host")
	require.ErrorIs(t, err, context.Canceled)
	for _, d := range slept {
		require.LessOrEqual(t, d, 10*time.Millisecond)
	}
}

func TestCancelledContextStopsWaiting(t *testing.T) {
	l := New(Config{Window: time.Hour, MaxRequests: 1, MaxWait: time.Hour})

	require.NoError(t, l.AdmitOrWait(context.Background(), "host"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.AdmitOrWait(ctx, "host")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
