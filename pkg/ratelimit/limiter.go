// Package ratelimit gates every outbound probe and fetch behind a per-host
// sliding window so no single upstream origin is overwhelmed, no matter how
// many videos happen to share it.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var admissionWaits = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "vodvalidator",
		Name:      "admission_waits_total",
		Help:      "Total times an outbound request had to wait for a host slot",
	},
)

// Config holds admission window settings.
type Config struct {
	Window      time.Duration // sliding window size
	MaxRequests int           // requests allowed per host per window
	MaxWait     time.Duration // clamp for a single sleep before re-checking
}

func DefaultConfig() Config {
	return Config{
		Window:      60 * time.Second,
		MaxRequests: 6,
		MaxWait:     30 * time.Second,
	}
}

// HostLimiter tracks recent request timestamps per host. State is
// process-local and resets on restart.
type HostLimiter struct {
	config Config

	mu      sync.Mutex
	windows map[string][]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(config Config) *HostLimiter {
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultConfig().MaxRequests
	}
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultConfig().MaxWait
	}
	return &HostLimiter{
		config:  config,
		windows: make(map[string][]time.Time),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// AdmitOrWait blocks until a slot within the window is free for host, then
// records the request and returns. No fairness across waiters for the same
// host: first to wake wins, the rest re-check.
func (l *HostLimiter) AdmitOrWait(ctx context.Context, host string) error {
	for {
		wait, ok := l.tryAdmit(host)
		if ok {
			return nil
		}
		admissionWaits.Inc()
		if wait > l.config.MaxWait {
			wait = l.config.MaxWait
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAdmit purges expired entries and either records now and admits, or
// returns how long until the oldest entry leaves the window.
func (l *HostLimiter) tryAdmit(host string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.config.Window)

	window := l.windows[host]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) < l.config.MaxRequests {
		l.windows[host] = append(kept, now)
		return 0, true
	}

	l.windows[host] = kept
	wait := kept[0].Add(l.config.Window).Sub(now)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
