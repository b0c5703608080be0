package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newProbe(t *testing.T, maxAttempts int) *ProbeEngine {
	t.Helper()
	cfg := testPipeline()
	cfg.ProbeMaxAttempts = maxAttempts
	return NewProbeEngine(cfg, looseLimiter())
}

func TestProbeHeadSuccess(t *testing.T) {
	var heads int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			atomic.AddInt32(&heads, 1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := newProbe(t, 3).Probe(context.Background(), srv.URL+"/segment-1.ts")
	require.True(t, res.OK)
	require.Equal(t, http.MethodHead, res.Method)
	require.Equal(t, int32(1), atomic.LoadInt32(&heads))
}

func TestProbeFallsBackToRangedGet(t *testing.T) {
	var sawRange atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Range") == "bytes=0-1023" {
			sawRange.Store(true)
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("xx"))
	}))
	defer srv.Close()

	res := newProbe(t, 3).Probe(context.Background(), srv.URL+"/segment-1.ts")
	require.True(t, res.OK)
	require.Equal(t, http.MethodGet, res.Method)
	require.True(t, sawRange.Load())
}

func TestProbeTerminalStatusStopsRetrying(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	res := newProbe(t, 3).Probe(context.Background(), srv.URL+"/segment-1.ts")
	require.False(t, res.OK)
	pf := res.Failure()
	require.NotNil(t, pf)
	require.Equal(t, FailureTerminal, pf.Class)
	require.Equal(t, http.StatusNotFound, pf.StatusCode)
	// One HEAD plus one ranged GET; no second attempt.
	require.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestProbeRetriesServerErrors(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := newProbe(t, 2).Probe(context.Background(), srv.URL+"/segment-1.ts")
	require.False(t, res.OK)
	require.Equal(t, FailureRateLimited, res.Failure().Class)
	// Two attempts, each HEAD plus ranged GET.
	require.Equal(t, int32(4), atomic.LoadInt32(&requests))
}

func TestProbeClassification(t *testing.T) {
	require.Equal(t, FailureTerminal, classifyStatus(http.StatusNotFound))
	require.Equal(t, FailureTerminal, classifyStatus(http.StatusGone))
	require.Equal(t, FailureRateLimited, classifyStatus(http.StatusTooManyRequests))
	require.Equal(t, FailureRateLimited, classifyStatus(http.StatusBadGateway))
	require.Equal(t, FailureTransient, classifyStatus(http.StatusForbidden))
}

func TestProbeSurvivesUnreachableHost(t *testing.T) {
	res := newProbe(t, 1).Probe(context.Background(), "http://127.0.0.1:1/segment-1.ts")
	require.False(t, res.OK)
	require.NotNil(t, res.Failure())
	require.Equal(t, FailureTransient, res.Failure().Class)
}
