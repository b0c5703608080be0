package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"vod-validator/config"
	"vod-validator/pkg/ratelimit"
	"vod-validator/pkg/segmenturl"
)

var probeResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vodvalidator",
		Name:      "probe_results_total",
		Help:      "Probe outcomes by method and result",
	},
	[]string{"method", "result"},
)

const (
	probeBackoffBase   = 250 * time.Millisecond
	probeBackoffJitter = 200 * time.Millisecond
	probeBackoffCap    = 10 * time.Second
	probeRangeHeader   = "bytes=0-1023"
)

type ProbeResult struct {
	OK         bool
	StatusCode int
	Method     string
	Err        error
}

// Failure converts a failed result into its classified error. Returns nil
// for successful results.
func (r ProbeResult) Failure() *ProbeFailure {
	if r.OK {
		return nil
	}
	if pf, ok := r.Err.(*ProbeFailure); ok {
		return pf
	}
	return &ProbeFailure{Class: FailureTransient, StatusCode: r.StatusCode, Err: r.Err}
}

// ProbeEngine performs lightweight availability checks: HEAD first, ranged
// GET when HEAD is refused, with classified bounded retries. Every attempt
// passes through the host admission controller.
type ProbeEngine struct {
	client  *http.Client
	limiter *ratelimit.HostLimiter
	cfg     config.Pipeline
}

func NewProbeEngine(cfg config.Pipeline, limiter *ratelimit.HostLimiter) *ProbeEngine {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureUpstream {
		// Operational escape hatch for broken upstream certs; opt-in only.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}
	return &ProbeEngine{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ProbeTimeout,
		},
		limiter: limiter,
		cfg:     cfg,
	}
}

// Client exposes the shared upstream transport for the proxy and webhook
// paths, so the insecure toggle applies everywhere.
func (p *ProbeEngine) Client() *http.Client {
	return p.client
}

// Probe checks url with up to cfg.ProbeMaxAttempts attempts. It never
// panics and never returns a bare error: the result record carries the
// classified failure when all attempts are spent or a terminal status is
// seen. Terminal statuses (404/410) stop the retry loop immediately.
func (p *ProbeEngine) Probe(ctx context.Context, url string) ProbeResult {
	host := segmenturl.Host(url)

	var last ProbeResult
	for attempt := 0; attempt < p.cfg.ProbeMaxAttempts; attempt++ {
		if attempt > 0 {
			wait := backoffDelay(attempt)
			if pf := last.Failure(); pf != nil && pf.Class == FailureRateLimited {
				wait *= 2
				if wait > probeBackoffCap {
					wait = probeBackoffCap
				}
			}
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				last.Err = &ProbeFailure{Class: FailureTransient, URL: url, Err: ctx.Err()}
				return last
			}
		}

		if err := p.limiter.AdmitOrWait(ctx, host); err != nil {
			last = ProbeResult{Err: &ProbeFailure{Class: FailureTransient, URL: url, Err: err}}
			return last
		}

		last = p.attempt(ctx, url)
		if last.OK {
			probeResults.WithLabelValues(last.Method, "ok").Inc()
			return last
		}
		probeResults.WithLabelValues(last.Method, "fail").Inc()

		if pf := last.Failure(); pf != nil && pf.Class == FailureTerminal {
			zerolog.Ctx(ctx).Debug().Str("url", url).Int("status", pf.StatusCode).Msg("terminal probe status, not retrying")
			return last
		}
	}
	return last
}

// attempt issues one HEAD and, if that does not succeed, one ranged GET.
// The GET body is discarded immediately after headers arrive.
func (p *ProbeEngine) attempt(ctx context.Context, url string) ProbeResult {
	status, err := p.request(ctx, http.MethodHead, url)
	if err == nil && status < 400 {
		return ProbeResult{OK: true, StatusCode: status, Method: http.MethodHead}
	}

	rangeStatus, rangeErr := p.request(ctx, http.MethodGet, url)
	if rangeErr == nil && rangeStatus < 400 {
		return ProbeResult{OK: true, StatusCode: rangeStatus, Method: http.MethodGet}
	}

	// Prefer the GET outcome for classification; a HEAD 405 with a GET 404
	// is a terminal miss, not a method problem.
	if rangeErr != nil {
		return ProbeResult{
			StatusCode: rangeStatus,
			Method:     http.MethodGet,
			Err:        &ProbeFailure{Class: FailureTransient, URL: url, Err: rangeErr},
		}
	}
	return ProbeResult{
		StatusCode: rangeStatus,
		Method:     http.MethodGet,
		Err:        &ProbeFailure{Class: classifyStatus(rangeStatus), StatusCode: rangeStatus, URL: url},
	}
}

func (p *ProbeEngine) request(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", probeRangeHeader)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	// Headers are enough; drop the body without draining it.
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func backoffDelay(attempt int) time.Duration {
	d := probeBackoffBase << uint(attempt)
	if d > probeBackoffCap {
		d = probeBackoffCap
	}
	return d + time.Duration(rand.Int63n(int64(probeBackoffJitter)))
}
