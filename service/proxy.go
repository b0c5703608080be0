package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"vod-validator/config"
	"vod-validator/pkg/ratelimit"
	"vod-validator/pkg/segmenturl"
	"vod-validator/pkg/token"
	"vod-validator/repository"
)

var proxySources = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vodvalidator",
		Name:      "proxy_segment_sources_total",
		Help:      "Segment deliveries by source (mirror or upstream)",
	},
	[]string{"source"},
)

var ErrUpstreamUnavailable = errors.New("upstream segment fetch failed")

const (
	proxyUpstreamAttempts = 3
	proxyUpstreamBackoff  = time.Second
)

// ProxyService authenticates segment requests and streams bytes, mirror
// first, upstream as fallback.
type ProxyService struct {
	repo    repository.Repository
	signer  *token.Signer
	mirror  MirrorStore
	limiter *ratelimit.HostLimiter
	client  *http.Client
	cfg     config.Pipeline
}

func NewProxyService(repo repository.Repository, signer *token.Signer, mirror MirrorStore, limiter *ratelimit.HostLimiter, client *http.Client, cfg config.Pipeline) *ProxyService {
	return &ProxyService{
		repo:    repo,
		signer:  signer,
		mirror:  mirror,
		limiter: limiter,
		client:  client,
		cfg:     cfg,
	}
}

// Sign issues a token for one segment with the default TTL.
func (p *ProxyService) Sign(videoId uuid.UUID, quality string, segmentNumber int) (string, time.Duration, error) {
	return p.signer.Sign(videoId.String(), quality, segmentNumber, 0)
}

// ServeSegment verifies the token against the requested path parameters
// and returns a byte stream plus content type. Callers own closing the
// stream. Token failures surface as token.ErrInvalid/ErrMismatch; an
// unreachable upstream surfaces as ErrUpstreamUnavailable.
func (p *ProxyService) ServeSegment(ctx context.Context, videoId uuid.UUID, quality string, segmentNumber int, rawToken string) (io.ReadCloser, string, error) {
	if _, err := p.signer.Verify(rawToken, videoId.String(), quality, segmentNumber); err != nil {
		return nil, "", err
	}

	video, err := p.repo.FindVideoById(ctx, videoId)
	if err != nil {
		return nil, "", err
	}
	q, ok := video.Qualities.Find(quality)
	if !ok {
		return nil, "", fmt.Errorf("%w: no quality %q", repository.ErrNotFound, quality)
	}

	url, err := segmenturl.Resolve(q.LastSegmentUrl, segmentNumber)
	if err != nil {
		return nil, "", err
	}

	// Mirror first; the validator may already have a durable copy.
	key := MirrorKey(videoId.String(), quality, segmentNumber)
	if found, err := p.mirror.FindByKey(ctx, key); err == nil && found {
		stream, contentType, err := p.mirror.OpenReadStream(ctx, key)
		if err == nil {
			proxySources.WithLabelValues("mirror").Inc()
			return stream, contentType, nil
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("mirror read failed, falling back to upstream")
	}

	stream, contentType, err := p.fetchUpstream(ctx, url)
	if err != nil {
		return nil, "", err
	}
	proxySources.WithLabelValues("upstream").Inc()
	return stream, contentType, nil
}

func (p *ProxyService) fetchUpstream(ctx context.Context, url string) (io.ReadCloser, string, error) {
	host := segmenturl.Host(url)

	var lastErr error
	for attempt := 0; attempt < proxyUpstreamAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(proxyUpstreamBackoff):
			case <-ctx.Done():
				return nil, "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
			}
		}

		if err := p.limiter.AdmitOrWait(ctx, host); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 400 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return resp.Body, resp.Header.Get("Content-Type"), nil
	}
	return nil, "", fmt.Errorf("%w after %d attempts: %v", ErrUpstreamUnavailable, proxyUpstreamAttempts, lastErr)
}
