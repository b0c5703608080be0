package service

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"vod-validator/config"
	"vod-validator/entities"
	"vod-validator/pkg/ratelimit"
	"vod-validator/pkg/segmenturl"
)

type ValidateOptions struct {
	Mirror        bool
	AllowFullScan bool
}

type SegmentOutcome struct {
	Index       int    `json:"index"` // 0 marks the synthetic fast-path "last" segment
	OK          bool   `json:"ok"`
	StatusCode  int    `json:"statusCode,omitempty"`
	Error       string `json:"error,omitempty"`
	MirrorError string `json:"mirrorError,omitempty"`
}

type QualityReport struct {
	Quality  string
	FastPath bool
	Segments []SegmentOutcome
	Summary  entities.QualitySummary
}

type ValidationResults struct {
	Qualities map[string]*QualityReport
	Meta      entities.QualitySummary
}

// OK reports whether every checked segment of every quality was reachable.
func (r *ValidationResults) OK() bool {
	return r.Meta.FailedCount == 0 && r.Meta.TotalChecked > 0
}

// Summaries flattens the per-quality reports into the persisted shape.
func (r *ValidationResults) Summaries() map[string]entities.QualitySummary {
	out := make(map[string]entities.QualitySummary, len(r.Qualities))
	for label, rep := range r.Qualities {
		out[label] = rep.Summary
	}
	return out
}

// Validator checks segment availability for every declared quality of a
// video, optionally mirroring reachable segments into the blob store.
type Validator struct {
	probe  *ProbeEngine
	mirror MirrorStore
	cfg    config.Pipeline
}

func NewValidator(cfg config.Pipeline, limiter *ratelimit.HostLimiter, mirror MirrorStore) *Validator {
	return &Validator{
		probe:  NewProbeEngine(cfg, limiter),
		mirror: mirror,
		cfg:    cfg,
	}
}

// Probe exposes the underlying engine for callers that only need a single
// URL check.
func (v *Validator) Probe(ctx context.Context, url string) ProbeResult {
	return v.probe.Probe(ctx, url)
}

// HTTPClient returns the shared upstream client (insecure toggle applied).
func (v *Validator) HTTPClient() *http.Client {
	return v.probe.Client()
}

// Validate runs the fast-path/full-scan algorithm for each quality. A
// terminal failure (404/410 on the last-segment check) aborts the whole
// video immediately; other fast-path failures abort only when full
// scanning is not allowed. Mirror errors are recorded, never fatal.
func (v *Validator) Validate(ctx context.Context, video *entities.Video, opts ValidateOptions) (*ValidationResults, error) {
	results := &ValidationResults{Qualities: make(map[string]*QualityReport)}

	for _, quality := range video.Qualities {
		if quality.LastSegmentUrl == "" {
			zerolog.Ctx(ctx).Warn().Str("video", video.ID.String()).Str("quality", quality.Quality).Msg("quality has no last segment url, skipping")
			continue
		}

		report, err := v.validateQuality(ctx, video, quality, opts)
		if err != nil {
			return nil, err
		}
		results.Qualities[quality.Quality] = report
		results.Meta.TotalChecked += report.Summary.TotalChecked
		results.Meta.OkCount += report.Summary.OkCount
		results.Meta.FailedCount += report.Summary.FailedCount
		results.Meta.FailedSegments = append(results.Meta.FailedSegments, report.Summary.FailedSegments...)
		results.Meta.MirrorErrors = append(results.Meta.MirrorErrors, report.Summary.MirrorErrors...)
	}

	if len(results.Qualities) == 0 {
		return nil, fmt.Errorf("video %s has no checkable qualities", video.ID)
	}
	return results, nil
}

func (v *Validator) validateQuality(ctx context.Context, video *entities.Video, quality entities.Quality, opts ValidateOptions) (*QualityReport, error) {
	report := &QualityReport{Quality: quality.Quality}

	// Fast path: if the highest-indexed segment answers, earlier segments
	// almost certainly do too.
	res := v.probe.Probe(ctx, quality.LastSegmentUrl)
	if res.OK {
		outcome := SegmentOutcome{Index: 0, OK: true, StatusCode: res.StatusCode}
		if opts.Mirror {
			outcome.MirrorError = v.mirrorSegment(ctx, video.ID.String(), quality.Quality, 0, quality.LastSegmentUrl)
		}
		report.FastPath = true
		report.Segments = []SegmentOutcome{outcome}
		report.Summary = summarize(report.Segments)
		return report, nil
	}

	pf := res.Failure()
	if pf.Class == FailureTerminal {
		return nil, pf
	}
	if !opts.AllowFullScan {
		return nil, pf
	}

	count := ResolveSegmentCount(video, quality, v.cfg.DefaultSegmentLength)
	if count > v.cfg.MaxScanSegments {
		zerolog.Ctx(ctx).Warn().Str("video", video.ID.String()).Str("quality", quality.Quality).
			Int("count", count).Int("ceiling", v.cfg.MaxScanSegments).Msg("segment count clamped for full scan")
		count = v.cfg.MaxScanSegments
	}

	outcomes := make([]SegmentOutcome, count)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.ValidationConcurrency)
	for i := 1; i <= count; i++ {
		index := i
		g.Go(func() error {
			url, err := segmenturl.Resolve(quality.LastSegmentUrl, index)
			if err != nil {
				mu.Lock()
				outcomes[index-1] = SegmentOutcome{Index: index, Error: err.Error()}
				mu.Unlock()
				return nil
			}

			segRes := v.probe.Probe(gctx, url)
			outcome := SegmentOutcome{Index: index, OK: segRes.OK, StatusCode: segRes.StatusCode}
			if !segRes.OK {
				outcome.Error = segRes.Failure().Error()
			} else if opts.Mirror {
				outcome.MirrorError = v.mirrorSegment(gctx, video.ID.String(), quality.Quality, index, url)
			}

			mu.Lock()
			outcomes[index-1] = outcome
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Segments = outcomes
	report.Summary = summarize(outcomes)
	return report, nil
}

// ResolveSegmentCount resolves how many segments a quality has: the
// explicit hint when it is meaningful, else the index embedded in the
// template URL, else a duration-derived estimate, else 1. The validator
// and the playlist synthesizer must agree on this ordering.
func ResolveSegmentCount(video *entities.Video, quality entities.Quality, defaultSegmentLength float64) int {
	if quality.SegmentCount > 1 {
		return quality.SegmentCount
	}
	if est := segmenturl.EstimateCount(quality.LastSegmentUrl); est > 1 {
		return est
	}
	if video.Duration > 0 && defaultSegmentLength > 0 {
		return int(math.Ceil(video.Duration / defaultSegmentLength))
	}
	return 1
}

// mirrorSegment streams one reachable segment into the blob store. Returns
// a description of what went wrong, or "" on success; mirroring is
// best-effort by contract.
func (v *Validator) mirrorSegment(ctx context.Context, videoId, quality string, index int, url string) string {
	host := segmenturl.Host(url)
	if err := v.probe.limiter.AdmitOrWait(ctx, host); err != nil {
		return fmt.Sprintf("admission: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Sprintf("build request: %v", err)
	}
	resp, err := v.probe.Client().Do(req)
	if err != nil {
		return fmt.Sprintf("fetch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("fetch: status %d", resp.StatusCode)
	}

	key := MirrorKey(videoId, quality, index)
	if err := v.mirror.UploadSegment(ctx, key, resp.Body, resp.ContentLength, resp.Header.Get("Content-Type")); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("segment mirror failed")
		return fmt.Sprintf("upload: %v", err)
	}
	return ""
}

func summarize(outcomes []SegmentOutcome) entities.QualitySummary {
	s := entities.QualitySummary{TotalChecked: len(outcomes)}
	for _, o := range outcomes {
		if o.OK {
			s.OkCount++
		} else {
			s.FailedCount++
			s.FailedSegments = append(s.FailedSegments, o.Index)
		}
		if o.MirrorError != "" {
			s.MirrorErrors = append(s.MirrorErrors, fmt.Sprintf("segment %d: %s", o.Index, o.MirrorError))
		}
	}
	sort.Ints(s.FailedSegments)
	return s
}
