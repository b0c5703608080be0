package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"vod-validator/entities"
)

// segmentServer serves /segment-NN.ts paths and records which were hit.
type segmentServer struct {
	mu     sync.Mutex
	hits   map[string]int
	status func(path string) int
	srv    *httptest.Server
}

func newSegmentServer(status func(path string) int) *segmentServer {
	s := &segmentServer{hits: make(map[string]int), status: status}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		code := s.status(r.URL.Path)
		w.WriteHeader(code)
		if r.Method == http.MethodGet && code < 400 {
			_, _ = w.Write([]byte("segment-bytes"))
		}
	}))
	return s
}

func (s *segmentServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *segmentServer) pathsHit() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.hits))
	for p := range s.hits {
		out = append(out, p)
	}
	return out
}

func testVideo(lastSegmentURL string, segmentCount int) *entities.Video {
	return &entities.Video{
		ID:        uuid.New(),
		LectureId: uuid.New(),
		Title:     "Intro to Signals",
		Duration:  60,
		Qualities: entities.QualityList{
			{Quality: "720", LastSegmentUrl: lastSegmentURL, SegmentCount: segmentCount},
		},
	}
}

func TestValidateFastPathShortCircuits(t *testing.T) {
	s := newSegmentServer(func(string) int { return http.StatusOK })
	defer s.srv.Close()

	v := NewValidator(testPipeline(), looseLimiter(), nil)
	video := testVideo(s.srv.URL+"/segment-10.ts", 0)

	results, err := v.Validate(context.Background(), video, ValidateOptions{})
	require.NoError(t, err)
	require.True(t, results.OK())
	require.True(t, results.Qualities["720"].FastPath)
	require.Equal(t, 1, results.Meta.TotalChecked)

	// Only the last segment was probed; no fallback scan happened.
	for _, p := range s.pathsHit() {
		require.Equal(t, "/segment-10.ts", p)
	}
}

func TestValidateTerminalFailureAbortsWithoutScan(t *testing.T) {
	s := newSegmentServer(func(string) int { return http.StatusGone })
	defer s.srv.Close()

	v := NewValidator(testPipeline(), looseLimiter(), nil)
	video := testVideo(s.srv.URL+"/segment-10.ts", 0)

	_, err := v.Validate(context.Background(), video, ValidateOptions{AllowFullScan: true})
	require.Error(t, err)
	require.True(t, IsTerminal(err))

	// 410 is definitive absence: not a single per-segment probe follows.
	for _, p := range s.pathsHit() {
		require.Equal(t, "/segment-10.ts", p)
	}
}

func TestValidateFastPathFailurePropagatesWithoutScanPermission(t *testing.T) {
	s := newSegmentServer(func(string) int { return http.StatusServiceUnavailable })
	defer s.srv.Close()

	v := NewValidator(testPipeline(), looseLimiter(), nil)
	video := testVideo(s.srv.URL+"/segment-10.ts", 0)

	_, err := v.Validate(context.Background(), video, ValidateOptions{AllowFullScan: false})
	require.Error(t, err)
	require.False(t, IsTerminal(err))
}

func TestValidateFullScanChecksEverySegment(t *testing.T) {
	// The last segment is down but earlier ones answer; a full scan should
	// enumerate all ten and report exactly one failure.
	s := newSegmentServer(func(path string) int {
		if strings.HasSuffix(path, "segment-10.ts") {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	defer s.srv.Close()

	v := NewValidator(testPipeline(), looseLimiter(), nil)
	video := testVideo(s.srv.URL+"/segment-10.ts", 0)

	results, err := v.Validate(context.Background(), video, ValidateOptions{AllowFullScan: true})
	require.NoError(t, err)
	require.False(t, results.OK())

	report := results.Qualities["720"]
	require.False(t, report.FastPath)
	require.Equal(t, 10, report.Summary.TotalChecked)
	require.Equal(t, 9, report.Summary.OkCount)
	require.Equal(t, 1, report.Summary.FailedCount)
	require.Equal(t, []int{10}, report.Summary.FailedSegments)

	for i := 1; i <= 9; i++ {
		require.Positive(t, s.hitCount(fmt.Sprintf("/segment-%02d.ts", i)), "segment %d not probed", i)
	}
}

func TestValidateMirrorsReachableSegments(t *testing.T) {
	s := newSegmentServer(func(string) int { return http.StatusOK })
	defer s.srv.Close()

	mirror := newMemoryMirror()
	v := NewValidator(testPipeline(), looseLimiter(), mirror)
	video := testVideo(s.srv.URL+"/segment-10.ts", 0)

	results, err := v.Validate(context.Background(), video, ValidateOptions{Mirror: true})
	require.NoError(t, err)
	require.True(t, results.OK())
	require.Empty(t, results.Meta.MirrorErrors)

	found, err := mirror.FindByKey(context.Background(), MirrorKey(video.ID.String(), "720", 0))
	require.NoError(t, err)
	require.True(t, found)
}

func TestValidateMirrorFailureDoesNotFailVerdict(t *testing.T) {
	s := newSegmentServer(func(string) int { return http.StatusOK })
	defer s.srv.Close()

	v := NewValidator(testPipeline(), looseLimiter(), failingMirror{})
	video := testVideo(s.srv.URL+"/segment-10.ts", 0)

	results, err := v.Validate(context.Background(), video, ValidateOptions{Mirror: true})
	require.NoError(t, err)
	require.True(t, results.OK())

	// Reachability verdict stands; the write trouble is only recorded.
	summary := results.Summaries()["720"]
	require.Equal(t, 1, summary.OkCount)
	require.Zero(t, summary.FailedCount)
	require.NotEmpty(t, summary.MirrorErrors)
	require.Contains(t, summary.MirrorErrors[0], "bucket is read-only")
}

func TestValidateScanClampedToCeiling(t *testing.T) {
	s := newSegmentServer(func(path string) int {
		if strings.Contains(path, "segment-500") {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	defer s.srv.Close()

	cfg := testPipeline()
	cfg.MaxScanSegments = 5
	v := NewValidator(cfg, looseLimiter(), nil)
	video := testVideo(s.srv.URL+"/segment-500.ts", 0)

	results, err := v.Validate(context.Background(), video, ValidateOptions{AllowFullScan: true})
	require.NoError(t, err)
	require.Equal(t, 5, results.Qualities["720"].Summary.TotalChecked)
}

func TestResolveSegmentCount(t *testing.T) {
	video := &entities.Video{Duration: 60}

	// Explicit hint is authoritative when > 1.
	require.Equal(t, 42, ResolveSegmentCount(video, entities.Quality{SegmentCount: 42, LastSegmentUrl: "http://h/segment-10.ts"}, 6))
	// Otherwise the URL's index token.
	require.Equal(t, 10, ResolveSegmentCount(video, entities.Quality{LastSegmentUrl: "http://h/segment-10.ts"}, 6))
	// Then duration over default segment length, rounded up.
	require.Equal(t, 10, ResolveSegmentCount(video, entities.Quality{LastSegmentUrl: "http://h/last.ts"}, 6))
	require.Equal(t, 9, ResolveSegmentCount(&entities.Video{Duration: 50}, entities.Quality{LastSegmentUrl: "http://h/last.ts"}, 6))
	// Finally 1.
	require.Equal(t, 1, ResolveSegmentCount(&entities.Video{}, entities.Quality{LastSegmentUrl: "http://h/last.ts"}, 6))
}
