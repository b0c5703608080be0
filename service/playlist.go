package service

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"vod-validator/config"
	"vod-validator/entities"
	"vod-validator/pkg/token"
)

const playlistSafetyMargin = 30 * time.Second

// PlaylistService synthesizes VOD manifests for a video+quality pair.
// There is no upstream manifest to rewrite: segment count and timing are
// derived from the stored metadata, and every segment line carries a
// freshly signed access token.
type PlaylistService struct {
	signer *token.Signer
	app    config.App
	cfg    config.Pipeline

	mu    sync.Mutex
	cache map[string]cachedManifest
}

type cachedManifest struct {
	body    string
	expires time.Time
}

func NewPlaylistService(signer *token.Signer, app config.App, cfg config.Pipeline) *PlaylistService {
	return &PlaylistService{
		signer: signer,
		app:    app,
		cfg:    cfg,
		cache:  make(map[string]cachedManifest),
	}
}

// BuildPlaylist returns the manifest text for one quality of a video.
// Manifests are cached briefly per (video, quality) to absorb HLS players
// re-polling the same playlist.
func (p *PlaylistService) BuildPlaylist(video *entities.Video, qualityLabel string) (string, error) {
	quality, ok := video.Qualities.Find(qualityLabel)
	if !ok {
		return "", fmt.Errorf("video %s has no quality %q", video.ID, qualityLabel)
	}

	key := video.ID.String() + "/" + qualityLabel
	p.mu.Lock()
	if entry, hit := p.cache[key]; hit && time.Now().Before(entry.expires) {
		p.mu.Unlock()
		return entry.body, nil
	}
	p.mu.Unlock()

	body, err := p.synthesize(video, quality)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cache[key] = cachedManifest{body: body, expires: time.Now().Add(p.cfg.PlaylistCacheTTL)}
	p.mu.Unlock()
	return body, nil
}

func (p *PlaylistService) synthesize(video *entities.Video, quality entities.Quality) (string, error) {
	count := ResolveSegmentCount(video, quality, p.cfg.DefaultSegmentLength)
	if p.cfg.MaxScanSegments > 0 && count > p.cfg.MaxScanSegments {
		count = p.cfg.MaxScanSegments
	}
	durations := segmentDurations(video.Duration, count)

	longest := 0.0
	for _, d := range durations {
		if d > longest {
			longest = d
		}
	}

	// Tokens for the tail of the playlist must outlive a full playback
	// started at t=0.
	ttl := time.Duration(video.Duration*float64(time.Second)) + playlistSafetyMargin
	if ttl < p.cfg.TokenTTL {
		ttl = p.cfg.TokenTTL
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(longest))))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:1\n")

	for i := 1; i <= count; i++ {
		signed, _, err := p.signer.Sign(video.ID.String(), quality.Quality, i, ttl)
		if err != nil {
			return "", fmt.Errorf("sign segment %d: %w", i, err)
		}
		b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", durations[i-1]))
		b.WriteString(fmt.Sprintf("%s://%s/videos/%s/segments/%s/%d?token=%s\n",
			p.app.Protocol, p.app.Host, video.ID, quality.Quality, i, signed))
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String(), nil
}

// segmentDurations splits total evenly at 3-decimal precision and nudges
// the final segment so the sum equals total exactly, absorbing rounding
// drift in one place instead of spreading it. The absorber never goes
// below zero: for sub-second totals split across many segments the
// accumulated rounding can exceed what the last segment holds.
func segmentDurations(total float64, count int) []float64 {
	if count < 1 {
		count = 1
	}
	per := roundMillis(total / float64(count))
	durations := make([]float64, count)
	for i := range durations {
		durations[i] = per
	}
	last := roundMillis(total - per*float64(count-1))
	if last < 0 {
		last = 0
	}
	durations[count-1] = last
	return durations
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}
