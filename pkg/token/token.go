// Package token issues and verifies the short-lived credentials that guard
// segment delivery. A token binds exactly one (video, quality, segment)
// triple; expiry is the only revocation mechanism.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalid  = errors.New("segment token invalid")
	ErrMismatch = errors.New("segment token does not match requested segment")
)

// Leeway absorbed when checking expiry, for clock skew between the signer
// and upstream proxies.
const Leeway = 5 * time.Second

type SegmentClaims struct {
	VideoId       string `json:"vid"`
	Quality       string `json:"q"`
	SegmentNumber int    `json:"seg"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret     []byte
	defaultTTL time.Duration
}

func NewSigner(secret string, defaultTTL time.Duration) *Signer {
	return &Signer{secret: []byte(secret), defaultTTL: defaultTTL}
}

// Sign issues a token for one segment. ttl below the signer's default is
// raised to it; playlist synthesis passes the playback-time-derived TTL so
// late segments outlive a full watch-through.
func (s *Signer) Sign(videoId, quality string, segmentNumber int, ttl time.Duration) (string, time.Duration, error) {
	if ttl < s.defaultTTL {
		ttl = s.defaultTTL
	}
	now := time.Now()
	claims := SegmentClaims{
		VideoId:       videoId,
		Quality:       quality,
		SegmentNumber: segmentNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, ttl, nil
}

// Verify checks signature and expiry, then that the decoded claims match
// the requested path parameters exactly. A valid token for a different
// segment is a mismatch, not a pass.
func (s *Signer) Verify(raw, videoId, quality string, segmentNumber int) (*SegmentClaims, error) {
	claims := &SegmentClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithLeeway(Leeway), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrInvalid
	}
	if claims.VideoId != videoId || claims.Quality != quality || claims.SegmentNumber != segmentNumber {
		return nil, ErrMismatch
	}
	return claims, nil
}
