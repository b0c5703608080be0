package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundtrip(t *testing.T) {
	s := NewSigner("test-secret", 2*time.Minute)

	signed, ttl, err := s.Sign("video-1", "720", 4, 0)
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, ttl)

	claims, err := s.Verify(signed, "video-1", "720", 4)
	require.NoError(t, err)
	require.Equal(t, "video-1", claims.VideoId)
	require.Equal(t, "720", claims.Quality)
	require.Equal(t, 4, claims.SegmentNumber)
}

func TestTTLRaisedToDefault(t *testing.T) {
	s := NewSigner("test-secret", 2*time.Minute)

	_, ttl, err := s.Sign("v", "480", 1, time.Second)
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, ttl)

	_, ttl, err = s.Sign("v", "480", 1, time.Hour)
	require.NoError(t, err)
	require.Equal(t, time.Hour, ttl)
}

func TestVerifyRejectsMismatchedClaims(t *testing.T) {
	s := NewSigner("test-secret", 2*time.Minute)
	signed, _, err := s.Sign("video-1", "720", 4, 0)
	require.NoError(t, err)

	// A valid token must not open a different segment, quality, or video.
	_, err = s.Verify(signed, "video-1", "720", 5)
	require.ErrorIs(t, err, ErrMismatch)
	_, err = s.Verify(signed, "video-1", "480", 4)
	require.ErrorIs(t, err, ErrMismatch)
	_, err = s.Verify(signed, "video-2", "720", 4)
	require.ErrorIs(t, err, ErrMismatch)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a := NewSigner("secret-a", 2*time.Minute)
	b := NewSigner("secret-b", 2*time.Minute)

	signed, _, err := a.Sign("video-1", "720", 4, 0)
	require.NoError(t, err)

	_, err = b.Verify(signed, "video-1", "720", 4)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := NewSigner("test-secret", 2*time.Minute)
	_, err := s.Verify("not-a-token", "v", "720", 1)
	require.ErrorIs(t, err, ErrInvalid)
}
