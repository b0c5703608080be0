package dto

import "github.com/google/uuid"

type StartValidationRequest struct {
	Mirror bool `json:"mirror"`
}

type StartValidationResponse struct {
	JobId string `json:"jobId"`
}

type SignSegmentRequest struct {
	Quality       string `json:"quality" binding:"required"`
	SegmentNumber int    `json:"segmentNumber" binding:"required,min=1"`
}

type SignSegmentResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// RevalidateMessage is published by the catalog backend when a single
// video needs a fresh check outside the regular full-catalog runs.
type RevalidateMessage struct {
	JobId   string    `json:"jobId,omitempty"`
	VideoId uuid.UUID `json:"videoId"`
	Mirror  bool      `json:"mirror"`
}

// RealtimeEvent is the fire-and-forget payload fanned out to live
// listeners on video status flips and job completion.
type RealtimeEvent struct {
	Type    string         `json:"type"`
	JobId   string         `json:"jobId,omitempty"`
	VideoId string         `json:"videoId,omitempty"`
	Title   string         `json:"title,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}
