package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"vod-validator/constant"
)

// ValidationJob is the persisted record of a catalog validation run.
// JobId is the opaque identity handed to admins; ID is the storage row.
type ValidationJob struct {
	ID              uuid.UUID          `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	JobId           string             `json:"job_id" gorm:"type:varchar(64);not null;uniqueIndex:unique_job_id"`
	Status          constant.JobStatus `json:"status" gorm:"type:varchar(20);not null;default:'QUEUED';index:idx_validation_jobs_status"`
	Paused          bool               `json:"paused" gorm:"not null;default:false"`
	Mirror          bool               `json:"mirror" gorm:"not null;default:false"`
	StartedAt       *time.Time         `json:"started_at" gorm:"type:timestamptz"`
	FinishedAt      *time.Time         `json:"finished_at" gorm:"type:timestamptz"`
	TotalVideos     int                `json:"total_videos" gorm:"not null;default:0"`
	ProcessedVideos int                `json:"processed_videos" gorm:"not null;default:0"`
	CurrentVideo    string             `json:"current_video" gorm:"type:varchar(255)"`
	Videos          VideoResultList    `json:"videos" gorm:"type:jsonb"`
	Error           string             `json:"error" gorm:"type:text"`
	CreatedAt       time.Time          `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time          `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (ValidationJob) TableName() string {
	return "validation_jobs"
}

// VideoResult is one per-video outcome in a job. Ok == nil marks a
// placeholder: the video was picked up but its validation never finished.
// Resume logic must retry placeholders, not skip them.
type VideoResult struct {
	VideoId     uuid.UUID                 `json:"videoId"`
	Title       string                    `json:"title"`
	Ok          *bool                     `json:"ok"`
	Qualities   map[string]QualitySummary `json:"qualities,omitempty"`
	Error       string                    `json:"error,omitempty"`
	ProcessedAt *time.Time                `json:"processedAt,omitempty"`
}

// Placeholder reports whether the result is still the in-progress marker.
func (r VideoResult) Placeholder() bool {
	return r.Ok == nil
}

type QualitySummary struct {
	TotalChecked   int      `json:"totalChecked"`
	OkCount        int      `json:"okCount"`
	FailedCount    int      `json:"failedCount"`
	FailedSegments []int    `json:"failedSegments,omitempty"`
	MirrorErrors   []string `json:"mirrorErrors,omitempty"`
}

type VideoResultList []VideoResult

func (l VideoResultList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *VideoResultList) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into VideoResultList", value)
	}
}

// Processed counts non-placeholder results.
func (l VideoResultList) Processed() int {
	n := 0
	for _, r := range l {
		if !r.Placeholder() {
			n++
		}
	}
	return n
}
