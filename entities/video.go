package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"vod-validator/constant"
)

type Video struct {
	ID              uuid.UUID            `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	LectureId       uuid.UUID            `json:"lecture_id" gorm:"type:uuid;not null;index:idx_videos_lecture_id"`
	Title           string               `json:"title" gorm:"type:varchar(255);not null"`
	Duration        float64              `json:"duration" gorm:"type:double precision;not null;default:0"`
	Qualities       QualityList          `json:"qualities" gorm:"type:jsonb"`
	Status          constant.VideoStatus `json:"status" gorm:"type:varchar(20);not null;default:'UNKNOWN';index:idx_videos_status"`
	StatusUpdatedAt *time.Time           `json:"status_updated_at" gorm:"type:timestamptz"`
	CreatedAt       time.Time            `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time            `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Video) TableName() string {
	return "videos"
}

// Quality is one encoded variant of a video with its own segment series.
// SegmentCount is a hint: values of 0 or 1 mean "unknown, derive it".
type Quality struct {
	Quality        string `json:"quality"`
	LastSegmentUrl string `json:"lastSegmentUrl"`
	SegmentCount   int    `json:"segmentCount"`
}

// qualityAliases carries every historical field spelling a quality record
// may arrive with. Normalization happens once here, at the JSON boundary,
// so the rest of the pipeline only ever sees Quality.
type qualityAliases struct {
	Quality           string `json:"quality"`
	Label             string `json:"label"`
	LastSegmentUrl    string `json:"lastSegmentUrl"`
	LastSegmentUrlAlt string `json:"last_segment_url"`
	Url               string `json:"url"`
	SegmentCount      int    `json:"segmentCount"`
	SegmentCountAlt   int    `json:"segment_count"`
}

func (q *Quality) UnmarshalJSON(data []byte) error {
	var raw qualityAliases
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	q.Quality = firstNonEmpty(raw.Quality, raw.Label)
	q.LastSegmentUrl = firstNonEmpty(raw.LastSegmentUrl, raw.LastSegmentUrlAlt, raw.Url)
	q.SegmentCount = raw.SegmentCount
	if q.SegmentCount == 0 {
		q.SegmentCount = raw.SegmentCountAlt
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type QualityList []Quality

func (l QualityList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *QualityList) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into QualityList", value)
	}
}

// Find returns the quality record with the given label.
func (l QualityList) Find(label string) (Quality, bool) {
	for _, q := range l {
		if q.Quality == label {
			return q, true
		}
	}
	return Quality{}, false
}
