package entities

import (
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Title     string     `json:"title" gorm:"type:varchar(500);not null"`
	LectureId *uuid.UUID `json:"lecture_id" gorm:"type:uuid;index:idx_notifications_lecture_id"`
	VideoId   *uuid.UUID `json:"video_id" gorm:"type:uuid"`
	AdminOnly bool       `json:"admin_only" gorm:"not null;default:false"`
	UserOnly  bool       `json:"user_only" gorm:"not null;default:false"`
	CreatedAt time.Time  `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Notification) TableName() string {
	return "notifications"
}
