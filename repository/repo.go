package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"vod-validator/constant"
	"vod-validator/entities"
)

var ErrNotFound = errors.New("record not found")

type Repository interface {
	GetDB() *gorm.DB

	ListVideos(ctx context.Context) ([]*entities.Video, error)
	FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error)
	UpdateVideoStatus(ctx context.Context, id uuid.UUID, status constant.VideoStatus) error
	UpdateVideoQualities(ctx context.Context, id uuid.UUID, qualities entities.QualityList) error
	FindLectureById(ctx context.Context, id uuid.UUID) (*entities.Lecture, error)

	CreateJob(ctx context.Context, job *entities.ValidationJob) error
	FindJobByJobId(ctx context.Context, jobId string) (*entities.ValidationJob, error)
	FindActiveJob(ctx context.Context) (*entities.ValidationJob, error)
	ListJobs(ctx context.Context) ([]*entities.ValidationJob, error)
	UpdateJobFields(ctx context.Context, jobId string, fields map[string]interface{}) error
	DeleteJob(ctx context.Context, jobId string) error

	CreateNotification(ctx context.Context, n *entities.Notification) error
	HasRecentNotification(ctx context.Context, title string, lectureId *uuid.UUID, since time.Time) (bool, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) Repository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	return &repo{
		db: gormDB,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) ListVideos(ctx context.Context) ([]*entities.Video, error) {
	var videos []*entities.Video
	err := r.GetDB().WithContext(ctx).Order("created_at ASC").Find(&videos).Error
	if err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *repo) FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	video := &entities.Video{}
	err := r.GetDB().WithContext(ctx).First(video, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return video, nil
}

func (r *repo) UpdateVideoStatus(ctx context.Context, id uuid.UUID, status constant.VideoStatus) error {
	updates := map[string]interface{}{
		"status":            status,
		"status_updated_at": time.Now(),
	}
	return r.GetDB().WithContext(ctx).Model(&entities.Video{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repo) UpdateVideoQualities(ctx context.Context, id uuid.UUID, qualities entities.QualityList) error {
	return r.GetDB().WithContext(ctx).Model(&entities.Video{}).Where("id = ?", id).Update("qualities", qualities).Error
}

func (r *repo) FindLectureById(ctx context.Context, id uuid.UUID) (*entities.Lecture, error) {
	lecture := &entities.Lecture{}
	err := r.GetDB().WithContext(ctx).First(lecture, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return lecture, nil
}

func (r *repo) CreateJob(ctx context.Context, job *entities.ValidationJob) error {
	return r.GetDB().WithContext(ctx).Create(job).Error
}

func (r *repo) FindJobByJobId(ctx context.Context, jobId string) (*entities.ValidationJob, error) {
	job := &entities.ValidationJob{}
	err := r.GetDB().WithContext(ctx).First(job, "job_id = ?", jobId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// FindActiveJob returns the most recent job still marked QUEUED or RUNNING.
// Used once at startup for crash recovery; the engine itself enforces the
// single-running-job rule in memory.
func (r *repo) FindActiveJob(ctx context.Context) (*entities.ValidationJob, error) {
	job := &entities.ValidationJob{}
	err := r.GetDB().WithContext(ctx).
		Where("status IN ?", []constant.JobStatus{constant.JobStatusQueued, constant.JobStatusRunning}).
		Order("created_at DESC").
		First(job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *repo) ListJobs(ctx context.Context) ([]*entities.ValidationJob, error) {
	var jobs []*entities.ValidationJob
	err := r.GetDB().WithContext(ctx).Order("created_at DESC").Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) UpdateJobFields(ctx context.Context, jobId string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return r.GetDB().WithContext(ctx).Model(&entities.ValidationJob{}).Where("job_id = ?", jobId).Updates(fields).Error
}

func (r *repo) DeleteJob(ctx context.Context, jobId string) error {
	res := r.GetDB().WithContext(ctx).Where("job_id = ?", jobId).Delete(&entities.ValidationJob{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) CreateNotification(ctx context.Context, n *entities.Notification) error {
	return r.GetDB().WithContext(ctx).Create(n).Error
}

func (r *repo) HasRecentNotification(ctx context.Context, title string, lectureId *uuid.UUID, since time.Time) (bool, error) {
	var count int64
	q := r.GetDB().WithContext(ctx).Model(&entities.Notification{}).
		Where("title = ? AND created_at > ?", title, since)
	if lectureId != nil {
		q = q.Where("lecture_id = ?", *lectureId)
	} else {
		q = q.Where("lecture_id IS NULL")
	}
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
