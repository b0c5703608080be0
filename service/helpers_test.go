package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"vod-validator/config"
	"vod-validator/constant"
	"vod-validator/entities"
	"vod-validator/pkg/ratelimit"
	"vod-validator/repository"
)

func testPipeline() config.Pipeline {
	return config.Pipeline{
		ProbeTimeout:          2 * time.Second,
		ProbeMaxAttempts:      1,
		HostWindow:            time.Second,
		HostWindowMax:         10000,
		VideoDeadline:         5 * time.Second,
		MaxScanSegments:       300,
		ValidationConcurrency: 6,
		DefaultSegmentLength:  6,
		TokenTTL:              2 * time.Minute,
		TokenSecret:           "test-secret",
		PlaylistCacheTTL:      25 * time.Second,
	}
}

// looseLimiter admits essentially everything; rate limiting has its own tests.
func looseLimiter() *ratelimit.HostLimiter {
	return ratelimit.New(ratelimit.Config{Window: time.Second, MaxRequests: 10000, MaxWait: time.Second})
}

// fakeRepo is an in-memory Repository for engine and proxy tests.
type fakeRepo struct {
	mu            sync.Mutex
	videos        []*entities.Video
	jobs          map[string]*entities.ValidationJob
	notifications []entities.Notification
}

func newFakeRepo(videos ...*entities.Video) *fakeRepo {
	return &fakeRepo{videos: videos, jobs: make(map[string]*entities.ValidationJob)}
}

func (f *fakeRepo) GetDB() *gorm.DB { return nil }

func (f *fakeRepo) ListVideos(context.Context) ([]*entities.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entities.Video, len(f.videos))
	copy(out, f.videos)
	return out, nil
}

func (f *fakeRepo) FindVideoById(_ context.Context, id uuid.UUID) (*entities.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.videos {
		if v.ID == id {
			copied := *v
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRepo) UpdateVideoStatus(_ context.Context, id uuid.UUID, status constant.VideoStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.videos {
		if v.ID == id {
			v.Status = status
			now := time.Now()
			v.StatusUpdatedAt = &now
		}
	}
	return nil
}

func (f *fakeRepo) UpdateVideoQualities(_ context.Context, id uuid.UUID, qualities entities.QualityList) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.videos {
		if v.ID == id {
			v.Qualities = qualities
		}
	}
	return nil
}

func (f *fakeRepo) FindLectureById(_ context.Context, id uuid.UUID) (*entities.Lecture, error) {
	return &entities.Lecture{Id: id, Title: "lecture"}, nil
}

func (f *fakeRepo) CreateJob(_ context.Context, job *entities.ValidationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *job
	f.jobs[job.JobId] = &copied
	return nil
}

func (f *fakeRepo) FindJobByJobId(_ context.Context, jobId string) (*entities.ValidationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobId]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeRepo) FindActiveJob(context.Context) (*entities.ValidationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.Status.Active() {
			copied := *job
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRepo) ListJobs(context.Context) ([]*entities.ValidationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entities.ValidationJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		copied := *job
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeRepo) UpdateJobFields(_ context.Context, jobId string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobId]
	if !ok {
		return repository.ErrNotFound
	}
	for key, value := range fields {
		switch key {
		case "status":
			job.Status = value.(constant.JobStatus)
		case "paused":
			job.Paused = value.(bool)
		case "videos":
			job.Videos = value.(entities.VideoResultList)
		case "processed_videos":
			job.ProcessedVideos = value.(int)
		case "current_video":
			job.CurrentVideo = value.(string)
		case "total_videos":
			job.TotalVideos = value.(int)
		case "error":
			job.Error = value.(string)
		case "started_at":
			if ts, ok := value.(time.Time); ok {
				job.StartedAt = &ts
			}
		case "finished_at":
			if ts, ok := value.(time.Time); ok {
				job.FinishedAt = &ts
			}
		}
	}
	return nil
}

func (f *fakeRepo) DeleteJob(_ context.Context, jobId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[jobId]; !ok {
		return repository.ErrNotFound
	}
	delete(f.jobs, jobId)
	return nil
}

func (f *fakeRepo) CreateNotification(_ context.Context, n *entities.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *n
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	f.notifications = append(f.notifications, copied)
	return nil
}

func (f *fakeRepo) HasRecentNotification(_ context.Context, title string, _ *uuid.UUID, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notifications {
		if n.Title == title && n.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

// memoryMirror is an in-memory MirrorStore for proxy tests.
type memoryMirror struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryMirror() *memoryMirror {
	return &memoryMirror{objects: make(map[string][]byte)}
}

func (m *memoryMirror) UploadSegment(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryMirror) FindByKey(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryMirror) OpenReadStream(_ context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", io.EOF
	}
	return io.NopCloser(bytes.NewReader(data)), "video/mp2t", nil
}

// failingMirror refuses every write, for asserting that mirror trouble
// stays out of validation verdicts.
type failingMirror struct{}

func (failingMirror) UploadSegment(context.Context, string, io.Reader, int64, string) error {
	return errors.New("bucket is read-only")
}

func (failingMirror) FindByKey(context.Context, string) (bool, error) {
	return false, nil
}

func (failingMirror) OpenReadStream(context.Context, string) (io.ReadCloser, string, error) {
	return nil, "", io.EOF
}
