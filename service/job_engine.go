package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"vod-validator/config"
	"vod-validator/constant"
	"vod-validator/entities"
	"vod-validator/repository"
)

const (
	controlPollInterval = 500 * time.Millisecond
	videoMaxAttempts    = 2
)

// JobEngine orchestrates validation runs across the whole catalog as
// pausable, resumable, stoppable background jobs with persisted progress.
// At most one job runs at a time process-wide; enforcement lives here, not
// in storage.
type JobEngine struct {
	repo      repository.Repository
	validator *Validator
	notifier  *Notifier
	registry  *Registry
	cfg       config.Pipeline

	// startMu serializes the active-job check with job creation so
	// concurrent starts (HTTP, queue, scan ticker) admit exactly one run.
	startMu sync.Mutex

	// baseCtx outlives any HTTP request that starts a run; it carries the
	// process logger and dies on shutdown.
	baseCtx context.Context
}

func NewJobEngine(baseCtx context.Context, repo repository.Repository, validator *Validator, notifier *Notifier, registry *Registry, cfg config.Pipeline) *JobEngine {
	return &JobEngine{
		repo:      repo,
		validator: validator,
		notifier:  notifier,
		registry:  registry,
		cfg:       cfg,
		baseCtx:   baseCtx,
	}
}

// Start creates a new job and launches its run asynchronously. Returns
// ErrJobAlreadyRunning when another job is still active.
func (e *JobEngine) Start(ctx context.Context, mirror bool) (string, error) {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	if e.activeJobId() != "" {
		return "", ErrJobAlreadyRunning
	}

	job := entities.ValidationJob{
		JobId:  uuid.NewString(),
		Status: constant.JobStatusQueued,
		Mirror: mirror,
		Videos: entities.VideoResultList{},
	}
	if err := e.repo.CreateJob(ctx, &job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	state := e.registry.Put(job)
	go e.run(state)
	return job.JobId, nil
}

// Recover resumes a job left in QUEUED or RUNNING by a previous process.
// Videos with a non-placeholder result are skipped; placeholders mark a
// crash mid-video and are retried.
func (e *JobEngine) Recover(ctx context.Context) {
	job, err := e.repo.FindActiveJob(ctx)
	if err == repository.ErrNotFound {
		return
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("crash recovery lookup failed")
		return
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.activeJobId() != "" {
		return
	}

	zerolog.Ctx(ctx).Info().Str("job_id", job.JobId).Str("status", job.Status.String()).Msg("resuming interrupted validation job")
	state := e.registry.Put(*job)
	go e.run(state)
}

func (e *JobEngine) activeJobId() string {
	e.registry.mu.RLock()
	defer e.registry.mu.RUnlock()
	for id, state := range e.registry.jobs {
		if status, _ := state.Control(); status.Active() {
			return id
		}
	}
	return ""
}

// run is the single writer for its job's result data.
func (e *JobEngine) run(state *JobState) {
	ctx := e.baseCtx
	jobId := state.Snapshot().JobId
	logger := zerolog.Ctx(ctx).With().Str("job_id", jobId).Logger()
	ctx = logger.WithContext(ctx)

	// Terminal jobs live on in storage only; keeping them registered would
	// grow the registry by one entry per periodic scan forever.
	defer e.registry.Delete(jobId)

	defer func() {
		if r := recover(); r != nil {
			// An orchestration bug must not take the host process down.
			logger.Error().Interface("panic", r).Msg("validation job crashed")
			msg := fmt.Sprintf("job crashed: %v", r)
			state.Update(func(job *entities.ValidationJob) {
				job.Status = constant.JobStatusFailed
				job.Error = msg
			})
			e.persist(ctx, state, map[string]interface{}{
				"status": constant.JobStatusFailed,
				"error":  msg,
			})
		}
	}()

	now := time.Now()
	state.Update(func(job *entities.ValidationJob) {
		// A stop issued while the job was still queued wins.
		if job.Status != constant.JobStatusStopped {
			job.Status = constant.JobStatusRunning
		}
		job.StartedAt = &now
	})

	videos, err := e.repo.ListVideos(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to snapshot catalog")
		state.Update(func(job *entities.ValidationJob) {
			job.Status = constant.JobStatusFailed
			job.Error = err.Error()
		})
		e.persist(ctx, state, map[string]interface{}{
			"status": constant.JobStatusFailed,
			"error":  err.Error(),
		})
		return
	}

	state.Update(func(job *entities.ValidationJob) {
		job.TotalVideos = len(videos)
	})
	status, _ := state.Control()
	e.persist(ctx, state, map[string]interface{}{
		"status":       status,
		"started_at":   now,
		"total_videos": len(videos),
	})

	snapshot := state.Snapshot()
	done := make(map[uuid.UUID]bool, len(snapshot.Videos))
	for _, r := range snapshot.Videos {
		if !r.Placeholder() {
			done[r.VideoId] = true
		}
	}

	logger.Info().Int("total", len(videos)).Int("already_done", len(done)).Bool("mirror", snapshot.Mirror).Msg("validation run started")

	for _, video := range videos {
		if done[video.ID] {
			continue
		}
		if stopped := e.awaitRunnable(ctx, state); stopped {
			e.finalize(ctx, state, constant.JobStatusStopped)
			return
		}

		e.processVideo(ctx, state, video)
	}

	e.finalize(ctx, state, constant.JobStatusFinished)
}

// awaitRunnable blocks while the job is paused, polling every 500ms, and
// reports whether the job was stopped.
func (e *JobEngine) awaitRunnable(ctx context.Context, state *JobState) (stopped bool) {
	for {
		status, paused := state.Control()
		if status == constant.JobStatusStopped {
			return true
		}
		if !paused {
			return false
		}
		select {
		case <-time.After(controlPollInterval):
		case <-ctx.Done():
			return true
		}
	}
}

func (e *JobEngine) processVideo(ctx context.Context, state *JobState, video *entities.Video) {
	logger := zerolog.Ctx(ctx)

	// Placeholder first, so observers can see the video in flight. A
	// crashed-mid-video placeholder may already exist; reuse its slot.
	state.Update(func(job *entities.ValidationJob) {
		job.CurrentVideo = video.ID.String()
		if idx := resultIndex(job.Videos, video.ID); idx < 0 {
			job.Videos = append(job.Videos, entities.VideoResult{VideoId: video.ID, Title: video.Title})
		}
	})
	e.persistProgress(ctx, state)

	if err := e.repo.UpdateVideoStatus(ctx, video.ID, constant.VideoStatusChecking); err != nil {
		logger.Error().Err(err).Str("video", video.ID.String()).Msg("failed to mark video checking")
	}

	results, err := e.validateWithRetry(ctx, state, video)
	now := time.Now()

	if err != nil {
		logger.Warn().Err(err).Str("video", video.ID.String()).Msg("video failed validation")
		e.recordResult(ctx, state, video, entities.VideoResult{
			VideoId:     video.ID,
			Title:       video.Title,
			Ok:          boolPtr(false),
			Error:       err.Error(),
			ProcessedAt: &now,
		})
		e.transitionVideo(ctx, video, constant.VideoStatusBroken)
		e.notifier.NotifyBrokenVideo(ctx, video, err.Error())
		return
	}

	ok := results.OK()
	e.recordResult(ctx, state, video, entities.VideoResult{
		VideoId:     video.ID,
		Title:       video.Title,
		Ok:          &ok,
		Qualities:   results.Summaries(),
		ProcessedAt: &now,
	})

	next := constant.VideoStatusWorking
	if !ok {
		next = constant.VideoStatusBroken
	}
	e.transitionVideo(ctx, video, next)
	if !ok {
		e.notifier.NotifyBrokenVideo(ctx, video, fmt.Sprintf("%d of %d segments unreachable", results.Meta.FailedCount, results.Meta.TotalChecked))
	}
	e.persistLearnedCounts(ctx, video, results)
}

// persistLearnedCounts writes segment counts discovered by a full scan back
// into the video's quality metadata, so later runs and the playlist
// synthesizer stop re-deriving them.
func (e *JobEngine) persistLearnedCounts(ctx context.Context, video *entities.Video, results *ValidationResults) {
	changed := false
	qualities := make(entities.QualityList, len(video.Qualities))
	copy(qualities, video.Qualities)

	for i, q := range qualities {
		report, ok := results.Qualities[q.Quality]
		if !ok || report.FastPath {
			continue
		}
		if q.SegmentCount <= 1 && report.Summary.TotalChecked > 1 {
			qualities[i].SegmentCount = report.Summary.TotalChecked
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := e.repo.UpdateVideoQualities(ctx, video.ID, qualities); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("video", video.ID.String()).Msg("failed to persist learned segment counts")
	}
}

// validateWithRetry attempts a video up to twice under the per-video
// deadline. Full scanning is earned, not given: only the final attempt may
// walk every segment. Terminal failures abort remaining attempts.
func (e *JobEngine) validateWithRetry(ctx context.Context, state *JobState, video *entities.Video) (*ValidationResults, error) {
	mirror := state.Snapshot().Mirror

	var lastErr error
	for attempt := 1; attempt <= videoMaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.VideoDeadline)
		results, err := e.validator.Validate(attemptCtx, video, ValidateOptions{
			Mirror:        mirror,
			AllowFullScan: attempt == videoMaxAttempts,
		})
		cancel()

		if err == nil {
			return results, nil
		}
		lastErr = err
		if IsTerminal(err) {
			return nil, err
		}
		zerolog.Ctx(ctx).Debug().Err(err).Str("video", video.ID.String()).Int("attempt", attempt).Msg("validation attempt failed")
	}
	return nil, lastErr
}

func (e *JobEngine) recordResult(ctx context.Context, state *JobState, video *entities.Video, result entities.VideoResult) {
	state.Update(func(job *entities.ValidationJob) {
		if idx := resultIndex(job.Videos, video.ID); idx >= 0 {
			job.Videos[idx] = result
		} else {
			job.Videos = append(job.Videos, result)
		}
		job.ProcessedVideos = job.Videos.Processed()
		job.CurrentVideo = ""
	})
	e.persistProgress(ctx, state)
}

func (e *JobEngine) transitionVideo(ctx context.Context, video *entities.Video, next constant.VideoStatus) {
	prev := video.Status
	if err := e.repo.UpdateVideoStatus(ctx, video.ID, next); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("video", video.ID.String()).Msg("failed to update video status")
		return
	}
	e.notifier.NotifyStatusChange(ctx, video, prev, next)
}

func (e *JobEngine) finalize(ctx context.Context, state *JobState, terminal constant.JobStatus) {
	now := time.Now()
	state.Update(func(job *entities.ValidationJob) {
		job.Status = terminal
		job.FinishedAt = &now
		job.CurrentVideo = ""
	})

	snapshot := state.Snapshot()
	e.persist(ctx, state, map[string]interface{}{
		"status":           terminal,
		"finished_at":      now,
		"current_video":    "",
		"videos":           snapshot.Videos,
		"processed_videos": snapshot.ProcessedVideos,
	})

	failed := 0
	for _, r := range snapshot.Videos {
		if r.Ok != nil && !*r.Ok {
			failed++
		}
	}

	zerolog.Ctx(ctx).Info().Str("status", terminal.String()).Int("processed", snapshot.ProcessedVideos).Int("failed", failed).Msg("validation run finalized")
	e.notifier.NotifyJobFinished(ctx, snapshot.JobId, snapshot.ProcessedVideos, failed)

	if terminal == constant.JobStatusFinished && e.cfg.WebhookURL != "" && failed >= e.cfg.WebhookThreshold {
		e.postWebhook(ctx, snapshot, failed)
	}
}

// postWebhook fires the summary payload once, best-effort.
func (e *JobEngine) postWebhook(ctx context.Context, job entities.ValidationJob, failed int) {
	payload, err := json.Marshal(map[string]any{
		"jobId":      job.JobId,
		"total":      job.TotalVideos,
		"processed":  job.ProcessedVideos,
		"failed":     failed,
		"finishedAt": job.FinishedAt,
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.validator.HTTPClient().Do(req)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("webhook dispatch failed")
		return
	}
	_ = resp.Body.Close()
	zerolog.Ctx(ctx).Info().Int("status", resp.StatusCode).Msg("webhook dispatched")
}

// persistProgress flushes the mutable progress fields to the store.
func (e *JobEngine) persistProgress(ctx context.Context, state *JobState) {
	snapshot := state.Snapshot()
	e.persist(ctx, state, map[string]interface{}{
		"videos":           snapshot.Videos,
		"processed_videos": snapshot.ProcessedVideos,
		"current_video":    snapshot.CurrentVideo,
	})
}

func (e *JobEngine) persist(ctx context.Context, state *JobState, fields map[string]interface{}) {
	jobId := state.Snapshot().JobId
	if err := e.repo.UpdateJobFields(ctx, jobId, fields); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("job_id", jobId).Msg("failed to persist job progress")
	}
}

// Pause and Resume toggle the paused axis; the run loop observes the flag
// on its next poll, within ~500ms.
func (e *JobEngine) Pause(ctx context.Context, jobId string) error {
	return e.setPaused(ctx, jobId, true)
}

func (e *JobEngine) Resume(ctx context.Context, jobId string) error {
	return e.setPaused(ctx, jobId, false)
}

func (e *JobEngine) setPaused(ctx context.Context, jobId string, paused bool) error {
	state, ok := e.registry.Get(jobId)
	if !ok {
		return repository.ErrNotFound
	}
	state.Update(func(job *entities.ValidationJob) {
		job.Paused = paused
	})
	return e.repo.UpdateJobFields(ctx, jobId, map[string]interface{}{"paused": paused})
}

// Stop requests termination. Already-recorded results stay; an in-flight
// video validation finishes (or times out) before the loop exits.
func (e *JobEngine) Stop(ctx context.Context, jobId string) error {
	state, ok := e.registry.Get(jobId)
	if !ok {
		return repository.ErrNotFound
	}
	state.Update(func(job *entities.ValidationJob) {
		job.Status = constant.JobStatusStopped
	})
	return e.repo.UpdateJobFields(ctx, jobId, map[string]interface{}{"status": constant.JobStatusStopped})
}

// Delete removes a job record. Running jobs must be stopped first.
func (e *JobEngine) Delete(ctx context.Context, jobId string) error {
	if state, ok := e.registry.Get(jobId); ok {
		if status, _ := state.Control(); status.Active() {
			return ErrJobAlreadyRunning
		}
		e.registry.Delete(jobId)
	}
	return e.repo.DeleteJob(ctx, jobId)
}

// Snapshot returns the merged job view: live registry state when present,
// else the persisted record. Concurrent reads see an eventually-consistent
// picture by design of the single-writer model.
func (e *JobEngine) Snapshot(ctx context.Context, jobId string) (*entities.ValidationJob, error) {
	if state, ok := e.registry.Get(jobId); ok {
		job := state.Snapshot()
		return &job, nil
	}
	return e.repo.FindJobByJobId(ctx, jobId)
}

// List returns all persisted jobs, with live state substituted for any
// job currently in the registry.
func (e *JobEngine) List(ctx context.Context) ([]*entities.ValidationJob, error) {
	jobs, err := e.repo.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	for i, job := range jobs {
		if state, ok := e.registry.Get(job.JobId); ok {
			live := state.Snapshot()
			jobs[i] = &live
		}
	}
	return jobs, nil
}

// RevalidateVideo re-runs validation for one video and appends a fresh
// result to the job's list, regardless of the job's run state. The job's
// run loop never touches appended revalidation entries, so the
// single-writer rule holds per slot.
func (e *JobEngine) RevalidateVideo(ctx context.Context, jobId string, videoId uuid.UUID) (*entities.VideoResult, error) {
	video, err := e.repo.FindVideoById(ctx, videoId)
	if err != nil {
		return nil, err
	}

	state, live := e.registry.Get(jobId)
	if !live {
		persisted, err := e.repo.FindJobByJobId(ctx, jobId)
		if err != nil {
			return nil, err
		}
		state = e.registry.Put(*persisted)
		defer e.registry.Delete(jobId)
	}

	mirror := state.Snapshot().Mirror
	now := time.Now()
	var result entities.VideoResult

	results, err := e.revalidate(ctx, video, mirror)
	if err != nil {
		result = entities.VideoResult{
			VideoId:     video.ID,
			Title:       video.Title,
			Ok:          boolPtr(false),
			Error:       err.Error(),
			ProcessedAt: &now,
		}
		e.transitionVideo(ctx, video, constant.VideoStatusBroken)
	} else {
		ok := results.OK()
		result = entities.VideoResult{
			VideoId:     video.ID,
			Title:       video.Title,
			Ok:          &ok,
			Qualities:   results.Summaries(),
			ProcessedAt: &now,
		}
		next := constant.VideoStatusWorking
		if !ok {
			next = constant.VideoStatusBroken
		}
		e.transitionVideo(ctx, video, next)
	}

	state.Update(func(job *entities.ValidationJob) {
		job.Videos = append(job.Videos, result)
		job.ProcessedVideos = job.Videos.Processed()
	})
	snapshot := state.Snapshot()
	e.persist(ctx, state, map[string]interface{}{
		"videos":           snapshot.Videos,
		"processed_videos": snapshot.ProcessedVideos,
	})

	return &result, nil
}

func (e *JobEngine) revalidate(ctx context.Context, video *entities.Video, mirror bool) (*ValidationResults, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.VideoDeadline)
	defer cancel()
	return e.validator.Validate(attemptCtx, video, ValidateOptions{Mirror: mirror, AllowFullScan: true})
}

func resultIndex(results entities.VideoResultList, videoId uuid.UUID) int {
	for i, r := range results {
		if r.VideoId == videoId {
			return i
		}
	}
	return -1
}

func boolPtr(v bool) *bool {
	return &v
}
