package service

import (
	"sync"

	"vod-validator/constant"
	"vod-validator/entities"
)

// JobState is the live in-memory record of a job. The run goroutine is the
// single writer of result data; admin control actions only touch the
// paused flag and status, under the state's own lock.
type JobState struct {
	mu  sync.RWMutex
	job entities.ValidationJob
}

func (s *JobState) Snapshot() entities.ValidationJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := s.job
	copied.Videos = make(entities.VideoResultList, len(s.job.Videos))
	copy(copied.Videos, s.job.Videos)
	return copied
}

// Control returns the fields the run loop polls between videos.
func (s *JobState) Control() (constant.JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.job.Status, s.job.Paused
}

func (s *JobState) Update(mutate func(job *entities.ValidationJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.job)
}

// Registry is the explicit in-process cache of live jobs, keyed by the
// opaque job id. Reads merge cache-over-persisted-snapshot; the caller
// holding the run goroutine owns all mutation of a key's result data.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*JobState
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*JobState)}
}

func (r *Registry) Put(job entities.ValidationJob) *JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := &JobState{job: job}
	r.jobs[job.JobId] = state
	return state
}

func (r *Registry) Get(jobId string) (*JobState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.jobs[jobId]
	return state, ok
}

func (r *Registry) Delete(jobId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobId)
}
