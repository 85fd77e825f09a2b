package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"rh-orchestrator/core/models"
)

// JobRegistry is the in-memory table of jobs. Every read hands out a copy and
// every write replaces the whole record under one lock, so readers never see
// a partially updated job.
type JobRegistry struct {
	mu   sync.Mutex
	jobs map[string]*entry
	seq  uint64
	now  func() time.Time
}

type entry struct {
	job models.Job
	seq uint64
}

// NewJobRegistry creates an empty registry
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		jobs: make(map[string]*entry),
		now:  time.Now,
	}
}

// CreateJob stores a new job. Ids are never reused.
func (r *JobRegistry) CreateJob(job models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("create job: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: id already registered", job.ID)
	}
	now := r.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.Before(job.CreatedAt) {
		job.UpdatedAt = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	r.seq++
	r.jobs[job.ID] = &entry{job: job.Clone(), seq: r.seq}
	return nil
}

// GetJob returns a snapshot of the job or models.ErrNotFound.
func (r *JobRegistry) GetJob(id string) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return e.job.Clone(), nil
}

// UpdateJob applies fn to a copy of the job and stores the result if fn
// succeeds and the status change is allowed. Terminal jobs are immutable.
func (r *JobRegistry) UpdateJob(id string, fn func(job *models.Job) error) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	old := e.job
	if old.Status.IsTerminal() {
		return old.Clone(), fmt.Errorf("job %s is %s: %w", id, old.Status, models.ErrInvalidTransition)
	}

	next := old.Clone()
	if err := fn(&next); err != nil {
		return old.Clone(), err
	}

	// Immutable fields.
	next.ID = old.ID
	next.CreatedAt = old.CreatedAt
	if old.RemoteTaskID != "" {
		next.RemoteTaskID = old.RemoteTaskID
	}

	if !models.CanTransition(old.Status, next.Status) {
		return old.Clone(), fmt.Errorf("job %s %s -> %s: %w", id, old.Status, next.Status, models.ErrInvalidTransition)
	}
	if next.Status != models.JobStatusSuccess {
		next.DownloadedPath = ""
		next.ExtractedFiles = nil
		next.DownloadURL = ""
		next.ExtractedURLs = nil
	}

	now := r.now()
	if now.Before(old.UpdatedAt) {
		now = old.UpdatedAt
	}
	next.UpdatedAt = now

	e.job = next
	return next.Clone(), nil
}

// ListJobs returns snapshots of all jobs, most recently created first.
func (r *JobRegistry) ListJobs() []models.Job {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].job.CreatedAt.Equal(entries[j].job.CreatedAt) {
			return entries[i].job.CreatedAt.After(entries[j].job.CreatedAt)
		}
		return entries[i].seq > entries[j].seq
	})
	jobs := make([]models.Job, len(entries))
	for i, e := range entries {
		jobs[i] = e.job.Clone()
	}
	r.mu.Unlock()
	return jobs
}

// PruneJobs removes terminal jobs last updated before cutoff and returns how
// many were dropped. Queued and running jobs are never removed.
func (r *JobRegistry) PruneJobs(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.jobs {
		if e.job.Status.IsTerminal() && e.job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}
