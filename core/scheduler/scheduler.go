package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rh-orchestrator/config"
	"rh-orchestrator/core/executor"
	"rh-orchestrator/core/models"
	"rh-orchestrator/core/monitoring"
	"rh-orchestrator/core/repository"
	"rh-orchestrator/providers/runninghub"
)

// TemplateSource looks up saved templates.
type TemplateSource interface {
	GetTemplate(id string) (models.Template, error)
}

// ProfileSource looks up imported sessions.
type ProfileSource interface {
	GetProfile(id string) (models.Profile, error)
}

// SettingsSource returns the current runtime settings.
type SettingsSource interface {
	Get() config.Settings
}

// Options configures a Scheduler.
type Options struct {
	MaxConcurrentJobs int
	DownloadDir       string
	Remote            runninghub.Options
	Mirror            executor.ArtifactMirror
	Metrics           *monitoring.MetricsExporter
	// Retention > 0 drops finished jobs after that long.
	Retention     time.Duration
	PruneInterval time.Duration
	// NewClient overrides the platform client factory, for tests.
	NewClient executor.ClientFactory
}

// SubmitRequest asks for one job from a saved template and profile.
// A non-nil Payload replaces the template payload for this job only.
type SubmitRequest struct {
	TemplateID string                 `json:"templateId"`
	ProfileID  string                 `json:"profileId"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	NoAuth     bool                   `json:"noAuth"`
	Token      string                 `json:"token,omitempty"`
}

// Scheduler admits submitted jobs through the limiter and runs each one on
// its own goroutine.
type Scheduler struct {
	registry  *repository.JobRegistry
	templates TemplateSource
	profiles  ProfileSource
	settings  SettingsSource
	limiter   *Limiter
	executor  *executor.JobExecutor
	monitor   *monitoring.JobMonitor
	metrics   *monitoring.MetricsExporter
	logger    *slog.Logger

	downloadDir string

	rootCtx context.Context
	cancel  context.CancelCauseFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewScheduler creates a new scheduler
func NewScheduler(
	registry *repository.JobRegistry,
	templates TemplateSource,
	profiles ProfileSource,
	settings SettingsSource,
	opts Options,
) *Scheduler {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetricsExporter()
	}
	newClient := opts.NewClient
	if newClient == nil {
		remote := opts.Remote
		if remote.Observe == nil {
			remote.Observe = metrics.RemoteRequest
		}
		newClient = executor.RunningHubClients(remote)
	}
	exec := executor.NewJobExecutor(registry, newClient, metrics)
	if opts.Mirror != nil {
		exec.SetMirror(opts.Mirror)
	}
	downloadDir := opts.DownloadDir
	if downloadDir == "" {
		downloadDir = "downloads"
	}

	rootCtx, cancel := context.WithCancelCause(context.Background())
	return &Scheduler{
		registry:    registry,
		templates:   templates,
		profiles:    profiles,
		settings:    settings,
		limiter:     NewLimiter(opts.MaxConcurrentJobs),
		executor:    exec,
		monitor:     monitoring.NewJobMonitor(registry, opts.Retention, opts.PruneInterval),
		metrics:     metrics,
		logger:      monitoring.Logger(),
		downloadDir: downloadDir,
		rootCtx:     rootCtx,
		cancel:      cancel,
	}
}

// Start launches background maintenance. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-s.rootCtx.Done():
				cancel()
			case <-mctx.Done():
			}
		}()
		s.monitor.Start(mctx)
	}()
}

// Submit validates req, records a queued job and starts it in the
// background. The returned job is a snapshot taken right after creation.
func (s *Scheduler) Submit(req SubmitRequest) (models.Job, error) {
	templateID := strings.TrimSpace(req.TemplateID)
	profileID := strings.TrimSpace(req.ProfileID)
	if templateID == "" || profileID == "" {
		return models.Job{}, fmt.Errorf("templateId and profileId are required: %w", models.ErrInvalidInput)
	}

	tpl, err := s.templates.GetTemplate(templateID)
	if err != nil {
		return models.Job{}, err
	}
	profile, err := s.profiles.GetProfile(profileID)
	if err != nil {
		return models.Job{}, err
	}

	payload := tpl.Payload
	referer := tpl.Referer
	if req.Payload != nil {
		payload = req.Payload
		referer = ""
	}
	if payload == nil {
		return models.Job{}, fmt.Errorf("payload must be an object: %w", models.ErrInvalidInput)
	}
	payload = copyPayload(payload)

	settings := s.settings.Get()
	host := profile.Host

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return models.Job{}, fmt.Errorf("scheduler is shutting down: %w", models.ErrStopRequested)
	}

	job := models.Job{
		ID:             uuid.NewString(),
		Status:         models.JobStatusQueued,
		TimeoutSeconds: settings.JobTimeout().Seconds(),
		TemplateID:     tpl.ID,
		TemplateName:   tpl.Name,
		ProfileID:      profile.ID,
		ProfileName:    profile.Name,
		Host:           host,
	}
	job.AppendLog(time.Now(), "queued")
	if err := s.registry.CreateJob(job); err != nil {
		return models.Job{}, err
	}

	task := executor.Task{
		JobID:          job.ID,
		Host:           host,
		Record:         append(json.RawMessage(nil), profile.Record...),
		Payload:        payload,
		Referer:        referer,
		Token:          req.Token,
		NoAuth:         req.NoAuth,
		Timeout:        settings.JobTimeout(),
		PollInterval:   settings.HistoryInterval(),
		RequestTimeout: settings.RequestTimeout(),
		DownloadDir:    s.downloadDir,
	}

	s.metrics.JobSubmitted(s.rootCtx)
	s.logger.Info("job queued", "job_id", job.ID, "template_id", tpl.ID, "profile_id", profile.ID)

	s.wg.Add(1)
	go s.run(task)

	return s.registry.GetJob(job.ID)
}

func (s *Scheduler) run(task executor.Task) {
	defer s.wg.Done()

	if err := s.limiter.Acquire(s.rootCtx); err != nil {
		s.cancelQueued(task.JobID)
		return
	}
	defer s.limiter.Release()
	if s.rootCtx.Err() != nil {
		s.cancelQueued(task.JobID)
		return
	}

	s.executor.Run(s.rootCtx, task)
}

// cancelQueued finishes a job that never got a slot.
func (s *Scheduler) cancelQueued(jobID string) {
	msg := models.ErrStopRequested.Error()
	if cause := context.Cause(s.rootCtx); cause != nil && !errors.Is(cause, models.ErrStopRequested) {
		msg = cause.Error()
	}
	job, err := s.registry.UpdateJob(jobID, func(j *models.Job) error {
		j.Status = models.JobStatusCancelled
		j.Error = msg
		j.AppendLog(time.Now(), "cancelled: "+msg)
		return nil
	})
	if err != nil {
		s.logger.Error("failed to cancel queued job", "job_id", jobID, "error", err)
		return
	}
	s.metrics.JobFinished(context.WithoutCancel(s.rootCtx), job.Status, false)
}

// GetJob returns a snapshot of the job with id.
func (s *Scheduler) GetJob(id string) (models.Job, error) {
	return s.registry.GetJob(id)
}

// ListJobs returns snapshots of all jobs, newest first.
func (s *Scheduler) ListJobs() []models.Job {
	return s.registry.ListJobs()
}

// Running returns how many jobs currently hold an admission slot.
func (s *Scheduler) Running() int {
	return s.limiter.InUse()
}

// Stop cancels every queued and running job and waits for their goroutines
// to finish or ctx to end. Later submissions are rejected.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel(models.ErrStopRequested)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs to stop: %w", ctx.Err())
	}
}

// copyPayload returns a deep copy so a running job never shares maps with
// the template store or the caller.
func copyPayload(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return map[string]interface{}{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return p
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return p
	}
	return out
}
