package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rh-orchestrator/core/credentials"
	"rh-orchestrator/core/models"
	"rh-orchestrator/core/monitoring"
	"rh-orchestrator/core/repository"
	"rh-orchestrator/providers/runninghub"
	"rh-orchestrator/storage"
)

// Remote is the subset of the platform client a job needs.
type Remote interface {
	Referer(payload map[string]interface{}) string
	CreateJob(ctx context.Context, payload map[string]interface{}, token, referer string) (runninghub.CreateResult, error)
	FindTask(ctx context.Context, token, referer, taskID string) (*runninghub.TaskSummary, error)
	DownloadArtifact(ctx context.Context, rawURL, destDir, filename string, overwrite bool) (string, error)
}

// ClientFactory builds a fresh client, with its own cookie jar, for one job.
type ClientFactory func(bundle *credentials.Bundle, requestTimeout time.Duration) (Remote, runninghub.CookieReport, error)

// RunningHubClients returns a factory building platform clients from base.
func RunningHubClients(base runninghub.Options) ClientFactory {
	return func(bundle *credentials.Bundle, requestTimeout time.Duration) (Remote, runninghub.CookieReport, error) {
		opts := base
		opts.RequestTimeout = requestTimeout
		c, report, err := runninghub.New(opts, bundle)
		if err != nil {
			return nil, report, err
		}
		return c, report, nil
	}
}

// ArtifactMirror copies a downloaded artifact to long-term storage.
type ArtifactMirror interface {
	MirrorArtifact(ctx context.Context, jobID, localPath string) (string, error)
}

// Task is everything a job needs once it has been admitted.
type Task struct {
	JobID          string
	Host           string
	Record         json.RawMessage
	Payload        map[string]interface{}
	Referer        string
	Token          string
	NoAuth         bool
	Timeout        time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
	DownloadDir    string
}

type outcome struct {
	remoteStatus   string
	artifactURL    string
	downloadedPath string
	extractedFiles []string
	downloadURL    string
	extractedURLs  []string
	mirrorURI      string
	artifactError  string
}

// JobExecutor drives one job through create, poll, download and unpack,
// recording every step in the job registry.
type JobExecutor struct {
	registry  *repository.JobRegistry
	newClient ClientFactory
	mirror    ArtifactMirror
	metrics   *monitoring.MetricsExporter
	logger    *slog.Logger
	now       func() time.Time
}

// NewJobExecutor creates a new job executor
func NewJobExecutor(registry *repository.JobRegistry, newClient ClientFactory, metrics *monitoring.MetricsExporter) *JobExecutor {
	if metrics == nil {
		metrics = monitoring.NewMetricsExporter()
	}
	return &JobExecutor{
		registry:  registry,
		newClient: newClient,
		metrics:   metrics,
		logger:    monitoring.Logger(),
		now:       time.Now,
	}
}

// SetMirror enables copying downloaded artifacts to m.
func (e *JobExecutor) SetMirror(m ArtifactMirror) {
	e.mirror = m
}

// Run moves an admitted job to running and drives it to a terminal status.
// The job deadline starts now. Every failure ends up on the job record.
func (e *JobExecutor) Run(ctx context.Context, task Task) {
	started := e.now()
	jobCtx, cancel := context.WithDeadlineCause(ctx, started.Add(task.Timeout), models.ErrJobTimeout)
	defer cancel()

	jobCtx, span := monitoring.Tracer().Start(jobCtx, "job.run", trace.WithAttributes(
		attribute.String("job.id", task.JobID),
		attribute.Float64("job.timeout_seconds", task.Timeout.Seconds()),
	))
	defer span.End()

	if _, err := e.registry.UpdateJob(task.JobID, func(j *models.Job) error {
		j.Status = models.JobStatusRunning
		j.TimeoutSeconds = task.Timeout.Seconds()
		j.AppendLog(e.now(), fmt.Sprintf("job started (timeout=%ds)", int(task.Timeout.Seconds())))
		return nil
	}); err != nil {
		e.logger.Error("failed to start job", "job_id", task.JobID, "error", err)
		return
	}
	e.metrics.JobStarted(jobCtx)
	e.logger.Info("job started", "job_id", task.JobID)

	out, err := e.execute(jobCtx, task)
	status, msg := classify(jobCtx, err)

	span.SetAttributes(attribute.String("job.status", string(status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
	}

	final, updErr := e.registry.UpdateJob(task.JobID, func(j *models.Job) error {
		j.Status = status
		if out.remoteStatus != "" {
			j.RemoteStatus = out.remoteStatus
		}
		if out.artifactURL != "" {
			j.ArtifactURL = out.artifactURL
		}
		now := e.now()
		switch status {
		case models.JobStatusSuccess:
			j.DownloadedPath = out.downloadedPath
			j.ExtractedFiles = out.extractedFiles
			j.DownloadURL = out.downloadURL
			j.ExtractedURLs = out.extractedURLs
			j.MirrorURI = out.mirrorURI
			j.ArtifactError = out.artifactError
			j.AppendLog(now, "done")
		case models.JobStatusCancelled:
			j.Error = msg
			j.AppendLog(now, "cancelled: "+msg)
		default:
			j.Error = msg
			if errors.Is(err, models.ErrJobTimeout) || errors.Is(context.Cause(jobCtx), models.ErrJobTimeout) {
				j.AppendLog(now, "timeout: "+msg)
			} else {
				j.AppendLog(now, "error: "+msg)
			}
		}
		return nil
	})
	if updErr != nil {
		e.logger.Error("failed to record job result", "job_id", task.JobID, "error", updErr)
		return
	}

	e.metrics.JobFinished(context.WithoutCancel(jobCtx), final.Status, true)
	e.logger.Info("job finished", "job_id", task.JobID, "status", final.Status, "error", final.Error)
}

// classify maps the error that ended a job to its terminal status. Context
// causes win over whatever error the interrupted step returned.
func classify(jobCtx context.Context, err error) (models.JobStatus, string) {
	if err == nil {
		return models.JobStatusSuccess, ""
	}

	cause := err
	if jobCtx.Err() != nil {
		cause = context.Cause(jobCtx)
	}
	switch {
	case errors.Is(cause, models.ErrStopRequested) || errors.Is(err, models.ErrStopRequested):
		return models.JobStatusCancelled, models.ErrStopRequested.Error()
	case errors.Is(cause, models.ErrJobTimeout):
		if errors.Is(err, models.ErrJobTimeout) {
			return models.JobStatusFailed, err.Error()
		}
		return models.JobStatusFailed, models.ErrJobTimeout.Error()
	case errors.Is(cause, context.Canceled):
		return models.JobStatusCancelled, err.Error()
	}
	return models.JobStatusFailed, err.Error()
}

func (e *JobExecutor) execute(ctx context.Context, task Task) (outcome, error) {
	var out outcome

	bundle, err := credentials.Resolve(task.Host, task.Record)
	if err != nil {
		return out, err
	}
	token := strings.TrimSpace(task.Token)
	if token == "" {
		token = bundle.AccessToken()
	}
	if task.NoAuth {
		token = ""
	}

	client, report, err := e.newClient(&bundle, task.RequestTimeout)
	if err != nil {
		return out, fmt.Errorf("create client: %w", err)
	}
	if report.Degraded() {
		e.appendLog(task.JobID, fmt.Sprintf("auth degraded: %d cookies rejected (%s)",
			len(report.Rejected), strings.Join(report.Rejected, ", ")))
	}

	referer := task.Referer
	if referer == "" {
		referer = client.Referer(task.Payload)
	}

	if err := ctx.Err(); err != nil {
		return out, context.Cause(ctx)
	}
	e.appendLog(task.JobID, fmt.Sprintf("create: webappId=%v auth=%s", task.Payload["webappId"], yesNo(token != "")))
	created, err := client.CreateJob(ctx, task.Payload, token, referer)
	if err != nil {
		return out, err
	}
	if _, err := e.registry.UpdateJob(task.JobID, func(j *models.Job) error {
		j.RemoteTaskID = created.TaskID
		j.AppendLog(e.now(), "create ok: taskId="+created.TaskID)
		return nil
	}); err != nil {
		return out, err
	}

	hit, err := e.waitForTerminal(ctx, client, task, token, referer, created.TaskID)
	if err != nil {
		return out, err
	}
	out.remoteStatus = hit.Status
	out.artifactURL = hit.FileURL
	e.appendLog(task.JobID, fmt.Sprintf("history: status=%q fileUrl=%s", hit.Status, yesNo(hit.FileURL != "")))

	if !runninghub.IsSuccess(hit.Status) {
		return out, fmt.Errorf("remote task status %s", hit.Status)
	}
	if hit.FileURL == "" {
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return out, context.Cause(ctx)
	}
	name := strings.TrimSpace(hit.OutputName)
	if name == "" {
		name = runninghub.DefaultNameFromURL(hit.FileURL)
	}
	path, err := client.DownloadArtifact(ctx, hit.FileURL, task.DownloadDir, task.JobID+"-"+name, false)
	if err != nil {
		if ctx.Err() != nil {
			return out, err
		}
		// The remote task did succeed; keep that and record the local failure.
		out.artifactError = err.Error()
		e.appendLog(task.JobID, "download failed: "+err.Error())
		return out, nil
	}
	out.downloadedPath = path
	out.downloadURL = storage.DownloadLink(task.DownloadDir, path)
	e.appendLog(task.JobID, "downloaded: "+filepath.Base(path))

	if storage.IsZip(path) {
		out.extractedFiles = e.extract(task, path)
		for _, f := range out.extractedFiles {
			if link := storage.DownloadLink(task.DownloadDir, f); link != "" {
				out.extractedURLs = append(out.extractedURLs, link)
			}
		}
	}
	if e.mirror != nil {
		uri, err := e.mirror.MirrorArtifact(ctx, task.JobID, path)
		if err != nil {
			e.logger.Warn("artifact mirror failed", "job_id", task.JobID, "error", err)
			e.appendLog(task.JobID, "mirror failed: "+err.Error())
		} else {
			out.mirrorURI = uri
			e.appendLog(task.JobID, "mirrored: "+uri)
		}
	}
	return out, nil
}

var (
	errNotListed   = errors.New("task not listed in history yet")
	errStillActive = errors.New("task not finished")
)

// waitForTerminal polls history at a constant interval until the task shows
// a terminal status or ctx ends. The first poll happens immediately.
func (e *JobExecutor) waitForTerminal(ctx context.Context, client Remote, task Task, token, referer, taskID string) (*runninghub.TaskSummary, error) {
	interval := task.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}

	var hit *runninghub.TaskSummary
	lastStatus := ""
	err := retry.Do(ctx, retry.NewConstant(interval), func(ctx context.Context) error {
		summary, err := client.FindTask(ctx, token, referer, taskID)
		if err != nil {
			return err
		}
		if summary == nil {
			return retry.RetryableError(errNotListed)
		}
		if summary.Status != lastStatus {
			lastStatus = summary.Status
			status := summary.Status
			_, _ = e.registry.UpdateJob(task.JobID, func(j *models.Job) error {
				j.RemoteStatus = status
				return nil
			})
		}
		if !runninghub.IsTerminal(summary.Status) {
			return retry.RetryableError(errStillActive)
		}
		hit = summary
		return nil
	})
	if err == nil {
		return hit, nil
	}
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, models.ErrJobTimeout) {
			return nil, fmt.Errorf("timeout: no terminal status observed (last status %q): %w", lastStatus, models.ErrJobTimeout)
		}
		return nil, cause
	}
	return nil, err
}

// extract unpacks a downloaded zip next to it. Failures are logged on the
// job and never change its outcome.
func (e *JobExecutor) extract(task Task, path string) []string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dest := filepath.Join(task.DownloadDir, task.JobID+"-"+stem)
	if abs, err := filepath.Abs(dest); err == nil {
		dest = abs
	}

	files, rejected, err := storage.ExtractZip(path, dest)
	for _, r := range rejected {
		e.appendLog(task.JobID, "unzip skipped: "+r.Error())
	}
	if err != nil {
		e.appendLog(task.JobID, "unzip failed: "+err.Error())
		return nil
	}
	e.appendLog(task.JobID, fmt.Sprintf("unzipped: %d files", len(files)))
	return files
}

func (e *JobExecutor) appendLog(jobID, msg string) {
	if _, err := e.registry.UpdateJob(jobID, func(j *models.Job) error {
		j.AppendLog(e.now(), msg)
		return nil
	}); err != nil {
		e.logger.Warn("failed to append job log", "job_id", jobID, "error", err)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
