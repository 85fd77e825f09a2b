package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rh-orchestrator/core/credentials"
	"rh-orchestrator/core/models"
	"rh-orchestrator/core/repository"
	"rh-orchestrator/providers/runninghub"
)

func TestClassify(t *testing.T) {
	stopped, stop := context.WithCancelCause(context.Background())
	stop(models.ErrStopRequested)

	timedOut, cancel := context.WithDeadlineCause(context.Background(), time.Now().Add(-time.Second), models.ErrJobTimeout)
	defer cancel()

	plainCancel, cancelPlain := context.WithCancel(context.Background())
	cancelPlain()

	pollTimeout := fmt.Errorf("timeout: no terminal status observed: %w", models.ErrJobTimeout)

	cases := []struct {
		name   string
		ctx    context.Context
		err    error
		status models.JobStatus
		msg    string
	}{
		{"success", context.Background(), nil, models.JobStatusSuccess, ""},
		{"remote failure", context.Background(), errors.New("remote task status FAILED"), models.JobStatusFailed, "remote task status FAILED"},
		{"stop wins over step error", stopped, errors.New("read: connection reset"), models.JobStatusCancelled, "stop requested"},
		{"poll timeout keeps detail", timedOut, pollTimeout, models.JobStatusFailed, pollTimeout.Error()},
		{"deadline during step", timedOut, errors.New("create: boom"), models.JobStatusFailed, "job timeout"},
		{"plain cancel", plainCancel, context.Canceled, models.JobStatusCancelled, context.Canceled.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, msg := classify(tc.ctx, tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.msg, msg)
		})
	}
}

type fakeRemote struct {
	mu        sync.Mutex
	tokens    []string
	referers  []string
	statuses  []string
	fileURL   string
	artifact  string
	createErr error
}

func (f *fakeRemote) Referer(payload map[string]interface{}) string {
	return runninghub.BuildReferer("https://example.test", payload)
}

func (f *fakeRemote) CreateJob(ctx context.Context, payload map[string]interface{}, token, referer string) (runninghub.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.referers = append(f.referers, referer)
	if f.createErr != nil {
		return runninghub.CreateResult{}, f.createErr
	}
	return runninghub.CreateResult{TaskID: "task-1"}, nil
}

func (f *fakeRemote) FindTask(ctx context.Context, token, referer, taskID string) (*runninghub.TaskSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return nil, nil
	}
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	if status == "" {
		return nil, nil
	}
	return &runninghub.TaskSummary{TaskID: taskID, Status: status, FileURL: f.fileURL, OutputName: "out.png"}, nil
}

func (f *fakeRemote) DownloadArtifact(ctx context.Context, rawURL, destDir, filename string, overwrite bool) (string, error) {
	path := filepath.Join(destDir, filename)
	if err := os.WriteFile(path, []byte(f.artifact), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeMirror struct {
	calls []string
	err   error
}

func (m *fakeMirror) MirrorArtifact(ctx context.Context, jobID, localPath string) (string, error) {
	m.calls = append(m.calls, localPath)
	if m.err != nil {
		return "", m.err
	}
	return "s3://bucket/" + jobID + "/" + filepath.Base(localPath), nil
}

const validRecord = `{"data":[{"type":"localStorage","key":"Rh-Accesstoken","value":"session-token"}]}`

func newTestExecutor(t *testing.T, remote *fakeRemote) (*JobExecutor, *repository.JobRegistry) {
	t.Helper()
	registry := repository.NewJobRegistry()
	factory := func(bundle *credentials.Bundle, requestTimeout time.Duration) (Remote, runninghub.CookieReport, error) {
		return remote, runninghub.CookieReport{Rejected: []string{"bad"}}, nil
	}
	return NewJobExecutor(registry, factory, nil), registry
}

func newTask(t *testing.T, registry *repository.JobRegistry, id string) Task {
	t.Helper()
	require.NoError(t, registry.CreateJob(models.Job{ID: id, Status: models.JobStatusQueued}))
	return Task{
		JobID:        id,
		Host:         "www.runninghub.ai",
		Record:       json.RawMessage(validRecord),
		Payload:      map[string]interface{}{"webappId": "5"},
		Timeout:      5 * time.Second,
		PollInterval: 5 * time.Millisecond,
		DownloadDir:  t.TempDir(),
	}
}

func TestRunInvalidRecordFailsWithAuthError(t *testing.T) {
	remote := &fakeRemote{}
	exec, registry := newTestExecutor(t, remote)
	task := newTask(t, registry, "j1")
	task.Record = json.RawMessage(`["not", "an", "object"]`)

	exec.Run(context.Background(), task)

	job, err := registry.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "session record")
	assert.Empty(t, remote.tokens, "no remote call without credentials")
}

func TestRunTokenSelection(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		noAuth bool
		want   string
	}{
		{"from session", "", false, "session-token"},
		{"override", "explicit", false, "explicit"},
		{"no auth", "explicit", true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			remote := &fakeRemote{createErr: errors.New("create: rejected")}
			exec, registry := newTestExecutor(t, remote)
			task := newTask(t, registry, "j")
			task.Token = tc.token
			task.NoAuth = tc.noAuth

			exec.Run(context.Background(), task)

			require.Len(t, remote.tokens, 1)
			assert.Equal(t, tc.want, remote.tokens[0])
			assert.Equal(t, "https://example.test/ai-detail/5", remote.referers[0])

			job, _ := registry.GetJob("j")
			assert.Equal(t, models.JobStatusFailed, job.Status)
			assert.Equal(t, "create: rejected", job.Error)
		})
	}
}

func TestRunSuccessMirrorsArtifact(t *testing.T) {
	remote := &fakeRemote{statuses: []string{"", "QUEUED", "SUCCESS"}, fileURL: "https://cdn.test/out.png", artifact: "png"}
	exec, registry := newTestExecutor(t, remote)
	mirror := &fakeMirror{}
	exec.SetMirror(mirror)
	task := newTask(t, registry, "j2")
	task.Referer = "https://example.test/custom"

	exec.Run(context.Background(), task)

	job, err := registry.GetJob("j2")
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSuccess, job.Status, "log: %v", job.Log)
	assert.Equal(t, "task-1", job.RemoteTaskID)
	assert.Equal(t, "https://cdn.test/out.png", job.ArtifactURL)
	assert.Equal(t, filepath.Join(task.DownloadDir, "j2-out.png"), job.DownloadedPath)
	assert.Empty(t, job.ExtractedFiles)
	assert.Equal(t, "/downloads/j2-out.png", job.DownloadURL)
	assert.Empty(t, job.ExtractedURLs)
	assert.Equal(t, "s3://bucket/j2/j2-out.png", job.MirrorURI)
	assert.Equal(t, []string{job.DownloadedPath}, mirror.calls)
	assert.Equal(t, "https://example.test/custom", remote.referers[0])

	joined := fmt.Sprint(job.Log)
	assert.Contains(t, joined, "auth degraded: 1 cookies rejected (bad)")
	assert.Contains(t, joined, "create ok: taskId=task-1")
}

func TestRunMirrorFailureIsLoggedOnly(t *testing.T) {
	remote := &fakeRemote{statuses: []string{"SUCCESS"}, fileURL: "https://cdn.test/out.png"}
	exec, registry := newTestExecutor(t, remote)
	exec.SetMirror(&fakeMirror{err: errors.New("bucket gone")})
	task := newTask(t, registry, "j3")

	exec.Run(context.Background(), task)

	job, _ := registry.GetJob("j3")
	assert.Equal(t, models.JobStatusSuccess, job.Status)
	assert.Empty(t, job.MirrorURI)
	assert.Contains(t, fmt.Sprint(job.Log), "mirror failed: bucket gone")
}

func TestRunCancelledBeforeCreate(t *testing.T) {
	remote := &fakeRemote{}
	exec, registry := newTestExecutor(t, remote)
	task := newTask(t, registry, "j4")

	ctx, stop := context.WithCancelCause(context.Background())
	stop(models.ErrStopRequested)
	exec.Run(ctx, task)

	job, _ := registry.GetJob("j4")
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Equal(t, "stop requested", job.Error)
	assert.Empty(t, remote.tokens)
}
