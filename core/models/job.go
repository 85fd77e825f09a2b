package models

import "time"

// Job represents one end-to-end run against the remote platform:
// create, poll history, download and unpack.
type Job struct {
	ID             string    `json:"id"`
	Status         JobStatus `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	TimeoutSeconds float64   `json:"timeoutSeconds"`

	TemplateID   string `json:"templateId"`
	TemplateName string `json:"templateName"`
	ProfileID    string `json:"profileId"`
	ProfileName  string `json:"profileName"`
	Host         string `json:"host"`

	RemoteTaskID string `json:"remoteTaskId"`
	RemoteStatus string `json:"remoteStatus"`

	ArtifactURL    string   `json:"artifactUrl"`
	DownloadURL    string   `json:"downloadPath"`
	ExtractedURLs  []string `json:"extractedFiles"`
	MirrorURI      string   `json:"mirrorUri,omitempty"`

	// Local filesystem locations; served to clients as the URLs above.
	DownloadedPath string   `json:"-"`
	ExtractedFiles []string `json:"-"`

	Error         string   `json:"error"`
	ArtifactError string   `json:"artifactError,omitempty"`
	Log           []string `json:"log"`
}

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one status to another.
// Staying in the same non-terminal status is allowed so that field updates
// do not need to touch the status.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return !from.IsTerminal()
	}
	switch from {
	case JobStatusQueued:
		// A queued job can be cancelled before it is ever admitted.
		return to == JobStatusRunning || to == JobStatusCancelled
	case JobStatusRunning:
		return to.IsTerminal()
	}
	return false
}

// Clone returns a deep copy safe to hand out of the registry.
func (j *Job) Clone() Job {
	c := *j
	if j.ExtractedFiles != nil {
		c.ExtractedFiles = append([]string(nil), j.ExtractedFiles...)
	}
	if j.ExtractedURLs != nil {
		c.ExtractedURLs = append([]string(nil), j.ExtractedURLs...)
	}
	if j.Log != nil {
		c.Log = append([]string(nil), j.Log...)
	}
	return c
}

// AppendLog adds a timestamped line to the job log.
func (j *Job) AppendLog(at time.Time, msg string) {
	j.Log = append(j.Log, "["+at.UTC().Format(time.RFC3339)+"] "+msg)
}
