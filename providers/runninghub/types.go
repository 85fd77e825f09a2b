package runninghub

import (
	"bytes"
	"encoding/json"
	"net/url"
	"path"
	"strings"
)

// flexString accepts a JSON string or number. Other JSON kinds decode to "".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*f = ""
	if len(b) == 0 {
		return nil
	}
	switch {
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		*f = flexString(b)
	}
	return nil
}

func firstOf(vals ...flexString) string {
	for _, v := range vals {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

// CreateResult is the outcome of a job-creation request.
type CreateResult struct {
	TaskID string
	Raw    json.RawMessage
}

type createIDs struct {
	TaskID      flexString `json:"taskId"`
	TaskIDSnake flexString `json:"task_id"`
}

type createEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// extractTaskID looks for the task id under data first and falls back to
// the top level only when data is not an object.
func extractTaskID(body []byte) (string, error) {
	var env createEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", err
	}
	data := bytes.TrimSpace(env.Data)
	src := body
	if len(data) > 0 && data[0] == '{' {
		src = data
	}
	var ids createIDs
	if err := json.Unmarshal(src, &ids); err != nil {
		return "", err
	}
	return firstOf(ids.TaskID, ids.TaskIDSnake), nil
}

// TaskSummary is one entry of the history listing.
type TaskSummary struct {
	TaskID     string `json:"taskId"`
	Status     string `json:"status"`
	FileURL    string `json:"fileUrl"`
	OutputName string `json:"outputName"`
}

// HistoryPage is one decoded page of the history listing.
type HistoryPage struct {
	Page  int
	Items []TaskSummary
}

type historyItem struct {
	TaskID          flexString `json:"taskId"`
	TaskIDSnake     flexString `json:"task_id"`
	TaskStatus      flexString `json:"taskStatus"`
	Status          flexString `json:"status"`
	FileURL         flexString `json:"fileUrl"`
	FileURLSnake    flexString `json:"file_url"`
	OutputName      flexString `json:"outputName"`
	OutputNameSnake flexString `json:"output_name"`
}

type historyEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type historyRequest struct {
	Size     int      `json:"size"`
	Current  int      `json:"current"`
	TaskType []string `json:"taskType"`
	FromID   string   `json:"fromId"`
}

// parseHistory decodes a history response. A data field that is not a list
// yields an empty page; entries that are not objects are skipped.
func parseHistory(body []byte) ([]TaskSummary, error) {
	var env historyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '[' {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	items := make([]TaskSummary, 0, len(raw))
	for _, r := range raw {
		var it historyItem
		if err := json.Unmarshal(r, &it); err != nil {
			continue
		}
		items = append(items, TaskSummary{
			TaskID:     firstOf(it.TaskID, it.TaskIDSnake),
			Status:     firstOf(it.TaskStatus, it.Status),
			FileURL:    firstOf(it.FileURL, it.FileURLSnake),
			OutputName: firstOf(it.OutputName, it.OutputNameSnake),
		})
	}
	return items, nil
}

// UserInfo is the decoded /uc/getUserInfo response.
type UserInfo struct {
	TotalCoin string
	Data      map[string]interface{}
}

type userInfoData struct {
	TotalCoin flexString `json:"totalCoin"`
}

// UploadAuth carries the per-account values the upload endpoint checks in
// addition to cookies.
type UploadAuth struct {
	Token     string
	ComfyAuth string
	Identify  string
	Referer   string
}

// UploadResult is the decoded upload response. Name is the remote file name
// used to reference the resource in payloads.
type UploadResult struct {
	Name     string
	Response map[string]interface{}
}

var pendingStatuses = map[string]bool{
	"RUNNING":    true,
	"PENDING":    true,
	"QUEUED":     true,
	"WAITING":    true,
	"PROCESSING": true,
}

// IsTerminal reports whether a remote status means the task will not change
// any more. Unknown non-empty statuses count as terminal.
func IsTerminal(status string) bool {
	s := strings.ToUpper(strings.TrimSpace(status))
	return s != "" && !pendingStatuses[s]
}

// IsSuccess reports whether a remote status is SUCCESS.
func IsSuccess(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "SUCCESS")
}

// BuildReferer returns the page a browser would submit the payload from.
func BuildReferer(origin string, payload map[string]interface{}) string {
	origin = strings.TrimRight(origin, "/")
	if id, ok := payload["webappId"].(string); ok && strings.TrimSpace(id) != "" {
		return origin + "/ai-detail/" + strings.TrimSpace(id)
	}
	return origin + "/"
}

const unsafeFilenameChars = "<>:\"/\\|?*\x00"

// SafeFilename replaces characters that are invalid on common filesystems
// and trims leading and trailing spaces and dots.
func SafeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(unsafeFilenameChars, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	out := strings.Trim(strings.TrimSpace(b.String()), ".")
	if out == "" {
		return "output.bin"
	}
	return out
}

// DefaultNameFromURL derives a filename from the last path segment of rawURL.
func DefaultNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "output.bin"
	}
	p := u.EscapedPath()
	base := path.Base(p)
	if strings.HasSuffix(p, "/") || base == "." || base == "/" {
		return "output.bin"
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return SafeFilename(base)
}
