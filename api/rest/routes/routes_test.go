package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rh-orchestrator/config"
	"rh-orchestrator/core/models"
	"rh-orchestrator/core/repository"
	"rh-orchestrator/core/scheduler"
	"rh-orchestrator/providers/runninghub"
	"rh-orchestrator/storage"
)

const sessionExport = `{"host":"www.runninghub.ai","record":{"name":"main","data":[
	{"type":"localStorage","key":"userInfo","value":"{\"id\":\"u-9\",\"totalCoin\":10}"},
	{"type":"localStorage","key":"Rh-Accesstoken","value":"tok"},
	{"type":"localStorage","key":"Rh-Comfy-Auth","value":"comfy"},
	{"type":"localStorage","key":"Rh-Identify","value":"ident"},
	{"type":"cookie","key":"sid","value":"abc"}
]}}`

type fakeRunner struct {
	mu   sync.Mutex
	jobs map[string]models.Job
	err  error
	last scheduler.SubmitRequest
}

func (f *fakeRunner) Submit(req scheduler.SubmitRequest) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if f.err != nil {
		return models.Job{}, f.err
	}
	job := models.Job{ID: fmt.Sprintf("job-%d", len(f.jobs)+1), Status: models.JobStatusQueued, TemplateID: req.TemplateID}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeRunner) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRunner) lastRequest() scheduler.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeRunner) GetJob(id string) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
}

func (f *fakeRunner) ListJobs() []models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Job{}
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

type apiHarness struct {
	srv         *httptest.Server
	runner      *fakeRunner
	profiles    *repository.ProfileRepository
	downloadDir string
	resourceDir string
}

func newAPIHarness(t *testing.T, platform http.Handler) *apiHarness {
	t.Helper()
	root := t.TempDir()
	store := storage.NewJSONStore()
	dataDir := filepath.Join(root, "data")
	settings, err := config.NewSettingsStore(dataDir, store)
	require.NoError(t, err)

	remote := runninghub.Options{}
	if platform != nil {
		ps := httptest.NewServer(platform)
		t.Cleanup(ps.Close)
		remote.BaseURL = ps.URL
	}

	h := &apiHarness{
		runner:      &fakeRunner{jobs: map[string]models.Job{}},
		profiles:    repository.NewProfileRepository(store, dataDir),
		downloadDir: filepath.Join(root, "downloads"),
		resourceDir: filepath.Join(root, "resource_files"),
	}
	h.srv = httptest.NewServer(NewHandler(Dependencies{
		Jobs:        h.runner,
		Templates:   repository.NewTemplateRepository(store, dataDir),
		Profiles:    h.profiles,
		Resources:   repository.NewResourceRepository(store, dataDir),
		Settings:    settings,
		Remote:      remote,
		DownloadDir: h.downloadDir,
		ResourceDir: h.resourceDir,
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, contentType string, body io.Reader) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func (h *apiHarness) importProfile(t *testing.T) string {
	t.Helper()
	status, body := h.do(t, "POST", "/v1/profiles/import", "application/json", strings.NewReader(sessionExport))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["added"])
	profiles, err := h.profiles.ListProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	return profiles[0].ID
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t, nil)
	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJobEndpoints(t *testing.T) {
	h := newAPIHarness(t, nil)

	status, body := h.do(t, "POST", "/v1/jobs", "application/json",
		strings.NewReader(`{"templateId":"tpl","profileId":"p","payload":"ignored","token":5,"noAuth":true}`))
	require.Equal(t, http.StatusCreated, status)
	job := body["job"].(map[string]interface{})
	assert.Equal(t, "queued", job["status"])
	last := h.runner.lastRequest()
	assert.Nil(t, last.Payload, "non-object payload keeps the template payload")
	assert.Empty(t, last.Token)
	assert.True(t, last.NoAuth)

	status, body = h.do(t, "GET", "/v1/jobs/"+job["id"].(string), "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	status, _ = h.do(t, "GET", "/v1/jobs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(t, "POST", "/v1/jobs", "application/json", strings.NewReader(`not json`))
	assert.Equal(t, http.StatusBadRequest, status)

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("template x: %w", models.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("ids required: %w", models.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("shutting down: %w", models.ErrStopRequested), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h.runner.setErr(tc.err)
		status, body = h.do(t, "POST", "/v1/jobs", "application/json", strings.NewReader(`{}`))
		assert.Equal(t, tc.want, status, tc.err.Error())
		assert.Equal(t, false, body["ok"])
	}
}

func TestTemplateEndpoints(t *testing.T) {
	h := newAPIHarness(t, nil)

	status, body := h.do(t, "POST", "/v1/templates", "application/json",
		strings.NewReader(`{"name":"up","payload":{"webappId":"12"}}`))
	require.Equal(t, http.StatusOK, status)
	tpl := body["template"].(map[string]interface{})
	id := tpl["id"].(string)
	assert.Equal(t, "https://www.runninghub.ai/ai-detail/12", tpl["referer"])

	status, body = h.do(t, "PUT", "/v1/templates/"+id, "application/json", strings.NewReader(`{"name":"renamed"}`))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "renamed", body["template"].(map[string]interface{})["name"])

	status, _ = h.do(t, "PUT", "/v1/templates/nope", "application/json", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusNotFound, status)

	yamlDoc := "templates:\n  - id: y1\n    name: from yaml\n    payload:\n      webappId: \"3\"\n"
	status, body = h.do(t, "POST", "/v1/templates/import", "application/yaml", strings.NewReader(yamlDoc))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 1, body["imported"])

	status, body = h.do(t, "GET", "/v1/templates/export", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["schemaVersion"])
	assert.Len(t, body["templates"], 2)

	status, _ = h.do(t, "DELETE", "/v1/templates/"+id, "", nil)
	assert.Equal(t, http.StatusOK, status)
	_, body = h.do(t, "GET", "/v1/templates", "", nil)
	assert.Len(t, body["templates"], 1)
}

func TestProfileEndpointsAndUserInfo(t *testing.T) {
	platform := http.NewServeMux()
	platform.HandleFunc("/uc/getUserInfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("authorization"))
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "u-9", req["userId"])
		io.WriteString(w, `{"code":0,"data":{"totalCoin":4321,"nickname":"n"}}`)
	})
	h := newAPIHarness(t, platform)
	id := h.importProfile(t)

	_, body := h.do(t, "GET", "/v1/profiles", "", nil)
	profile := body["profiles"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "main", profile["name"])
	assert.Equal(t, "u-9", profile["userId"])
	assert.Equal(t, "10", profile["totalCoin"])

	status, body := h.do(t, "POST", "/v1/profiles/"+id+"/user-info", "", nil)
	require.Equal(t, http.StatusOK, status, "%v", body)
	assert.Equal(t, "4321", body["totalCoin"])
	updated := body["profile"].(map[string]interface{})
	assert.Equal(t, "4321", updated["totalCoin"])
	assert.NotEmpty(t, updated["userInfoUpdatedAt"])

	status, body = h.do(t, "GET", "/v1/profiles/export", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["records"].(map[string]interface{})["www.runninghub.ai"], 1)

	status, _ = h.do(t, "POST", "/v1/profiles/missing/user-info", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(t, "DELETE", "/v1/profiles/"+id, "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestUserInfoRemoteFailureIsBadGateway(t *testing.T) {
	platform := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	h := newAPIHarness(t, platform)
	id := h.importProfile(t)

	status, body := h.do(t, "POST", "/v1/profiles/"+id+"/user-info", "", nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body["error"], "403")
}

func TestResourceUploadKeepsLocalCopy(t *testing.T) {
	platform := http.NewServeMux()
	platform.HandleFunc("/upload/image", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "comfy", r.URL.Query().Get("Rh-Comfy-Auth"))
		assert.Equal(t, "ident", r.Header.Get("rh-identify"))
		assert.True(t, strings.HasSuffix(r.Header.Get("referer"), "/ai-detail/55"))
		f, hdr, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "pixels", string(data))
		assert.Equal(t, "cat.png", hdr.Filename)
		io.WriteString(w, `{"name":"api/abc.png","type":"input"}`)
	})
	h := newAPIHarness(t, platform)
	profileID := h.importProfile(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("profileId", profileID))
	require.NoError(t, mw.WriteField("webappId", "55"))
	fw, err := mw.CreateFormFile("file", "cat.png")
	require.NoError(t, err)
	io.WriteString(fw, "pixels")
	require.NoError(t, mw.Close())

	status, body := h.do(t, "POST", "/v1/resources/upload", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusOK, status, "%v", body)
	res := body["resource"].(map[string]interface{})
	assert.Equal(t, "api/abc.png", res["name"])
	assert.Equal(t, "api_abc.png", res["localPath"])
	assert.Equal(t, "/resource-files/api_abc.png", res["localUrl"])
	assert.EqualValues(t, 6, res["size"])
	assert.Equal(t, "main", res["profileName"])

	resp, err := http.Get(h.srv.URL + "/resource-files/api_abc.png")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pixels", string(data))

	status, _ = h.do(t, "DELETE", "/v1/resources/"+res["id"].(string), "", nil)
	require.Equal(t, http.StatusOK, status)
	_, err = os.Stat(filepath.Join(h.resourceDir, "api_abc.png"))
	assert.True(t, os.IsNotExist(err))

	status, _ = h.do(t, "DELETE", "/v1/resources/unknown", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestResourceUploadRequiresProfile(t *testing.T) {
	h := newAPIHarness(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("profileId", "ghost")
	fw, _ := mw.CreateFormFile("file", "a.txt")
	io.WriteString(fw, "x")
	mw.Close()

	status, _ := h.do(t, "POST", "/v1/resources/upload", mw.FormDataContentType(), &buf)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSettingsEndpoints(t *testing.T) {
	h := newAPIHarness(t, nil)

	_, body := h.do(t, "GET", "/v1/settings", "", nil)
	settings := body["settings"].(map[string]interface{})
	assert.EqualValues(t, 600, settings["jobTimeoutSec"])

	status, body := h.do(t, "PUT", "/v1/settings", "application/json",
		strings.NewReader(`{"jobTimeoutSec":5,"historyIntervalSec":"2.5","requestTimeoutSec":999}`))
	require.Equal(t, http.StatusOK, status)
	settings = body["settings"].(map[string]interface{})
	assert.EqualValues(t, 30, settings["jobTimeoutSec"])
	assert.EqualValues(t, 2.5, settings["historyIntervalSec"])
	assert.EqualValues(t, 120, settings["requestTimeoutSec"])

	status, _ = h.do(t, "PUT", "/v1/settings", "application/json", strings.NewReader(`[1]`))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDownloadsListingAndServing(t *testing.T) {
	h := newAPIHarness(t, nil)

	_, body := h.do(t, "GET", "/v1/downloads", "", nil)
	assert.Empty(t, body["items"])

	nested := filepath.Join(h.downloadDir, "job-1-out")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.downloadDir, "job-1-out.zip"), []byte("zip"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "a.png"), []byte("png!"), 0o644))

	_, body = h.do(t, "GET", "/v1/downloads", "", nil)
	items := body["items"].([]interface{})
	require.Len(t, items, 2)
	urls := []string{}
	for _, it := range items {
		m := it.(map[string]interface{})
		urls = append(urls, m["url"].(string))
		if m["name"] == "a.png" {
			assert.Equal(t, "job-1-out/a.png", m["path"])
			assert.Equal(t, ".png", m["ext"])
			assert.EqualValues(t, 4, m["size"])
			assert.Equal(t, "image/png", m["mime"])
		}
	}
	assert.ElementsMatch(t, []string{"/downloads/job-1-out.zip", "/downloads/job-1-out/a.png"}, urls)

	resp, err := http.Get(h.srv.URL + "/downloads/job-1-out/a.png")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "png!", string(data))
}
