package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionExport = `{"host":"www.runninghub.ai","record":{"data":[
	{"type":"localStorage","key":"Rh-Accesstoken","value":"abcdef0123456789xyz"},
	{"type":"cookie","key":"sid","value":"s1"}]}}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", redact(""))
	assert.Equal(t, "******", redact("abcdef"))
	assert.Equal(t, "abcdef...uvwxyz", redact("abcdefghijklmnopqrstuvwxyz"))
}

func TestLoadPayload(t *testing.T) {
	dir := t.TempDir()

	obj, err := loadPayload(writeFile(t, dir, "a.json", `{"webappId":"7"}`))
	require.NoError(t, err)
	assert.Equal(t, "7", obj["webappId"])

	obj, err = loadPayload(writeFile(t, dir, "b.json", `"{\"webappId\":8}"`))
	require.NoError(t, err)
	assert.Equal(t, float64(8), obj["webappId"])

	_, err = loadPayload(writeFile(t, dir, "c.json", `[1,2]`))
	assert.Error(t, err)

	_, err = loadPayload(writeFile(t, dir, "d.json", `"not json"`))
	assert.Error(t, err)
}

func TestRunRequiresPayload(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), nil, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "--payload is required")
}

func TestRunDryRunSendsNothing(t *testing.T) {
	t.Setenv("RH_ACCESS_TOKEN", "")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	dir := t.TempDir()
	args := []string{
		"--cookies", writeFile(t, dir, "cookies.json", sessionExport),
		"--payload", writeFile(t, dir, "payload.json", `{"webappId":"42"}`),
		"--base-url", srv.URL,
		"--dry-run",
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	assert.Zero(t, hits.Load())
	out := stdout.String()
	assert.Contains(t, out, "auth=yes token=abcdef...789xyz")
	assert.Contains(t, out, "cookies=1 localStorage=1")
	assert.Contains(t, out, "referer="+srv.URL+"/ai-detail/42")
	assert.Contains(t, out, "dry-run")
}

func TestRunCreatesPollsAndDownloads(t *testing.T) {
	var srv *httptest.Server
	var mu sync.Mutex
	var gotAuth string
	polls := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/task/webapp/create":
			mu.Lock()
			gotAuth = r.Header.Get("Authorization")
			mu.Unlock()
			w.Write([]byte(`{"code":0,"data":{"taskId":"t-9"}}`))
		case "/api/output/v2/history":
			mu.Lock()
			polls++
			status := "RUNNING"
			if polls > 1 {
				status = "SUCCESS"
			}
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{{
					"taskId": "t-9", "taskStatus": status,
					"fileUrl": srv.URL + "/files/result.png", "outputName": "result.png",
				}},
			})
		case "/files/result.png":
			w.Write([]byte("png-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	outDir := filepath.Join(dir, "dl")
	respPath := filepath.Join(dir, "resp.json")
	args := []string{
		"--cookies", writeFile(t, dir, "cookies.json", sessionExport),
		"--payload", writeFile(t, dir, "payload.json", `{"webappId":"42"}`),
		"--base-url", srv.URL,
		"--token", "override-token",
		"--history-interval", "0.01",
		"--history-timeout", "5",
		"--history-pages", "1",
		"--download-dir", outDir,
		"--out", respPath,
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	mu.Lock()
	assert.Equal(t, "Bearer override-token", gotAuth)
	mu.Unlock()
	assert.Contains(t, stdout.String(), "create ok: taskId=t-9")

	data, err := os.ReadFile(filepath.Join(outDir, "result.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	resp, err := os.ReadFile(respPath)
	require.NoError(t, err)
	assert.Contains(t, string(resp), `"taskId": "t-9"`)
}
