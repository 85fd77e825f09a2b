// Command rhcreate submits one create request from a browser-session export
// and a payload file, then optionally waits for the task and downloads its
// output.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"rh-orchestrator/core/credentials"
	"rh-orchestrator/core/importer"
	"rh-orchestrator/providers/runninghub"
)

type options struct {
	cookies         string
	payload         string
	baseURL         string
	referer         string
	token           string
	noAuth          bool
	timeout         float64
	out             string
	noHistory       bool
	historyInterval float64
	historyTimeout  float64
	historyPages    int
	historySize     int
	noDownload      bool
	downloadDir     string
	overwrite       bool
	dryRun          bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("rhcreate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.cookies, "cookies", "cookies.txt", "session export JSON")
	fs.StringVar(&o.payload, "payload", "", "create payload JSON file (object)")
	fs.StringVar(&o.baseURL, "base-url", runninghub.DefaultBaseURL, "platform origin")
	fs.StringVar(&o.referer, "referer", "", "override Referer header (default: derived from payload webappId)")
	fs.StringVar(&o.token, "token", "", "override bearer token")
	fs.BoolVar(&o.noAuth, "no-auth", false, "do not send Authorization even if a token is available")
	fs.Float64Var(&o.timeout, "timeout", 25, "per-request timeout in seconds")
	fs.StringVar(&o.out, "out", "", "write the create response to this file")
	fs.BoolVar(&o.noHistory, "no-history", false, "do not poll history after create")
	fs.Float64Var(&o.historyInterval, "history-interval", 3, "poll interval in seconds")
	fs.Float64Var(&o.historyTimeout, "history-timeout", 600, "max wait in seconds")
	fs.IntVar(&o.historyPages, "history-pages", runninghub.DefaultHistoryPages, "pages to scan per poll")
	fs.IntVar(&o.historySize, "history-size", runninghub.DefaultHistoryPageSize, "history page size")
	fs.BoolVar(&o.noDownload, "no-download", false, "do not download the output file")
	fs.StringVar(&o.downloadDir, "download-dir", "downloads", "output download dir")
	fs.BoolVar(&o.overwrite, "overwrite", false, "overwrite an existing downloaded file")
	fs.BoolVar(&o.dryRun, "dry-run", false, "print the request summary but do not send")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.payload == "" {
		return o, errors.New("--payload is required")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "rhcreate:", err)
		return 2
	}
	if err := execute(ctx, o, stdout); err != nil {
		fmt.Fprintln(stderr, "rhcreate:", err)
		return 1
	}
	return 0
}

func execute(ctx context.Context, o options, stdout io.Writer) error {
	logf := func(format string, a ...interface{}) {
		fmt.Fprintf(stdout, "[rhcreate] "+format+"\n", a...)
	}

	bundle, err := loadSession(o.cookies)
	if err != nil {
		return err
	}
	payload, err := loadPayload(o.payload)
	if err != nil {
		return err
	}

	token := strings.TrimSpace(o.token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("RH_ACCESS_TOKEN"))
	}
	if token == "" {
		token = bundle.AccessToken()
	}
	if o.noAuth {
		token = ""
	}

	requestTimeout := seconds(o.timeout)
	client, report, err := runninghub.New(runninghub.Options{
		BaseURL:         o.baseURL,
		RequestTimeout:  requestTimeout,
		HistoryPages:    o.historyPages,
		HistoryPageSize: o.historySize,
	}, &bundle)
	if err != nil {
		return err
	}
	referer := strings.TrimSpace(o.referer)
	if referer == "" {
		referer = client.Referer(payload)
	}

	logf("host=%s", bundle.Host)
	logf("origin=%s", client.Origin())
	logf("referer=%s", referer)
	logf("auth=%s token=%s", yesNo(token != ""), redact(token))
	logf("cookies=%d localStorage=%d", len(bundle.Cookies), len(bundle.LocalStorage))
	if report.Degraded() {
		logf("cookies rejected: %s", strings.Join(report.Rejected, ", "))
	}
	logf("payload.webappId=%v", payload["webappId"])

	if o.dryRun {
		logf("dry-run: not sending request")
		return nil
	}

	created, err := client.CreateJob(ctx, payload, token, referer)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	logf("create ok: taskId=%s", created.TaskID)
	if o.out != "" {
		if err := writeResponse(o.out, created.Raw); err != nil {
			return err
		}
		logf("wrote response to %s", o.out)
	}
	if o.noHistory {
		return nil
	}

	hit, err := waitForTask(ctx, client, token, referer, created.TaskID, seconds(o.historyInterval), seconds(o.historyTimeout), logf)
	if err != nil {
		return err
	}
	if !runninghub.IsSuccess(hit.Status) || hit.FileURL == "" || o.noDownload {
		return nil
	}

	name := strings.TrimSpace(hit.OutputName)
	if name == "" {
		name = runninghub.DefaultNameFromURL(hit.FileURL)
	}
	path, err := client.DownloadArtifact(ctx, hit.FileURL, o.downloadDir, name, o.overwrite)
	if err != nil {
		logf("download failed: %v", err)
		return nil
	}
	logf("downloaded: %s", path)
	return nil
}

// waitForTask polls history until the task reaches a terminal status.
func waitForTask(ctx context.Context, client *runninghub.Client, token, referer, taskID string,
	interval, limit time.Duration, logf func(string, ...interface{})) (*runninghub.TaskSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	var hit *runninghub.TaskSummary
	last := ""
	err := retry.Do(ctx, retry.NewConstant(interval), func(ctx context.Context) error {
		summary, err := client.FindTask(ctx, token, referer, taskID)
		if err != nil {
			return err
		}
		if summary == nil {
			return retry.RetryableError(errors.New("task not listed yet"))
		}
		if summary.Status != last {
			last = summary.Status
			logf("history: status=%q fileUrl=%s", summary.Status, yesNo(summary.FileURL != ""))
		}
		if !runninghub.IsTerminal(summary.Status) {
			return retry.RetryableError(errors.New("task not finished"))
		}
		hit = summary
		return nil
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("history: timeout after %s (last status %q)", limit, last)
		}
		return nil, err
	}
	return hit, nil
}

// loadSession reads a single-session export: {host, record:{data:[...]}}.
func loadSession(path string) (credentials.Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return credentials.Bundle{}, err
	}
	records, err := importer.ParseProfiles(data)
	if err != nil {
		return credentials.Bundle{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(records) == 0 {
		return credentials.Bundle{}, fmt.Errorf("%s: no session record found", path)
	}
	raw, err := json.Marshal(records[0].Record)
	if err != nil {
		return credentials.Bundle{}, err
	}
	return credentials.Resolve(records[0].Host, raw)
}

// loadPayload accepts a JSON object, or a JSON string holding one.
func loadPayload(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	if s, isString := raw.(string); isString {
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return nil, fmt.Errorf("payload is a string but not valid JSON: %w", err)
		}
	}
	obj, isObject := raw.(map[string]interface{})
	if !isObject {
		return nil, errors.New("payload must be a JSON object")
	}
	return obj, nil
}

func writeResponse(path string, raw json.RawMessage) error {
	var v interface{}
	out := []byte(raw)
	if err := json.Unmarshal(raw, &v); err == nil {
		if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
			out = pretty
		}
	}
	return os.WriteFile(path, out, 0o644)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func redact(v string) string {
	const keep = 6
	if len(v) <= keep {
		return strings.Repeat("*", len(v))
	}
	return v[:keep] + "..." + v[len(v)-keep:]
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
