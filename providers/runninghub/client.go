// Package runninghub talks to the RunningHub web platform with a replayed
// browser session: job creation, history polling, user info, resource upload
// and artifact download.
package runninghub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"

	"rh-orchestrator/core/credentials"
	"rh-orchestrator/core/models"
)

const (
	DefaultBaseURL         = "https://www.runninghub.ai"
	DefaultRequestTimeout  = 25 * time.Second
	DefaultHistoryPages    = 3
	DefaultHistoryPageSize = 20

	createPath   = "/task/webapp/create"
	historyPath  = "/api/output/v2/history"
	userInfoPath = "/uc/getUserInfo"
	uploadPath   = "/upload/image"

	uploadTimeout   = 60 * time.Second
	maxResponseSize = 8 << 20
	errorBodyLimit  = 300
)

// Options configures a Client. Zero values select the defaults above.
type Options struct {
	BaseURL         string
	RequestTimeout  time.Duration
	HistoryPages    int
	HistoryPageSize int
	Transport       http.RoundTripper
	// Observe, when set, is called once per remote request with its outcome.
	Observe func(ctx context.Context, op string, err error)
}

// CookieReport lists which session cookies made it into the jar.
type CookieReport struct {
	Installed []string
	Rejected  []string
}

// Degraded reports whether any cookie could not be installed.
func (r CookieReport) Degraded() bool {
	return len(r.Rejected) > 0
}

// Client is a RunningHub client bound to one credential bundle. It owns its
// cookie jar; the transport may be shared.
type Client struct {
	base            *url.URL
	origin          string
	http            *http.Client
	requestTimeout  time.Duration
	historyPages    int
	historyPageSize int
	observe         func(ctx context.Context, op string, err error)
}

// NewTransport returns an instrumented transport whose connection pool can
// be shared between clients.
func NewTransport(responseHeaderTimeout time.Duration) http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = responseHeaderTimeout
	return otelhttp.NewTransport(t)
}

// New creates a client and installs the bundle's cookies. bundle may be nil
// for unauthenticated use.
func New(opts Options, bundle *credentials.Bundle) (*Client, CookieReport, error) {
	var report CookieReport

	rawBase := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if rawBase == "" {
		rawBase = DefaultBaseURL
	}
	base, err := url.Parse(rawBase)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, report, fmt.Errorf("invalid base url %q", rawBase)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, report, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := opts.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	c := &Client{
		base:            base,
		origin:          base.Scheme + "://" + base.Host,
		http:            &http.Client{Jar: jar, Transport: transport},
		requestTimeout:  opts.RequestTimeout,
		historyPages:    opts.HistoryPages,
		historyPageSize: opts.HistoryPageSize,
		observe:         opts.Observe,
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.historyPages <= 0 {
		c.historyPages = DefaultHistoryPages
	}
	if c.historyPageSize <= 0 {
		c.historyPageSize = DefaultHistoryPageSize
	}

	if bundle != nil {
		report = installCookies(jar, base, bundle.Cookies)
	}
	return c, report, nil
}

// installCookies sets every cookie host-only for the base host and, for
// named hosts, once more for the registrable parent domain. The session
// export does not keep cookie domains, so both scopes are needed.
func installCookies(jar http.CookieJar, base *url.URL, cookies map[string]string) CookieReport {
	var report CookieReport

	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	domain := cookieDomain(base.Hostname())
	var hostOnly, shared []*http.Cookie
	for _, name := range names {
		c := &http.Cookie{Name: name, Value: cookies[name], Path: "/"}
		if err := c.Valid(); err != nil {
			report.Rejected = append(report.Rejected, name)
			continue
		}
		hostOnly = append(hostOnly, c)
		if domain != "" {
			shared = append(shared, &http.Cookie{Name: name, Value: cookies[name], Path: "/", Domain: domain})
		}
		report.Installed = append(report.Installed, name)
	}
	jar.SetCookies(base, hostOnly)
	if len(shared) > 0 {
		jar.SetCookies(base, shared)
	}
	return report
}

func cookieDomain(host string) string {
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil || etld1 == host {
		return ""
	}
	return etld1
}

// Origin returns the scheme and host requests are sent to.
func (c *Client) Origin() string {
	return c.origin
}

// Referer builds the default referer for payload against this client's origin.
func (c *Client) Referer(payload map[string]interface{}) string {
	return BuildReferer(c.origin, payload)
}

func (c *Client) setHeaders(req *http.Request, token, referer string) {
	if referer == "" {
		referer = c.origin + "/"
	}
	req.Header.Set("accept", "application/json, text/plain, */*")
	req.Header.Set("accept-language", "zh-CN,zh;q=0.9")
	req.Header.Set("content-type", "application/json")
	req.Header.Set("origin", c.origin)
	req.Header.Set("referer", referer)
	req.Header.Set("user-language", "zh_CN")
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}
}

func (c *Client) endpoint(p string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + p
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) record(ctx context.Context, op string, err error) {
	if c.observe != nil {
		c.observe(ctx, op, err)
	}
}

// send executes req and returns the body of a 2xx response. Failures caused
// by ctx are returned as ctx errors so callers can tell them apart from
// remote failures.
func (c *Client) send(ctx context.Context, op string, req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, context.Cause(ctx))
		}
		return nil, 0, &models.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, resp.StatusCode, fmt.Errorf("%s: %w", op, context.Cause(ctx))
		}
		return nil, resp.StatusCode, &models.RemoteError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &models.RemoteError{Op: op, StatusCode: resp.StatusCode, Body: truncate(body)}
	}
	return body, resp.StatusCode, nil
}

func (c *Client) postJSON(ctx context.Context, op, p, token, referer string, payload interface{}) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, context.Cause(ctx))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: encode request: %w", op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint(p, nil), bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	c.setHeaders(req, token, referer)

	body, status, err := c.send(ctx, op, req)
	c.record(ctx, op, err)
	return body, status, err
}

// CreateJob submits payload and returns the remote task id. A response
// without a task id is a RemoteError.
func (c *Client) CreateJob(ctx context.Context, payload map[string]interface{}, token, referer string) (CreateResult, error) {
	if referer == "" {
		referer = c.Referer(payload)
	}
	body, status, err := c.postJSON(ctx, "create", createPath, token, referer, payload)
	if err != nil {
		return CreateResult{}, err
	}
	res := CreateResult{Raw: json.RawMessage(body)}
	id, err := extractTaskID(body)
	if err != nil {
		return res, &models.RemoteError{Op: "create", StatusCode: status, Body: truncate(body), Err: err}
	}
	if id == "" {
		return res, &models.RemoteError{Op: "create", StatusCode: status, Body: truncate(body), Err: errors.New("response carries no task id")}
	}
	res.TaskID = id
	return res, nil
}

// FetchHistoryPage fetches one page of the account's task history.
func (c *Client) FetchHistoryPage(ctx context.Context, token, referer string, page, size int) (HistoryPage, error) {
	reqBody := historyRequest{
		Size:     size,
		Current:  page,
		TaskType: []string{"WORKFLOW", "WEBAPP"},
		FromID:   "",
	}
	body, status, err := c.postJSON(ctx, "history", historyPath, token, referer, reqBody)
	if err != nil {
		return HistoryPage{Page: page}, err
	}
	items, err := parseHistory(body)
	if err != nil {
		return HistoryPage{Page: page}, &models.RemoteError{Op: "history", StatusCode: status, Body: truncate(body), Err: err}
	}
	return HistoryPage{Page: page, Items: items}, nil
}

// FindTask scans the first history pages for taskID. Pages that fail are
// skipped; a task that is not listed yet returns nil, nil. Only context
// errors are returned.
func (c *Client) FindTask(ctx context.Context, token, referer, taskID string) (*TaskSummary, error) {
	for page := 1; page <= c.historyPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, context.Cause(ctx)
		}
		hp, err := c.FetchHistoryPage(ctx, token, referer, page, c.historyPageSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			continue
		}
		for i := range hp.Items {
			if hp.Items[i].TaskID == taskID {
				hit := hp.Items[i]
				return &hit, nil
			}
		}
	}
	return nil, nil
}

// FetchUserInfo returns the account info for userID, including its coin
// balance.
func (c *Client) FetchUserInfo(ctx context.Context, token, userID string) (UserInfo, error) {
	body, status, err := c.postJSON(ctx, "user_info", userInfoPath, token, "", map[string]string{"userId": userID})
	if err != nil {
		return UserInfo{}, err
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return UserInfo{}, &models.RemoteError{Op: "user_info", StatusCode: status, Body: truncate(body), Err: err}
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return UserInfo{}, &models.RemoteError{Op: "user_info", StatusCode: status, Body: truncate(body), Err: errors.New("response has no data object")}
	}

	info := UserInfo{}
	var fields userInfoData
	if err := json.Unmarshal(data, &fields); err == nil {
		info.TotalCoin = string(fields.TotalCoin)
	}
	_ = json.Unmarshal(data, &info.Data)
	return info, nil
}

// UploadResource posts a file to the upload endpoint as multipart field
// "image" and returns the remote name it was stored under.
func (c *Client) UploadResource(ctx context.Context, auth UploadAuth, filename, contentType string, r io.Reader) (UploadResult, error) {
	const op = "upload"
	if auth.ComfyAuth == "" || auth.Identify == "" {
		return UploadResult{}, &models.AuthError{Reason: "missing Rh-Comfy-Auth or Rh-Identify in session local storage"}
	}
	if filename == "" {
		filename = "file.bin"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return UploadResult{}, fmt.Errorf("%s: read file: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("%s: %w", op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	query := url.Values{}
	query.Set("Rh-Comfy-Auth", auth.ComfyAuth)
	query.Set("Rh-Identify", auth.Identify)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint(uploadPath, query), &buf)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%s: %w", op, err)
	}
	c.setHeaders(req, auth.Token, auth.Referer)
	req.Header.Set("content-type", mw.FormDataContentType())
	req.Header.Set("rh-comfy-auth", auth.ComfyAuth)
	req.Header.Set("rh-identify", auth.Identify)

	body, status, err := c.send(ctx, op, req)
	c.record(ctx, op, err)
	if err != nil {
		return UploadResult{}, err
	}

	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return UploadResult{}, &models.RemoteError{Op: op, StatusCode: status, Body: truncate(body), Err: err}
	}
	name, _ := out["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return UploadResult{}, &models.RemoteError{Op: op, StatusCode: status, Body: truncate(body), Err: errors.New("response missing name")}
	}
	return UploadResult{Name: name, Response: out}, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > errorBodyLimit {
		s = s[:errorBodyLimit]
	}
	return s
}
