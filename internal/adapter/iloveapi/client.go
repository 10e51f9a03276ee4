// Package iloveapi wraps the iLoveApi (iLovePDF/iLoveIMG) REST service.
//
// A task runs in three steps against the assigned worker server:
// start, upload (cloud links), process. The processed artifact is
// fetched later by the downloader stage via Download. The service
// reports completion asynchronously through the /iloveapi webhook;
// custom_string carries the job fingerprint and custom_int the
// telegram user id so the webhook can correlate.
package iloveapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fairyhunter13/filetools-bot/internal/adapter/observability"
	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

const tokenLifetime = 2 * time.Hour

// Client talks to the iLoveApi REST endpoints.
type Client struct {
	baseURL    string
	publicKey  string
	secretKey  string
	webhookURL string
	httpc      *http.Client
	now        func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithWebhookURL sets the callback URL sent with every process call.
func WithWebhookURL(u string) Option {
	return func(c *Client) { c.webhookURL = u }
}

// New constructs a Client. When secretKey is non-empty, bearer tokens
// are self-signed locally; otherwise they are requested from the auth
// endpoint.
func New(baseURL, publicKey, secretKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		publicKey: publicKey,
		secretKey: secretKey,
		httpc:     &http.Client{Timeout: 60 * time.Second},
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) bearer(ctx domain.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExp.Add(-time.Minute)) {
		return c.token, nil
	}
	if c.secretKey != "" {
		tok, err := c.selfSign()
		if err != nil {
			return "", err
		}
		c.token = tok
		c.tokenExp = c.now().Add(tokenLifetime)
		return c.token, nil
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v2/auth", "",
		map[string]string{"public_key": c.publicKey}, &resp); err != nil {
		return "", fmt.Errorf("op=iloveapi.auth: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("op=iloveapi.auth: %w: empty token", domain.ErrUpstream)
	}
	c.token = resp.Token
	c.tokenExp = c.now().Add(tokenLifetime)
	return c.token, nil
}

func (c *Client) selfSign() (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"jti": c.publicKey,
		"iss": hostOf(c.baseURL),
		"iat": now.Unix(),
		"exp": now.Add(tokenLifetime).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("op=iloveapi.selfsign: %w", err)
	}
	return tok, nil
}

// Process runs start → upload → process for one submission and returns
// the (server, task_id, files) triple the downloader stage needs.
func (c *Client) Process(ctx domain.Context, req domain.ProcessRequest) (domain.TaskResult, error) {
	started := c.now()
	defer func() { observability.ObserveProcessorRequest("process", c.now().Sub(started)) }()

	if !req.Tool.Valid() {
		return domain.TaskResult{}, fmt.Errorf("op=iloveapi.process: %w: unknown tool %q", domain.ErrInvalidArgument, req.Tool)
	}
	if len(req.FileLinks) == 0 {
		return domain.TaskResult{}, fmt.Errorf("op=iloveapi.process: %w: no files", domain.ErrInvalidArgument)
	}
	tok, err := c.bearer(ctx)
	if err != nil {
		return domain.TaskResult{}, err
	}

	var start struct {
		Server string `json:"server"`
		Task   string `json:"task"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/v2/start/"+string(req.Tool), tok, nil, &start); err != nil {
		return domain.TaskResult{}, fmt.Errorf("op=iloveapi.start: %w", err)
	}
	if start.Server == "" || start.Task == "" {
		return domain.TaskResult{}, fmt.Errorf("op=iloveapi.start: %w: incomplete start response", domain.ErrUpstream)
	}
	serverURL := "https://" + cleanServer(start.Server)

	files := make([]domain.ProcessedFile, 0, len(req.FileLinks))
	for _, link := range req.FileLinks {
		var up struct {
			ServerFilename string `json:"server_filename"`
		}
		body := map[string]string{"task": start.Task, "cloud_file": link}
		if err := c.doJSON(ctx, http.MethodPost, serverURL+"/v2/upload", tok, body, &up); err != nil {
			return domain.TaskResult{}, fmt.Errorf("op=iloveapi.upload: %w", err)
		}
		files = append(files, domain.ProcessedFile{
			ServerFilename: up.ServerFilename,
			Filename:       fileNameOf(link),
		})
	}

	process := map[string]any{
		"task":          start.Task,
		"tool":          string(req.Tool),
		"files":         files,
		"custom_string": req.CustomString,
		"custom_int":    req.CustomInt,
	}
	if c.webhookURL != "" {
		process["webhook"] = c.webhookURL
	}
	for k, v := range req.Options {
		process[k] = v
	}
	var proc struct {
		Status           string `json:"status"`
		DownloadFilename string `json:"download_filename"`
	}
	if err := c.doJSON(ctx, http.MethodPost, serverURL+"/v2/process", tok, process, &proc); err != nil {
		return domain.TaskResult{}, fmt.Errorf("op=iloveapi.process: %w", err)
	}
	slog.Debug("processor task submitted",
		slog.String("tool", string(req.Tool)),
		slog.String("task_id", start.Task),
		slog.String("server", start.Server),
		slog.String("status", proc.Status))

	return domain.TaskResult{Server: start.Server, TaskID: start.Task, Files: files}, nil
}

// Download fetches the processed artifact for (server, taskID). Any
// backslash escapes in the stored server name are stripped first.
func (c *Client) Download(ctx domain.Context, server, taskID string) (domain.Artifact, error) {
	started := c.now()
	defer func() { observability.ObserveProcessorRequest("download", c.now().Sub(started)) }()

	if server == "" || taskID == "" {
		return domain.Artifact{}, fmt.Errorf("op=iloveapi.download: %w: server and task id required", domain.ErrInvalidArgument)
	}
	tok, err := c.bearer(ctx)
	if err != nil {
		return domain.Artifact{}, err
	}

	u := "https://" + cleanServer(server) + "/v2/download/" + url.PathEscape(taskID)
	var (
		data     []byte
		filename string
	)
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: download status %d", domain.ErrUpstream, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("%w: download status %d", domain.ErrUpstream, resp.StatusCode))
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		filename = dispositionFilename(resp.Header.Get("Content-Disposition"))
		return nil
	}
	if err := backoff.Retry(op, c.newBackoff(ctx)); err != nil {
		return domain.Artifact{}, fmt.Errorf("op=iloveapi.download: %w", err)
	}
	if filename == "" {
		filename = taskID + mimetype.Detect(data).Extension()
	}
	return domain.Artifact{Filename: filename, Data: data}, nil
}

func (c *Client) doJSON(ctx domain.Context, method, u, token string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	op := func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d: %s", domain.ErrUpstream, resp.StatusCode, truncate(b, 200))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("%w: status %d: %s", domain.ErrUpstream, resp.StatusCode, truncate(b, 200)))
		}
		if out != nil {
			if err := json.Unmarshal(b, out); err != nil {
				return backoff.Permanent(fmt.Errorf("%w: bad response body: %v", domain.ErrUpstream, err))
			}
		}
		return nil
	}
	return backoff.Retry(op, c.newBackoff(ctx))
}

func (c *Client) newBackoff(ctx domain.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)
}

// cleanServer strips backslash escapes sometimes present in stored
// server names (e.g. "api8g.iloveimg.com" stored as "api8g\\.iloveimg\\.com").
func cleanServer(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), `\`, "")
}

func hostOf(base string) string {
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		return u.Host
	}
	return base
}

func fileNameOf(link string) string {
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		if n := path.Base(u.Path); n != "." && n != "/" {
			return n
		}
	}
	return "file"
}

func dispositionFilename(cd string) string {
	if cd == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(cd); err == nil {
		return params["filename"]
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
