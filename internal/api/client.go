// Package api implements the Download Station client: a session-aware HTTP
// transport plus one typed method per remote operation.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qstation/qstation/internal/config"
	"github.com/qstation/qstation/internal/log"
	"github.com/qstation/qstation/internal/tasks"
)

// retryDelays spaces the torrent-upload fallback attempts so a NAS still
// chewing on the previous attempt is not hammered.
var retryDelays = []time.Duration{0, 200 * time.Millisecond, 400 * time.Millisecond}

// Client talks to one Download Station host. Construct it with NewClient;
// the session id is acquired lazily on the first protected call.
type Client struct {
	settings config.Settings
	baseURL  string
	http     *http.Client
	session  *session
	delays   []time.Duration
	sleep    func(time.Duration)
}

// NewClient validates the settings and builds a client. Configuration
// errors (empty address, malformed port) surface here, before any network
// call.
func NewClient(settings config.Settings) (*Client, error) {
	baseURL, err := settings.BaseURL()
	if err != nil {
		return nil, err
	}

	base := http.DefaultTransport
	sess := &session{
		baseURL:  baseURL,
		login:    settings.Login,
		password: settings.Password,
		client:   &http.Client{Transport: base, Timeout: 30 * time.Second},
	}

	return &Client{
		settings: settings,
		baseURL:  baseURL,
		http: &http.Client{
			Transport: &sessionTransport{base: base, session: sess},
		},
		session: sess,
		delays:  retryDelays,
		sleep:   time.Sleep,
	}, nil
}

// BaseURL returns the scheme://host[:port] prefix this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// TestConnection probes the NAS without authenticating. It never fails:
// transport errors are logged and reported as false.
func (c *Client) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathProbe, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Error("api").Err(err).Msg("NAS connection test failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// SortDirection orders query results.
type SortDirection string

const (
	SortAscending  SortDirection = "ASC"
	SortDescending SortDirection = "DESC"
)

// QueryParams filter and page a task query. Zero values mean the vendor
// defaults: all tasks of every type, sorted by priority descending.
type QueryParams struct {
	Limit     int // 0 means all
	From      *int
	Field     string
	Direction SortDirection
	Status    string
	Type      string
}

// QueryResult carries the raw vendor envelope plus the normalized task list.
type QueryResult struct {
	Raw   *Envelope
	Tasks []tasks.Task
}

// QueryTasks lists the download jobs. Cancelling ctx settles the call with
// a context error rather than a protocol failure.
func (c *Client) QueryTasks(ctx context.Context, params QueryParams) (*QueryResult, error) {
	form := url.Values{}
	form.Set("limit", strconv.Itoa(params.Limit))
	if params.From != nil {
		form.Set("from", strconv.Itoa(*params.From))
	}
	form.Set("field", defaultStr(params.Field, "priority"))
	form.Set("direction", defaultStr(string(params.Direction), string(SortDescending)))
	form.Set("status", defaultStr(params.Status, "all"))
	form.Set("type", defaultStr(params.Type, "all"))

	env, err := c.postForm(ctx, pathTaskQuery, form)
	if err != nil {
		return nil, fmt.Errorf("task query failed: %w", err)
	}
	if !env.OK() {
		return nil, newAPIError("task query failed", env)
	}
	if env.Payload == nil {
		return nil, fmt.Errorf("task query failed: no response data")
	}

	return &QueryResult{
		Raw:   env,
		Tasks: tasks.Normalize(tasks.VendorQNAP, env.Payload),
	}, nil
}

// AddURLOptions override the configured save locations for one AddURL call.
type AddURLOptions struct {
	SavePath   string
	TempFolder string
	MoveFolder string
}

// AddURL submits a download by URL. The save path resolves to the explicit
// option, else the configured destination directory, else the temp directory.
func (c *Client) AddURL(ctx context.Context, taskURL string, opts AddURLOptions) error {
	form := url.Values{}
	form.Set("url", taskURL)
	form.Set("savepath", c.resolveSavePath(opts))
	if opts.TempFolder != "" {
		form.Set("temp", opts.TempFolder)
	}
	if opts.MoveFolder != "" {
		form.Set("move", opts.MoveFolder)
	}

	env, err := c.postForm(ctx, pathTaskAddURL, form)
	if err != nil {
		return fmt.Errorf("add URL failed: %w", err)
	}
	if !env.OK() {
		return newAPIError("add URL failed", env)
	}
	return nil
}

func (c *Client) resolveSavePath(opts AddURLOptions) string {
	switch {
	case opts.SavePath != "":
		return opts.SavePath
	case opts.MoveFolder != "":
		return opts.MoveFolder
	case c.settings.DestDir != "":
		return c.settings.DestDir
	default:
		return "/" + strings.TrimPrefix(c.settings.TempDir, "/")
	}
}

// AddTorrentResult reports the outcome of a torrent upload. Duplicate means
// the NAS already has the job; Unsupported means no upload endpoint on this
// firmware accepted the request.
type AddTorrentResult struct {
	Added       bool
	Duplicate   bool
	Unsupported bool
}

// torrentAttempt is one upload endpoint variant with its field-naming
// convention.
type torrentAttempt struct {
	path   string
	fields []string
}

var torrentAttempts = []torrentAttempt{
	{pathTaskAddTorrent, []string{"bt", "bt_task"}},
	{pathTaskAddTask, []string{"file", "bt", "bt_task"}},
	{pathTaskAddLegacy, []string{"bt", "bt_task"}},
}

// AddTorrent uploads a torrent file, walking the historically-evolved upload
// endpoints in priority order with increasing delays between attempts.
// Success or a duplicate answer stops the chain immediately; an unsupported
// answer moves to the next endpoint. When even the last endpoint is
// unsupported the result is soft (Unsupported: true) since newer firmware
// may simply lack the legacy routes.
func (c *Client) AddTorrent(ctx context.Context, filename string, data []byte) (*AddTorrentResult, error) {
	var lastErr *APIError

	for i, attempt := range torrentAttempts {
		if i < len(c.delays) && c.delays[i] > 0 {
			c.sleep(c.delays[i])
		}

		env, err := c.postTorrent(ctx, attempt, filename, data)
		if err != nil {
			return nil, fmt.Errorf("add torrent failed: %w", err)
		}
		if env.OK() {
			log.Info("api").Str("endpoint", attempt.path).Str("file", filename).
				Msg("torrent uploaded")
			return &AddTorrentResult{Added: true}, nil
		}

		apiErr := newAPIError("add torrent failed", env)
		if apiErr.Duplicate() {
			return &AddTorrentResult{Duplicate: true}, nil
		}
		if apiErr.Unsupported() && i < len(torrentAttempts)-1 {
			log.Debug("api").Str("endpoint", attempt.path).Int("code", apiErr.Code).
				Msg("upload endpoint unsupported, trying next")
			lastErr = apiErr
			continue
		}
		if apiErr.Unsupported() {
			return &AddTorrentResult{Unsupported: true}, nil
		}
		return nil, apiErr
	}

	// Unreachable unless the attempt table is empty.
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("add torrent failed: no upload endpoint available")
}

func (c *Client) postTorrent(ctx context.Context, attempt torrentAttempt, filename string, data []byte) (*Envelope, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("temp", c.settings.TempDir); err != nil {
		return nil, err
	}
	if c.settings.DestDir != "" {
		if err := writer.WriteField("move", c.settings.DestDir); err != nil {
			return nil, err
		}
		if err := writer.WriteField("dest_path", c.settings.DestDir); err != nil {
			return nil, err
		}
	}
	for _, field := range attempt.fields {
		part, err := writer.CreateFormFile(field, filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+attempt.path, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp.Header.Get("Content-Type"), resp.Body), nil
}

// StartTask resumes a stopped or paused job.
func (c *Client) StartTask(ctx context.Context, hash string) error {
	return c.taskAction(ctx, pathTaskStart, "start task failed", hash, nil)
}

// StopTask pauses a running job.
func (c *Client) StopTask(ctx context.Context, hash string) error {
	return c.taskAction(ctx, pathTaskStop, "stop task failed", hash, nil)
}

// RemoveTaskOptions control removal; Clean also deletes the downloaded data.
type RemoveTaskOptions struct {
	Clean *bool
}

// RemoveTask deletes a job from the NAS.
func (c *Client) RemoveTask(ctx context.Context, hash string, opts RemoveTaskOptions) error {
	extra := url.Values{}
	if opts.Clean != nil {
		clean := "0"
		if *opts.Clean {
			clean = "1"
		}
		extra.Set("clean", clean)
	}
	return c.taskAction(ctx, pathTaskRemove, "remove task failed", hash, extra)
}

func (c *Client) taskAction(ctx context.Context, path, op, hash string, extra url.Values) error {
	form := url.Values{}
	form.Set("hash", hash)
	for key, values := range extra {
		for _, v := range values {
			form.Add(key, v)
		}
	}

	env, err := c.postForm(ctx, path, form)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !env.OK() {
		return newAPIError(op, env)
	}
	return nil
}

// postForm posts a URL-encoded body and decodes the vendor envelope. The
// session transport injects the sid on the way out.
func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	if c.settings.Debug {
		log.Debug("api").Str("path", path).Msg("request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp.Header.Get("Content-Type"), resp.Body), nil
}

// IsDuplicate reports whether err is a vendor duplicate-task error.
func IsDuplicate(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Duplicate()
}

// IsUnsupported reports whether err means the endpoint is absent on this
// firmware.
func IsUnsupported(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unsupported()
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
