// Package client talks to the app generator API: submitting jobs, reading
// snapshots, downloading packages and following progress.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 64 << 10
)

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. http://localhost:8080.
	BaseURL string
	// HTTPClient is used for every request except downloads, which take the
	// client's transport without its timeout. Defaults to a 30s client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a thin API client.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", base.Scheme)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{base: base, http: hc, logger: logger.With("component", "client")}, nil
}

// APIError is a non-2xx reply. It unwraps to an AppError carrying the
// server's error code, so the apperrors helpers work on it.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Field      string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%d): %s [field %s]", e.Code, e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return &apperrors.AppError{Code: apperrors.ErrorCode(e.Code), Message: e.Message, Field: e.Field}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: "http_" + strconv.Itoa(resp.StatusCode)}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
		apiErr.Field = body.Field
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// endpoint joins escaped path segments onto the base URL.
func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := c.base.JoinPath(segments...)
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) doJSON(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Submit sends a generation request and returns the new job id.
func (c *Client) Submit(ctx context.Context, req model.SubmitRequest) (string, error) {
	var out model.SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(nil, "api", "jobs"), req, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", errors.New("server accepted the request without a job id")
	}
	return out.JobID, nil
}

// Snapshot fetches the current Job Record.
func (c *Client) Snapshot(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint(nil, "api", "jobs", url.PathEscape(id)), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// List fetches a page of jobs, newest first.
func (c *Client) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	var out struct {
		Jobs []*model.Job `json:"jobs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint(q, "api", "jobs"), nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Download copies a job's package for platform into w. An empty platform
// selects the only package of a single-platform job.
func (c *Client) Download(ctx context.Context, id string, platform model.Platform, w io.Writer) (int64, error) {
	q := url.Values{}
	if platform != "" {
		q.Set("platform", string(platform))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(q, "api", "jobs", url.PathEscape(id), "artifact"), nil)
	if err != nil {
		return 0, err
	}

	// Packages can be large; rely on ctx rather than the request timeout.
	hc := &http.Client{Transport: c.http.Transport, CheckRedirect: c.http.CheckRedirect, Jar: c.http.Jar}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, decodeAPIError(resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", id, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, fmt.Errorf("download %s: got %d of %d bytes", id, n, resp.ContentLength)
	}
	return n, nil
}

// ProgressURL is the websocket URL of a job's progress stream.
func (c *Client) ProgressURL(id string) string {
	u := c.base.JoinPath("api", "jobs", url.PathEscape(id), "progress")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.RawQuery = ""
	return u.String()
}
