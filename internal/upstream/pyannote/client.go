// Package pyannote talks to the pyannote.ai diarization API: temporary media
// storage via pre-signed URLs and asynchronous diarization jobs.
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var ErrNotConfigured = errors.New("pyannote API key not configured")

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	observer   ObserverFunc
	newBackOff func() backoff.BackOff
}

type Error struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("pyannote %s failed with status %d", e.Op, e.StatusCode)
}

type DiarizeRequest struct {
	URL     string `json:"url"`
	Webhook string `json:"webhook,omitempty"`
}

type Job struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithBackOff replaces the retry policy used for JSON API calls.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = factory
	}
}

func New(baseURL, apiKey string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 20 * time.Second
	return backoff.WithMaxRetries(bo, 3)
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// UploadFile stores a local file in pyannote's temporary media storage and
// returns the media:// URL to reference it in a job.
func (c *Client) UploadFile(ctx context.Context, path, ext string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	mediaURL := fmt.Sprintf("media://%s/conversation.%s", uuid.NewString(), ext)

	putURL, err := c.CreateMediaURL(ctx, mediaURL)
	if err != nil {
		return "", fmt.Errorf("get pre-signed url: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	if err := c.UploadMedia(ctx, putURL, f, info.Size(), contentType(filepath.Ext(path))); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	return mediaURL, nil
}

// CreateMediaURL asks pyannote for a pre-signed PUT URL for mediaURL.
func (c *Client) CreateMediaURL(ctx context.Context, mediaURL string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.postJSON(ctx, "pyannote_media", "/media/input", map[string]string{"url": mediaURL}, &out, retryable); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", errors.New("pyannote returned no pre-signed PUT URL")
	}
	return out.URL, nil
}

func (c *Client) UploadMedia(ctx context.Context, putURL string, body io.Reader, size int64, contentType string) error {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("pyannote_upload", statusCode, time.Since(started)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: "upload", StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) Diarize(ctx context.Context, in DiarizeRequest) (Job, error) {
	// A transport error may arrive after pyannote has created the job, so
	// only explicit rejections are retried here.
	var job Job
	if err := c.postJSON(ctx, "pyannote_diarize", "/diarize", in, &job, rejectedRetryable); err != nil {
		return Job{}, err
	}
	if job.Status == "" {
		job.Status = "unknown"
	}
	return job, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint, path string, payload, out any, canRetry func(error) bool) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	op := func() error {
		err := c.doJSON(ctx, endpoint, path, body, out)
		if err != nil && !canRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx))
}

func (c *Client) doJSON(ctx context.Context, endpoint, path string, body []byte, out any) error {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe(endpoint, statusCode, time.Since(started)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: strings.TrimPrefix(path, "/"), StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

// rejectedRetryable retries only responses pyannote answered with 429 or 5xx.
func rejectedRetryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return retryable(err)
	}
	return false
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

var audioContentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".mpeg": "audio/mpeg",
	".mpga": "audio/mpeg",
	".mp4":  "audio/mp4",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".webm": "audio/webm",
}

func contentType(ext string) string {
	ext = strings.ToLower(ext)
	if ct, ok := audioContentTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

func readErrorBody(r io.Reader) string {
	const maxErr = 4096
	body, _ := io.ReadAll(io.LimitReader(r, maxErr))
	return strings.TrimSpace(string(body))
}
