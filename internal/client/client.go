// Package client talks to a running voxscribe server the way the upload page
// does, so the CLI sees exactly what a browser would.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"voxscribe/internal/model"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Request mirrors the upload form. Checkbox fields are sent as "on" only when
// set, as a browser does.
type Request struct {
	FilePath           string
	Prompt             string
	Dictionary         string
	PostProcess        bool
	PostProcessPrompt  string
	RequestDiarization bool
	// Model overrides; empty uses the server's configured defaults.
	TranscriptionModel string
	PostProcessModel   string
}

// Response is the raw reply; callers render it with view.Panel.
type Response struct {
	StatusCode int
	Body       []byte
}

// Error is returned by Job for non-2xx replies.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// New builds a client. apiKey is optional and sent as a bearer token.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}
}

func (c *Client) Submit(ctx context.Context, in Request) (Response, error) {
	body, contentType, err := encodeForm(in)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = body.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func (c *Client) Job(ctx context.Context, id string) (model.DiarizationJobResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/diarization/"+url.PathEscape(id), nil)
	if err != nil {
		return model.DiarizationJobResponse{}, fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.DiarizationJobResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr model.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return model.DiarizationJobResponse{}, &Error{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	var out model.DiarizationJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.DiarizationJobResponse{}, fmt.Errorf("decode job: %w", err)
	}
	return out, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// encodeForm streams the multipart body so large recordings are never held
// in memory. The file is opened up front so a bad path fails before any
// request is made.
func encodeForm(in Request) (io.ReadCloser, string, error) {
	fd, err := os.Open(in.FilePath)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", in.FilePath, err)
	}

	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)
	go func() {
		defer func() { _ = fd.Close() }()
		pw.CloseWithError(writeForm(w, in, fd))
	}()
	return pr, w.FormDataContentType(), nil
}

func writeForm(w *multipart.Writer, in Request, audio io.Reader) error {
	fields := [][2]string{
		{"prompt", in.Prompt},
		{"dictionary", in.Dictionary},
		{"post_process_prompt", in.PostProcessPrompt},
	}
	if in.PostProcess {
		fields = append(fields, [2]string{"post_process", "on"})
	}
	if in.RequestDiarization {
		fields = append(fields, [2]string{"request_diarization", "on"})
	}
	if in.TranscriptionModel != "" {
		fields = append(fields, [2]string{"transcription_model", in.TranscriptionModel})
	}
	if in.PostProcessModel != "" {
		fields = append(fields, [2]string{"post_process_model", in.PostProcessModel})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	fw, err := w.CreateFormFile("file", filepath.Base(in.FilePath))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return fmt.Errorf("copy audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	return nil
}
