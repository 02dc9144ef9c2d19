package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"voxscribe/internal/config"
	"voxscribe/internal/diarization"
	"voxscribe/internal/jobstore"
	"voxscribe/internal/model"
	"voxscribe/internal/pipeline"
	"voxscribe/internal/upload"
	"voxscribe/internal/upstream/openai"
)

type stubPipeline struct {
	result   pipeline.ProcessResult
	err      error
	input    pipeline.ProcessInput
	fileBody string
	calls    int
}

func (s *stubPipeline) Process(_ context.Context, in pipeline.ProcessInput) (pipeline.ProcessResult, error) {
	s.calls++
	s.input = in
	body, _ := io.ReadAll(in.File)
	s.fileBody = string(body)
	return s.result, s.err
}

type stubDiarization struct {
	payload diarization.WebhookPayload
	err     error
	jobs    map[string]jobstore.Job
}

func (s *stubDiarization) HandleWebhook(_ context.Context, p diarization.WebhookPayload) error {
	s.payload = p
	return s.err
}

func (s *stubDiarization) Job(_ context.Context, id string) (jobstore.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return jobstore.Job{}, jobstore.ErrNotFound
	}
	return job, nil
}

type stubUpstream struct {
	serverKey bool
	err       error
}

func (s stubUpstream) HasAPIKey(ctx context.Context) bool {
	return s.serverKey || openai.RequestAPIKeyFromContext(ctx) != ""
}

func (s stubUpstream) CheckModels(context.Context) error { return s.err }

type stubMetrics struct {
	chunks   []int
	failures int
}

func (m *stubMetrics) ObserveHTTP(string, string, int, time.Duration) {}
func (m *stubMetrics) IncPostProcessFailure()                         { m.failures++ }
func (m *stubMetrics) ObserveChunks(n int)                            { m.chunks = append(m.chunks, n) }

type harness struct {
	pipeline    *stubPipeline
	diarization *stubDiarization
	upstream    stubUpstream
	metrics     *stubMetrics
	maxUpload   int64
}

func newHarness() *harness {
	return &harness{
		pipeline:    &stubPipeline{},
		diarization: &stubDiarization{jobs: map[string]jobstore.Job{}},
		upstream:    stubUpstream{serverKey: true},
		metrics:     &stubMetrics{},
		maxUpload:   1024 * 1024,
	}
}

func (h *harness) handler() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(config.Config{MaxUploadBytes: h.maxUpload}, logger, Dependencies{
		Pipeline:    h.pipeline,
		Diarization: h.diarization,
		Upstream:    h.upstream,
		Metrics:     h.metrics,
	})
}

func multipartRequest(t *testing.T, fields map[string]string, fileName, fileBody string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write([]byte(fileBody))
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	newHarness().handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestIndexIsServed(t *testing.T) {
	w := httptest.NewRecorder()
	newHarness().handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `id="upload-form"`) {
		t.Fatalf("unexpected index response: %d", w.Code)
	}

	w = httptest.NewRecorder()
	newHarness().handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected static status: %d", w.Code)
	}
}

func TestTranscribePassesFormToPipeline(t *testing.T) {
	h := newHarness()
	post := "Cleaned text."
	h.pipeline.result = pipeline.ProcessResult{
		Transcription: "raw text",
		PostProcessed: &post,
		Chunks:        2,
		Timings:       pipeline.Timings{Total: 1234 * time.Millisecond},
	}

	req := multipartRequest(t, map[string]string{
		"prompt":              "meeting notes",
		"dictionary":          "Kubernetes",
		"post_process":        "on",
		"post_process_prompt": "Be terse.",
	}, "sample.wav", "audio-bytes")
	w := httptest.NewRecorder()
	h.handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	in := h.pipeline.input
	if h.pipeline.fileBody != "audio-bytes" || in.FileName != "sample.wav" {
		t.Fatalf("unexpected file: %q %q", in.FileName, h.pipeline.fileBody)
	}
	if in.Prompt != "meeting notes" || in.Dictionary != "Kubernetes" || in.PostProcessPrompt != "Be terse." {
		t.Fatalf("unexpected text fields: %+v", in)
	}
	if !in.PostProcess || in.RequestDiarization {
		t.Fatalf("unexpected checkbox parsing: %+v", in)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["transcription"] != "raw text" || resp["post_processed_transcription"] != "Cleaned text." {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if resp["processing_time"] != "1.23" || resp["chunks_created"] != float64(2) {
		t.Fatalf("unexpected processing info: %s", w.Body.String())
	}
	for _, key := range []string{"pyannote_job_id", "pyannote_status", "pyannote_webhook_used"} {
		v, ok := resp[key]
		if !ok || v != nil {
			t.Fatalf("%s should be present and null: %s", key, w.Body.String())
		}
	}
	if len(h.metrics.chunks) != 1 || h.metrics.chunks[0] != 2 {
		t.Fatalf("unexpected chunk metrics: %v", h.metrics.chunks)
	}
}

func TestTranscribeReportsDiarizationOutcome(t *testing.T) {
	h := newHarness()
	h.pipeline.result = pipeline.ProcessResult{
		Transcription: "hi",
		Diarization: diarization.Outcome{
			JobID:      "job-1",
			Status:     "pending",
			WebhookURL: "https://example.test/webhook/pyannote",
		},
	}

	w := httptest.NewRecorder()
	h.handler().ServeHTTP(w, multipartRequest(t, map[string]string{"request_diarization": "on"}, "a.mp3", "x"))

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if !h.pipeline.input.RequestDiarization {
		t.Fatal("expected request_diarization to be parsed")
	}
	var resp model.TranscribeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PyannoteJobID == nil || *resp.PyannoteJobID != "job-1" || *resp.PyannoteStatus != "pending" {
		t.Fatalf("unexpected pyannote fields: %s", w.Body.String())
	}
	if resp.PostProcessedTranscription != nil {
		t.Fatalf("post-processed transcription should be null: %s", w.Body.String())
	}
}

func TestTranscribeCountsPostProcessFailure(t *testing.T) {
	h := newHarness()
	text := "Error during post-processing: boom"
	h.pipeline.result = pipeline.ProcessResult{Transcription: "hi", PostProcessed: &text, PostProcessFailed: true}

	w := httptest.NewRecorder()
	h.handler().ServeHTTP(w, multipartRequest(t, map[string]string{"post_process": "on"}, "a.mp3", "x"))

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if h.metrics.failures != 1 {
		t.Fatalf("expected one post-process failure, got %d", h.metrics.failures)
	}
}

func TestTranscribeWithoutAPIKey(t *testing.T) {
	h := newHarness()
	h.upstream = stubUpstream{}

	w := httptest.NewRecorder()
	h.handler().ServeHTTP(w, multipartRequest(t, nil, "a.mp3", "x"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if got := decodeError(t, w).Error; got != "Server configuration error: OpenAI API key not set." {
		t.Fatalf("unexpected error: %q", got)
	}
	if h.pipeline.calls != 0 {
		t.Fatal("pipeline should not run without a key")
	}
}

func TestTranscribeAcceptsBearerKey(t *testing.T) {
	h := newHarness()
	h.upstream = stubUpstream{}
	h.pipeline.result = pipeline.ProcessResult{Transcription: "ok"}

	req := multipartRequest(t, nil, "a.mp3", "x")
	req.Header.Set("Authorization", "Bearer sk-test")
	w := httptest.NewRecorder()
	h.handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestMalformedAuthorizationRejected(t *testing.T) {
	req := multipartRequest(t, nil, "a.mp3", "x")
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	newHarness().handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestTranscribeMissingFilePart(t *testing.T) {
	w := httptest.NewRecorder()
	newHarness().handler().ServeHTTP(w, multipartRequest(t, map[string]string{"prompt": "x"}, "", ""))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if got := decodeError(t, w).Error; got != "No file part" {
		t.Fatalf("unexpected error: %q", got)
	}
}

func TestTranscribeEmptyFileSelection(t *testing.T) {
	// Browsers send an empty filename, usually with an octet-stream type.
	for _, contentType := range []string{"application/octet-stream", ""} {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="file"; filename=""`)
		if contentType != "" {
			header.Set("Content-Type", contentType)
		}
		if _, err := mw.CreatePart(header); err != nil {
			t.Fatalf("create part: %v", err)
		}
		_ = mw.WriteField("prompt", "x")
		_ = mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/transcribe", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		h := newHarness()
		w := httptest.NewRecorder()
		h.handler().ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("content type %q: unexpected status %d body=%s", contentType, w.Code, w.Body.String())
		}
		if got := decodeError(t, w).Error; got != "No selected file" {
			t.Fatalf("content type %q: unexpected error %q", contentType, got)
		}
		if h.pipeline.calls != 0 {
			t.Fatalf("content type %q: pipeline should not run", contentType)
		}
	}
}

func TestTranscribeMapsPipelineErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"no file", upload.ErrNoFile, http.StatusBadRequest, "No file part"},
		{"empty filename", upload.ErrEmptyFilename, http.StatusBadRequest, "No selected file"},
		{"bad extension", upload.ErrFileTypeNotAllowed, http.StatusBadRequest, "File type not allowed"},
		{"missing key", openai.ErrMissingAPIKey, http.StatusInternalServerError, "Server configuration error: OpenAI API key not set."},
		{"upstream", &openai.Error{StatusCode: 401, Body: "bad key"}, http.StatusBadGateway, ""},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, ""},
		{"other", errors.New("ffprobe exploded"), http.StatusInternalServerError, "An error occurred during processing: ffprobe exploded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			h.pipeline.err = tc.err

			w := httptest.NewRecorder()
			h.handler().ServeHTTP(w, multipartRequest(t, nil, "a.mp3", "x"))

			if w.Code != tc.wantStatus {
				t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
			}
			resp := decodeError(t, w)
			if tc.wantError != "" && resp.Error != tc.wantError {
				t.Fatalf("unexpected error: %q", resp.Error)
			}
			if resp.RequestID == "" || w.Header().Get(requestIDHeader) != resp.RequestID {
				t.Fatalf("request id not propagated: %+v", resp)
			}
		})
	}
}

func TestTranscribeTooLarge(t *testing.T) {
	h := newHarness()
	h.maxUpload = 64

	w := httptest.NewRecorder()
	h.handler().ServeHTTP(w, multipartRequest(t, nil, "a.mp3", strings.Repeat("x", 1024)))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestPyannoteWebhook(t *testing.T) {
	h := newHarness()

	req := httptest.NewRequest(http.MethodPost, "/webhook/pyannote", strings.NewReader(`{"jobId":"job-1","status":"succeeded","output":{"diarization":[]}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected response: %d %s", w.Code, w.Body.String())
	}
	if h.diarization.payload.JobID != "job-1" || h.diarization.payload.Status != "succeeded" {
		t.Fatalf("unexpected payload: %+v", h.diarization.payload)
	}

	h.diarization.err = diarization.ErrInvalidWebhook
	w = httptest.NewRecorder()
	h.handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook/pyannote", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status for invalid payload: %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook/pyannote", strings.NewReader(`not json`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status for bad JSON: %d", w.Code)
	}
}

func TestDiarizationJobLookup(t *testing.T) {
	h := newHarness()
	h.diarization.jobs["job-1"] = jobstore.Job{ID: "job-1", Status: "succeeded", Output: json.RawMessage(`{"n":1}`)}

	w := httptest.NewRecorder()
	h.handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/diarization/job-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	var resp model.DiarizationJobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID != "job-1" || resp.Status != "succeeded" || string(resp.Output) != `{"n":1}` {
		t.Fatalf("unexpected job: %+v", resp)
	}

	w = httptest.NewRecorder()
	h.handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/diarization/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unexpected status for missing job: %d", w.Code)
	}
}

func TestReadyzSkipsUpstreamCheckWithoutAnyKey(t *testing.T) {
	h := newHarness()
	h.upstream = stubUpstream{err: io.EOF}

	w := httptest.NewRecorder()
	h.handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestReadyzFailsWhenUpstreamUnavailable(t *testing.T) {
	h := newHarness()
	h.upstream = stubUpstream{serverKey: true, err: io.EOF}

	w := httptest.NewRecorder()
	h.handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}
