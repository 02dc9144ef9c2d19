package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"voxscribe/internal/config"
	"voxscribe/internal/diarization"
	"voxscribe/internal/jobstore"
	"voxscribe/internal/model"
	"voxscribe/internal/pipeline"
	"voxscribe/internal/upload"
	"voxscribe/internal/upstream/openai"
	"voxscribe/internal/webui"

	"github.com/go-chi/chi/v5"
)

type PipelineService interface {
	Process(ctx context.Context, in pipeline.ProcessInput) (pipeline.ProcessResult, error)
}

type DiarizationService interface {
	HandleWebhook(ctx context.Context, p diarization.WebhookPayload) error
	Job(ctx context.Context, id string) (jobstore.Job, error)
}

type UpstreamChecker interface {
	HasAPIKey(ctx context.Context) bool
	CheckModels(ctx context.Context) error
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
	IncPostProcessFailure()
	ObserveChunks(n int)
}

type Dependencies struct {
	Pipeline       PipelineService
	Diarization    DiarizationService
	Upstream       UpstreamChecker
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	pipeline     PipelineService
	diarization  DiarizationService
	upstream     UpstreamChecker
	metrics      MetricsObserver
	metricsRoute http.Handler
}

const (
	serviceName      = "VoxScribe"
	maxJSONBodyBytes = 1 << 20
	// Form values and small files stay in memory; larger files spill to disk.
	multipartMemoryBytes = 8 << 20
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Pipeline == nil || deps.Diarization == nil || deps.Upstream == nil {
		panic("httpapi: pipeline, diarization and upstream dependencies are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		pipeline:     deps.Pipeline,
		diarization:  deps.Diarization,
		upstream:     deps.Upstream,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.authMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	r.Method(http.MethodGet, "/", webui.IndexHandler())
	r.Method(http.MethodGet, "/static/*", webui.StaticHandler())

	r.Post("/transcribe", s.handleTranscribe)
	r.Post("/webhook/pyannote", s.handlePyannoteWebhook)
	r.Get("/diarization/{jobID}", s.handleDiarizationJob)

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.upstream.HasAPIKey(r.Context()) {
		writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: serviceName})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.upstream.CheckModels(ctx); err != nil {
		s.logger.Warn("readiness check failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		s.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "Upstream check failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: serviceName})
}

func (s *server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !s.upstream.HasAPIKey(r.Context()) {
		s.writeError(w, r, http.StatusInternalServerError, "config_error", "Server configuration error: OpenAI API key not set.")
		return
	}

	if r.ContentLength > s.cfg.MaxUploadBytes {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", tooLargeMessage(s.cfg.MaxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(min(s.cfg.MaxUploadBytes, multipartMemoryBytes)); err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer cleanupMultipartForm(r.MultipartForm)

	file, header, err := r.FormFile("file")
	if err != nil {
		// A file input with nothing selected arrives as an empty-named part.
		// Without a Content-Type header it is filed under values, not files.
		if _, ok := r.MultipartForm.Value["file"]; ok && errors.Is(err, http.ErrMissingFile) {
			s.writeError(w, r, http.StatusBadRequest, "invalid_request", "No selected file")
			return
		}
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer func() { _ = file.Close() }()
	if header.Filename == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "No selected file")
		return
	}

	result, err := s.pipeline.Process(r.Context(), pipeline.ProcessInput{
		File:               file,
		FileName:           header.Filename,
		Prompt:             r.FormValue("prompt"),
		Dictionary:         r.FormValue("dictionary"),
		PostProcess:        r.FormValue("post_process") == "on",
		PostProcessPrompt:  r.FormValue("post_process_prompt"),
		RequestDiarization: r.FormValue("request_diarization") == "on",
		TranscriptionModel: trimmedFormValue(r, "transcription_model"),
		PostProcessModel:   trimmedFormValue(r, "post_process_model"),
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveChunks(result.Chunks)
		if result.PostProcessFailed {
			s.metrics.IncPostProcessFailure()
		}
	}

	writeJSON(w, http.StatusOK, toTranscribeResponse(result))
}

func (s *server) handlePyannoteWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() { _ = r.Body.Close() }()

	var payload diarization.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "Webhook body too large")
			return
		}
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := s.diarization.HandleWebhook(r.Context(), payload); err != nil {
		if errors.Is(err, diarization.ErrInvalidWebhook) {
			s.writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Error("store webhook update failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", "Failed to record webhook")
		return
	}
	writeJSON(w, http.StatusOK, model.WebhookAck{OK: true})
}

func (s *server) handleDiarizationJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.diarization.Job(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, "not_found", "Job not found")
		return
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load job: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.DiarizationJobResponse{
		JobID:      job.ID,
		Status:     job.Status,
		WebhookURL: job.WebhookURL,
		Output:     job.Output,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	})
}

func (s *server) handleMultipartReadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", tooLargeMessage(s.cfg.MaxUploadBytes))
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "No file part")
	default:
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "Invalid multipart form data")
	}
}

func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	var upstreamErr *openai.Error
	switch {
	case errors.Is(err, upload.ErrNoFile):
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "No file part")
	case errors.Is(err, upload.ErrEmptyFilename):
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "No selected file")
	case errors.Is(err, upload.ErrFileTypeNotAllowed):
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "File type not allowed")
	case errors.Is(err, openai.ErrMissingAPIKey):
		s.writeError(w, r, http.StatusInternalServerError, "config_error", "Server configuration error: OpenAI API key not set.")
	case errors.As(err, &upstreamErr):
		s.writeError(w, r, http.StatusBadGateway, "upstream_request_failed", processingError(err))
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, r, http.StatusGatewayTimeout, "timeout", processingError(err))
	case errors.Is(err, context.Canceled):
		s.writeError(w, r, 499, "canceled", processingError(err))
	default:
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", processingError(err))
	}
}

func tooLargeMessage(limit int64) string {
	return fmt.Sprintf("File too large: uploads are limited to %d bytes", limit)
}

func processingError(err error) string {
	return "An error occurred during processing: " + err.Error()
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	rid := requestIDFromContext(r.Context())
	if rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{Error: message, Code: code, RequestID: rid})
}

func toTranscribeResponse(result pipeline.ProcessResult) model.TranscribeResponse {
	resp := model.TranscribeResponse{
		Transcription:              result.Transcription,
		PostProcessedTranscription: result.PostProcessed,
		ProcessingTime:             fmt.Sprintf("%.2f", result.Timings.Total.Seconds()),
		ChunksCreated:              result.Chunks,
	}
	d := result.Diarization
	resp.PyannoteJobID = optional(d.JobID)
	resp.PyannoteStatus = optional(d.Status)
	resp.PyannoteWebhookUsed = optional(d.WebhookURL)
	return resp
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func cleanupMultipartForm(form *multipart.Form) {
	if form != nil {
		_ = form.RemoveAll()
	}
}

// trimmedFormValue is used for values where surrounding whitespace carries no
// meaning.
func trimmedFormValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.FormValue(key))
}
