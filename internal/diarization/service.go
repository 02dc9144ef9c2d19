package diarization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"voxscribe/internal/jobstore"
	"voxscribe/internal/upstream/pyannote"
)

const (
	StatusSkippedConfig    = "skipped_config"
	StatusSkippedNoWebhook = "skipped_no_webhook_url"
	ErrorStatusPrefix      = "error: "
)

var ErrInvalidWebhook = errors.New("invalid webhook payload")

type Client interface {
	Configured() bool
	UploadFile(ctx context.Context, path, ext string) (string, error)
	Diarize(ctx context.Context, in pyannote.DiarizeRequest) (pyannote.Job, error)
}

type Options struct {
	WebhookURL string
	Timeout    time.Duration
	// OnOutcome, if set, receives every status Submit produces.
	OnOutcome func(status string)
}

type Service struct {
	client   Client
	store    jobstore.Store
	opts     Options
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

type Request struct {
	Path string
	Ext  string
}

// Outcome fields are empty when they do not apply.
type Outcome struct {
	JobID      string
	Status     string
	WebhookURL string
}

type WebhookPayload struct {
	JobID  string          `json:"jobId" validate:"required"`
	Status string          `json:"status" validate:"required"`
	Output json.RawMessage `json:"output,omitempty"`
}

func New(client Client, store jobstore.Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:   client,
		store:    store,
		opts:     opts,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Submit uploads the file to pyannote and starts a diarization job. Failures
// never propagate; they are reported in Outcome.Status.
func (s *Service) Submit(ctx context.Context, in Request) Outcome {
	out := s.submit(ctx, in)
	if s.opts.OnOutcome != nil {
		s.opts.OnOutcome(out.Status)
	}
	return out
}

func (s *Service) submit(ctx context.Context, in Request) Outcome {
	if !s.client.Configured() {
		s.logger.Warn("diarization requested but PYANNOTE_API_KEY is not set, skipping")
		return Outcome{Status: StatusSkippedConfig}
	}
	if s.opts.WebhookURL == "" {
		s.logger.Warn("diarization requested but PUBLIC_WEBHOOK_URL_BASE is not set, skipping")
		return Outcome{Status: StatusSkippedNoWebhook}
	}

	out := Outcome{WebhookURL: s.opts.WebhookURL}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	mediaURL, err := s.client.UploadFile(ctx, in.Path, in.Ext)
	if err != nil {
		s.logger.Error("pyannote upload failed", "error", err)
		out.Status = ErrorStatusPrefix + err.Error()
		return out
	}
	job, err := s.client.Diarize(ctx, pyannote.DiarizeRequest{URL: mediaURL, Webhook: s.opts.WebhookURL})
	if err != nil {
		s.logger.Error("pyannote job submission failed", "error", err)
		out.Status = ErrorStatusPrefix + err.Error()
		return out
	}

	out.JobID = job.JobID
	out.Status = job.Status
	s.logger.Info("pyannote job created", "job_id", job.JobID, "status", job.Status)

	if job.JobID != "" {
		now := s.now()
		// Recording is best effort; the job id is already in the response.
		if err := s.store.Put(ctx, jobstore.Job{
			ID:         job.JobID,
			Status:     job.Status,
			WebhookURL: s.opts.WebhookURL,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			s.logger.Warn("store diarization job failed", "job_id", job.JobID, "error", err)
		}
	}
	return out
}

// HandleWebhook records a job update posted by pyannote. Unknown job ids are
// accepted; the submitting process may have restarted.
func (s *Service) HandleWebhook(ctx context.Context, p WebhookPayload) error {
	p.JobID = strings.TrimSpace(p.JobID)
	p.Status = strings.TrimSpace(p.Status)
	if err := s.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	now := s.now()
	job, err := s.store.Get(ctx, p.JobID)
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		job = jobstore.Job{ID: p.JobID, CreatedAt: now}
	case err != nil:
		return err
	}
	job.Status = p.Status
	job.UpdatedAt = now
	if len(p.Output) > 0 {
		job.Output = p.Output
	}

	s.logger.Info("pyannote webhook received", "job_id", p.JobID, "status", p.Status)
	return s.store.Put(ctx, job)
}

func (s *Service) Job(ctx context.Context, id string) (jobstore.Job, error) {
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// StatusClass collapses a status into a low-cardinality label.
func StatusClass(status string) string {
	switch {
	case status == "":
		return "none"
	case strings.HasPrefix(status, "skipped"):
		return "skipped"
	case strings.HasPrefix(status, "error:"):
		return "error"
	default:
		return "submitted"
	}
}
