package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"voxscribe/internal/diarization"
	"voxscribe/internal/postprocess"
	"voxscribe/internal/transcription"
	"voxscribe/internal/upload"
)

const postProcessErrorPrefix = "Error during post-processing: "

type Transcriber interface {
	TranscribeFile(ctx context.Context, in transcription.Input) (transcription.Result, error)
}

type PostProcessor interface {
	Process(ctx context.Context, in postprocess.Input) (postprocess.Result, error)
}

type Diarizer interface {
	Submit(ctx context.Context, in diarization.Request) diarization.Outcome
}

type Uploads interface {
	Save(r io.Reader, originalName string) (upload.Saved, error)
}

type Service struct {
	uploads       Uploads
	transcriber   Transcriber
	postProcessor PostProcessor
	diarizer      Diarizer
	logger        *slog.Logger
}

type ProcessInput struct {
	File               io.Reader
	FileName           string
	Prompt             string
	Dictionary         string
	PostProcess        bool
	PostProcessPrompt  string
	RequestDiarization bool
	TranscriptionModel string
	PostProcessModel   string
}

type Timings struct {
	Transcription  time.Duration
	PostProcessing time.Duration
	Total          time.Duration
}

type ProcessResult struct {
	Transcription string
	// PostProcessed is nil when post-processing was not requested or the
	// transcription was empty.
	PostProcessed       *string
	PostProcessFailed   bool
	PostProcessingUsage *postprocess.TokenUsage
	Chunks              int
	Diarization         diarization.Outcome
	Timings             Timings
}

func New(uploads Uploads, transcriber Transcriber, postProcessor PostProcessor, diarizer Diarizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		uploads:       uploads,
		transcriber:   transcriber,
		postProcessor: postProcessor,
		diarizer:      diarizer,
		logger:        logger,
	}
}

func (s *Service) Process(ctx context.Context, in ProcessInput) (ProcessResult, error) {
	started := time.Now()

	if in.File == nil {
		return ProcessResult{}, upload.ErrNoFile
	}
	if err := upload.Validate(in.FileName); err != nil {
		return ProcessResult{}, err
	}

	saved, err := s.uploads.Save(in.File, in.FileName)
	if err != nil {
		return ProcessResult{}, err
	}
	defer func() {
		if err := saved.Remove(); err != nil {
			s.logger.Warn("remove upload failed", "path", saved.Path, "error", err)
		}
	}()
	s.logger.Info("received file", "upload_id", saved.ID, "file", in.FileName, "size_mb", float64(saved.Size)/(1024*1024))

	var result ProcessResult
	if in.RequestDiarization {
		result.Diarization = s.diarizer.Submit(ctx, diarization.Request{Path: saved.Path, Ext: saved.Ext})
	}

	transcriptionStarted := time.Now()
	transcribed, err := s.transcriber.TranscribeFile(ctx, transcription.Input{
		Path:        saved.Path,
		FileName:    in.FileName,
		Size:        saved.Size,
		Prompt:      transcription.EffectivePrompt(in.Prompt, in.Dictionary),
		Model:       in.TranscriptionModel,
		ChunkPrefix: saved.ID,
	})
	result.Timings.Transcription = time.Since(transcriptionStarted)
	if err != nil {
		s.logger.Error("transcription failed", "upload_id", saved.ID, "elapsed", time.Since(started).String(), "error", err)
		return ProcessResult{}, err
	}
	result.Transcription = strings.TrimSpace(transcribed.Text)
	result.Chunks = transcribed.Chunks

	switch {
	case in.PostProcess && result.Transcription != "":
		postProcessingStarted := time.Now()
		s.postProcess(ctx, in, &result)
		result.Timings.PostProcessing = time.Since(postProcessingStarted)
	case in.PostProcess:
		s.logger.Info("skipping post-processing because transcription was empty", "upload_id", saved.ID)
	}

	result.Timings.Total = time.Since(started)
	s.logProcessed(saved.ID, result)
	return result, nil
}

// postProcess never fails the request; the error text replaces the
// post-processed transcript instead.
func (s *Service) postProcess(ctx context.Context, in ProcessInput, result *ProcessResult) {
	postResult, err := s.postProcessor.Process(ctx, postprocess.Input{
		Transcript:         result.Transcription,
		Dictionary:         in.Dictionary,
		CustomSystemPrompt: in.PostProcessPrompt,
		Model:              in.PostProcessModel,
	})
	if err != nil {
		s.logger.Error("post-processing failed", "error", err)
		text := postProcessErrorPrefix + err.Error()
		result.PostProcessed = &text
		result.PostProcessFailed = true
		return
	}
	text := strings.TrimSpace(postResult.Transcript)
	result.PostProcessed = &text
	result.PostProcessingUsage = postResult.Usage
}

func (s *Service) logProcessed(uploadID string, result ProcessResult) {
	attrs := []any{
		"upload_id", uploadID,
		"chunks", result.Chunks,
		"transcription_ms", result.Timings.Transcription.Milliseconds(),
		"post_processing_ms", result.Timings.PostProcessing.Milliseconds(),
		"total_ms", result.Timings.Total.Milliseconds(),
	}
	if u := result.PostProcessingUsage; u != nil {
		attrs = append(attrs,
			"prompt_tokens", u.PromptTokens,
			"completion_tokens", u.CompletionTokens,
			"total_tokens", u.TotalTokens,
		)
	}
	if result.Diarization.Status != "" {
		attrs = append(attrs, "diarization_status", result.Diarization.Status)
	}
	s.logger.Info("processing complete", attrs...)
}
