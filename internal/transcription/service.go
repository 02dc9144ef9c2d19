package transcription

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxscribe/internal/audio"
	"voxscribe/internal/upstream/openai"
)

const dictionaryPrefix = "Ensure these terms are spelled correctly: "

type Client interface {
	Transcribe(ctx context.Context, in openai.TranscriptionRequest) (string, error)
}

type Splitter interface {
	Probe(ctx context.Context, path string) (time.Duration, error)
	Export(ctx context.Context, src string, c audio.Chunk, dst string) error
}

type Options struct {
	DefaultModel string
	// Timeout bounds each upstream call, not the whole file.
	Timeout time.Duration
	// Files strictly larger than ChunkThresholdBytes are split.
	ChunkThresholdBytes int64
	ChunkDuration       time.Duration
}

type Service struct {
	client   Client
	splitter Splitter
	opts     Options
	logger   *slog.Logger
}

type Input struct {
	Path     string
	FileName string
	Size     int64
	Prompt   string
	Model    string
	// ChunkPrefix names chunk files "<prefix>_chunk_<n>.mp3" next to Path.
	ChunkPrefix string
}

type Result struct {
	Text   string
	Chunks int
}

func New(client Client, splitter Splitter, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	opts.DefaultModel = strings.TrimSpace(opts.DefaultModel)
	return &Service{client: client, splitter: splitter, opts: opts, logger: logger}
}

// EffectivePrompt merges the user's prompt with the dictionary hint sent to
// the transcription model.
func EffectivePrompt(prompt, dictionary string) string {
	prompt = strings.TrimSpace(prompt)
	dictionary = strings.TrimSpace(dictionary)
	if dictionary == "" {
		return prompt
	}
	if prompt == "" {
		return dictionaryPrefix + dictionary
	}
	return prompt + "\n\n" + dictionaryPrefix + dictionary
}

func (s *Service) TranscribeFile(ctx context.Context, in Input) (Result, error) {
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = s.opts.DefaultModel
	}
	fileName := in.FileName
	if fileName == "" {
		fileName = filepath.Base(in.Path)
	}

	if in.Size <= s.opts.ChunkThresholdBytes {
		s.logger.Debug("transcribing single file", "file", fileName, "prompt", in.Prompt != "")
		text, err := s.transcribePath(ctx, in.Path, fileName, model, in.Prompt)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: text, Chunks: 1}, nil
	}
	return s.transcribeChunked(ctx, in, model)
}

func (s *Service) transcribeChunked(ctx context.Context, in Input, model string) (Result, error) {
	duration, err := s.splitter.Probe(ctx, in.Path)
	if err != nil {
		return Result{}, err
	}
	chunks := audio.Plan(duration, s.opts.ChunkDuration)
	s.logger.Info("file exceeds size limit, chunking",
		"size_bytes", in.Size,
		"limit_bytes", s.opts.ChunkThresholdBytes,
		"duration", duration.String(),
		"chunks", len(chunks),
	)

	prefix := in.ChunkPrefix
	if prefix == "" {
		prefix = strings.TrimSuffix(filepath.Base(in.Path), filepath.Ext(in.Path))
	}
	dir := filepath.Dir(in.Path)

	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		name := fmt.Sprintf("%s_chunk_%d.%s", prefix, c.Index+1, audio.ChunkFormat)
		text, err := s.transcribeChunk(ctx, in.Path, c, filepath.Join(dir, name), model, in.Prompt)
		if err != nil {
			return Result{}, err
		}
		if text == "" {
			s.logger.Warn("chunk returned empty transcript", "chunk", c.Index+1)
			continue
		}
		parts = append(parts, text)
	}

	return Result{Text: strings.TrimSpace(strings.Join(parts, " ")), Chunks: len(chunks)}, nil
}

func (s *Service) transcribeChunk(ctx context.Context, src string, c audio.Chunk, dst, model, prompt string) (string, error) {
	defer func() {
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove chunk file failed", "path", dst, "error", err)
		}
	}()

	if err := s.splitter.Export(ctx, src, c, dst); err != nil {
		return "", err
	}
	text, err := s.transcribePath(ctx, dst, filepath.Base(dst), model, prompt)
	if err != nil {
		return "", fmt.Errorf("transcribe chunk %d: %w", c.Index+1, err)
	}
	return text, nil
}

func (s *Service) transcribePath(ctx context.Context, path, fileName, model, prompt string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return s.transcribe(ctx, f, fileName, model, prompt)
}

func (s *Service) transcribe(ctx context.Context, file io.Reader, fileName, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	text, err := s.client.Transcribe(ctx, openai.TranscriptionRequest{
		File:     file,
		FileName: fileName,
		Model:    model,
		Prompt:   prompt,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
