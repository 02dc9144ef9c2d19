package config

import (
	"errors"
	"os"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr           string
	OpenAIBaseURL        string
	OpenAIAPIKey         string
	TranscriptionModel   string
	PostProcessModel     string
	PyannoteBaseURL      string
	PyannoteAPIKey       string
	PublicWebhookBase    string
	UploadDir            string
	MaxUploadBytes       int64
	ChunkThresholdBytes  int64
	ChunkDuration        time.Duration
	FFmpegPath           string
	FFprobePath          string
	RequestTimeout       time.Duration
	TranscriptionTimeout time.Duration
	PostProcessTimeout   time.Duration
	PyannoteTimeout      time.Duration
	RedisURL             string
	JobTTL               time.Duration
	LogLevel             string
}

type envConfig struct {
	ListenAddr                  string `env:"LISTEN_ADDR" envDefault:":5000"`
	OpenAIBaseURL               string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIAPIKey                string `env:"OPENAI_API_KEY"`
	TranscriptionModel          string `env:"TRANSCRIPTION_MODEL" envDefault:"gpt-4o-transcribe"`
	PostProcessModel            string `env:"POSTPROCESS_MODEL" envDefault:"gpt-4.1"`
	PyannoteBaseURL             string `env:"PYANNOTE_BASE_URL" envDefault:"https://api.pyannote.ai/v1"`
	PyannoteAPIKey              string `env:"PYANNOTE_API_KEY"`
	PublicWebhookBase           string `env:"PUBLIC_WEBHOOK_URL_BASE"`
	UploadDir                   string `env:"UPLOAD_DIR" envDefault:"uploads"`
	MaxUploadBytes              int64  `env:"MAX_UPLOAD_BYTES" envDefault:"524288000"`
	MaxFileSizeMB               int64  `env:"MAX_FILE_SIZE_MB" envDefault:"24"`
	ChunkDurationMinutes        int    `env:"CHUNK_DURATION_MINUTES" envDefault:"15"`
	FFmpegPath                  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath                 string `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	RequestTimeoutSeconds       int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"300"`
	TranscriptionTimeoutSeconds int    `env:"TRANSCRIPTION_TIMEOUT_SECONDS" envDefault:"240"`
	PostProcessTimeoutSeconds   int    `env:"POSTPROCESS_TIMEOUT_SECONDS" envDefault:"120"`
	PyannoteTimeoutSeconds      int    `env:"PYANNOTE_TIMEOUT_SECONDS" envDefault:"60"`
	RedisURL                    string `env:"REDIS_URL"`
	JobTTLHours                 int    `env:"JOB_TTL_HOURS" envDefault:"24"`
	LogLevel                    string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file from the working directory, then the
// process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:           strings.TrimSpace(raw.ListenAddr),
		OpenAIBaseURL:        strings.TrimRight(strings.TrimSpace(raw.OpenAIBaseURL), "/"),
		OpenAIAPIKey:         strings.TrimSpace(raw.OpenAIAPIKey),
		TranscriptionModel:   strings.TrimSpace(raw.TranscriptionModel),
		PostProcessModel:     strings.TrimSpace(raw.PostProcessModel),
		PyannoteBaseURL:      strings.TrimRight(strings.TrimSpace(raw.PyannoteBaseURL), "/"),
		PyannoteAPIKey:       strings.TrimSpace(raw.PyannoteAPIKey),
		PublicWebhookBase:    strings.TrimSpace(raw.PublicWebhookBase),
		UploadDir:            strings.TrimSpace(raw.UploadDir),
		MaxUploadBytes:       raw.MaxUploadBytes,
		ChunkThresholdBytes:  raw.MaxFileSizeMB * 1024 * 1024,
		ChunkDuration:        time.Duration(raw.ChunkDurationMinutes) * time.Minute,
		FFmpegPath:           strings.TrimSpace(raw.FFmpegPath),
		FFprobePath:          strings.TrimSpace(raw.FFprobePath),
		RequestTimeout:       time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		TranscriptionTimeout: time.Duration(raw.TranscriptionTimeoutSeconds) * time.Second,
		PostProcessTimeout:   time.Duration(raw.PostProcessTimeoutSeconds) * time.Second,
		PyannoteTimeout:      time.Duration(raw.PyannoteTimeoutSeconds) * time.Second,
		RedisURL:             strings.TrimSpace(raw.RedisURL),
		JobTTL:               time.Duration(raw.JobTTLHours) * time.Hour,
		LogLevel:             strings.ToLower(strings.TrimSpace(raw.LogLevel)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.OpenAIBaseURL == "" {
		return errors.New("OPENAI_BASE_URL must not be empty")
	}
	if c.TranscriptionModel == "" {
		return errors.New("TRANSCRIPTION_MODEL must not be empty")
	}
	if c.PostProcessModel == "" {
		return errors.New("POSTPROCESS_MODEL must not be empty")
	}
	if c.PyannoteBaseURL == "" {
		return errors.New("PYANNOTE_BASE_URL must not be empty")
	}
	if c.UploadDir == "" {
		return errors.New("UPLOAD_DIR must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.ChunkThresholdBytes <= 0 {
		return errors.New("MAX_FILE_SIZE_MB must be > 0")
	}
	if c.ChunkDuration <= 0 {
		return errors.New("CHUNK_DURATION_MINUTES must be > 0")
	}
	if c.FFmpegPath == "" || c.FFprobePath == "" {
		return errors.New("FFMPEG_PATH and FFPROBE_PATH must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.TranscriptionTimeout <= 0 {
		return errors.New("TRANSCRIPTION_TIMEOUT_SECONDS must be > 0")
	}
	if c.PostProcessTimeout <= 0 {
		return errors.New("POSTPROCESS_TIMEOUT_SECONDS must be > 0")
	}
	if c.PyannoteTimeout <= 0 {
		return errors.New("PYANNOTE_TIMEOUT_SECONDS must be > 0")
	}
	if c.JobTTL <= 0 {
		return errors.New("JOB_TTL_HOURS must be > 0")
	}
	return nil
}

// DiarizationWebhookURL is the callback pyannote posts job results to, or ""
// when no public base URL is configured.
func (c Config) DiarizationWebhookURL() string {
	if c.PublicWebhookBase == "" {
		return ""
	}
	return strings.TrimRight(c.PublicWebhookBase, "/") + "/webhook/pyannote"
}
