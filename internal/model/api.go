package model

import (
	"encoding/json"
	"time"
)

// ErrorResponse keeps "error" a plain string; the web page renders it as-is.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK          bool   `json:"ok"`
	ServiceName string `json:"service_name,omitempty"`
}

// TranscribeResponse is the body of a successful POST /transcribe. Pointer
// fields encode as null when the feature was not requested or produced nothing.
type TranscribeResponse struct {
	Transcription              string  `json:"transcription"`
	PostProcessedTranscription *string `json:"post_processed_transcription"`
	ProcessingTime             string  `json:"processing_time"`
	ChunksCreated              int     `json:"chunks_created"`
	PyannoteJobID              *string `json:"pyannote_job_id"`
	PyannoteStatus             *string `json:"pyannote_status"`
	PyannoteWebhookUsed        *string `json:"pyannote_webhook_used"`
}

type DiarizationJobResponse struct {
	JobID      string          `json:"job_id"`
	Status     string          `json:"status"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type WebhookAck struct {
	OK bool `json:"ok"`
}
