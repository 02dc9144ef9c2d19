// Package jobstore keeps diarization job records between submission and the
// pyannote webhook callback.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("job not found")

type Job struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Store interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	Close() error
}
