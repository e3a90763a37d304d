package journal

import (
	"context"
	"time"
)

type Status string

const (
	StatusQueued Status = "queued"
	StatusPlayed Status = "played"
	StatusFailed Status = "failed"
)

// Record tracks one spoken utterance through the playback queue.
type Record struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Provider    string    `json:"provider,omitempty"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	SynthesisMS int64     `json:"synthesis_ms"`
	QueueWaitMS int64     `json:"queue_wait_ms"`
	PlaybackMS  int64     `json:"playback_ms"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists utterance records. Save upserts by ID.
type Store interface {
	Save(ctx context.Context, record Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
