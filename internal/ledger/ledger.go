package ledger

import (
	"context"
	"time"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is the terminal outcome of one message. Append-only: once written
// for a messageID it is never mutated.
type Record struct {
	MessageID   string    `json:"messageId"`
	Status      Status    `json:"status"`
	ProcessedAt time.Time `json:"processedAt"`
	Error       string    `json:"error,omitempty"`
}

// Ledger converts at-least-once delivery into at-most-once side effects per
// messageID. It must be durable and shared across all workers; a duplicate
// MarkProcessed is a logged anomaly, never an overwrite.
type Ledger interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string, status Status, errMsg string) error
}
