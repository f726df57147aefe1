package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"crmsync/internal/constants"
	"crmsync/internal/logger"
	"crmsync/pkg/metrics"
)

// RedisLedger stores one JSON record per messageID under a SETNX key. The
// TTL bounds ledger growth; it must comfortably exceed the broker's maximum
// redelivery window or duplicates slip through after expiry.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisLedger(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl, logger: log}
}

func (l *RedisLedger) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	n, err := l.client.Exists(ctx, constants.LedgerKeyPrefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS failed: %w", err)
	}
	return n > 0, nil
}

func (l *RedisLedger) MarkProcessed(ctx context.Context, messageID string, status Status, errMsg string) error {
	record := Record{
		MessageID:   messageID,
		Status:      status,
		ProcessedAt: time.Now().UTC(),
		Error:       errMsg,
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger record: %w", err)
	}

	created, err := l.client.SetNX(ctx, constants.LedgerKeyPrefix+messageID, body, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis SetNX failed: %w", err)
	}

	if !created {
		metrics.LedgerDuplicateMarksTotal.Inc()
		l.logger.WarnwCtx(ctx, "Duplicate terminal state for message, keeping first record",
			"message_id", messageID,
			"status", status,
		)
	}

	return nil
}
