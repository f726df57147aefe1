package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crmsync/internal/broker"
	"crmsync/internal/logger"
	"crmsync/pkg/metrics"
	"crmsync/pkg/models"
)

// DeadLetterRouter publishes terminally-failed messages, with failure
// metadata attached, to the dead-letter topic. Routing is best-effort: if
// the publish fails the original message is still acknowledged, trading a
// dropped poison message against an infinite redelivery loop. That is a
// silent-loss path, so it is logged at error level and counted.
type DeadLetterRouter struct {
	producer broker.Producer
	topic    string
	logger   logger.Logger
}

func NewDeadLetterRouter(producer broker.Producer, topic string, log logger.Logger) *DeadLetterRouter {
	return &DeadLetterRouter{
		producer: producer,
		topic:    topic,
		logger:   log,
	}
}

func (r *DeadLetterRouter) Route(ctx context.Context, msg models.EventMessage, reason string) error {
	dlm := models.NewDeadLetterMessage(msg, reason, time.Now())

	body, err := json.Marshal(dlm)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter message: %w", err)
	}

	if err := r.producer.Publish(ctx, r.topic, msg.MessageID, body); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(string(msg.Event), "max_retries_exceeded").Inc()
	r.logger.InfowCtx(ctx, "Message routed to DLQ",
		"dlq_topic", r.topic,
		"reason", reason,
		"retry_count", msg.RetryCount,
	)

	return nil
}
