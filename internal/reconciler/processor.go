package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crmsync/internal/broker"
	"crmsync/internal/ledger"
	"crmsync/internal/logger"
	"crmsync/internal/store"
	"crmsync/pkg/errors"
	"crmsync/pkg/logging"
	"crmsync/pkg/metrics"
	"crmsync/pkg/models"
)

// Outcomes recorded per settled message.
const (
	outcomeSuccess   = "success"
	outcomeDuplicate = "duplicate"
	outcomeRequeued  = "requeued"
	outcomePermanent = "permanent_failure"
	outcomeDLQ       = "dead_lettered"
	outcomeRejected  = "rejected"
)

// Synchronizer is the slice of the store layer the loop dispatches into.
type Synchronizer interface {
	SyncCustomer(ctx context.Context, c *models.Customer) (string, error)
	SyncOrder(ctx context.Context, o *models.Order, customerID string) (store.UpsertResult, error)
	SyncOrderLines(ctx context.Context, orderID string, o *models.Order) error
	ApplyStockDecrements(ctx context.Context, o *models.Order) error
}

type Config struct {
	WorkTopic  string
	MaxRetries int
}

// Processor is the reconciliation loop: it settles every delivery exactly
// once, deciding between ack, requeue-with-incremented-retry, permanent
// reject, and dead-letter routing. It is the only component permitted to
// make that decision; everything below it just reports classified errors.
type Processor struct {
	cfg      Config
	ledger   ledger.Ledger
	sync     Synchronizer
	producer broker.Producer
	dlq      *DeadLetterRouter
	logger   logger.Logger
}

func NewProcessor(cfg Config, lg ledger.Ledger, sync Synchronizer, producer broker.Producer, dlq *DeadLetterRouter, log logger.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		ledger:   lg,
		sync:     sync,
		producer: producer,
		dlq:      dlq,
		logger:   log,
	}
}

// Handle is the broker HandlerFunc. A nil return settles the delivery; a
// non-nil return means it could not be settled (requeue publish failed,
// etc.) and the consumer retries the same delivery rather than moving on.
func (p *Processor) Handle(ctx context.Context, value []byte) error {
	start := time.Now()

	msg, err := models.ParseEventMessage(value)
	if err != nil {
		// Malformed input can never become valid by retrying. When the
		// message decoded far enough to carry an id, record the failure
		// against it so redeliveries short-circuit.
		p.logger.ErrorwCtx(ctx, "Rejecting unparseable message",
			"error", err,
		)
		if msg != nil && msg.MessageID != "" {
			p.markProcessed(ctx, msg.MessageID, ledger.StatusFailed,
				errors.Permanent(errors.CodeMalformedPayload, err.Error()).Error())
		}
		eventLabel := "unknown"
		if msg != nil && msg.Event.Valid() {
			eventLabel = string(msg.Event)
		}
		metrics.MessagesProcessedTotal.WithLabelValues(eventLabel, outcomeRejected).Inc()
		return nil
	}

	ctx = logging.WithMessageID(ctx, msg.MessageID)
	ctx = logging.WithEventType(ctx, string(msg.Event))
	if msg.Payload.Order != nil {
		ctx = logging.WithOrderKey(ctx, msg.Payload.Order.ExternalOrderID)
	}

	processed, err := p.ledger.IsProcessed(ctx, msg.MessageID)
	if err != nil {
		// A ledger outage is a transient infrastructure condition; route
		// it through the normal retry budget rather than blocking intake.
		return p.settleFailure(ctx, msg, start,
			errors.Transient(errors.CodeLedger, "idempotency ledger lookup failed").WithCause(err))
	}

	if processed {
		metrics.LedgerLookupsTotal.WithLabelValues("hit").Inc()
		metrics.MessagesProcessedTotal.WithLabelValues(string(msg.Event), outcomeDuplicate).Inc()
		p.logger.InfowCtx(ctx, "Duplicate delivery, already settled")
		return nil
	}
	metrics.LedgerLookupsTotal.WithLabelValues("miss").Inc()

	if err := p.dispatch(ctx, msg); err != nil {
		return p.settleFailure(ctx, msg, start, err)
	}

	p.markProcessed(ctx, msg.MessageID, ledger.StatusSuccess, "")
	metrics.MessagesProcessedTotal.WithLabelValues(string(msg.Event), outcomeSuccess).Inc()
	metrics.ObserveProcessingDuration(string(msg.Event), outcomeSuccess, time.Since(start))
	p.logger.InfowCtx(ctx, "Message reconciled")
	return nil
}

// dispatch fans out by event type. The switch is exhaustive over the enum;
// anything else is a permanent error by construction (ParseEventMessage
// already rejected unknown types, this default is the compiler-visible
// backstop).
func (p *Processor) dispatch(ctx context.Context, msg *models.EventMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
			p.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
				"error", err,
			)
		}
	}()

	switch msg.Event {
	case models.EventCreateCustomer, models.EventUpdateCustomer:
		_, err = p.sync.SyncCustomer(ctx, msg.Payload.Customer)
		return err
	case models.EventCreateOrder, models.EventUpdateOrder:
		return p.reconcileOrder(ctx, msg)
	default:
		return errors.Permanent(errors.CodeUnknownEvent,
			fmt.Sprintf("no handler for event type %q", string(msg.Event)))
	}
}

// reconcileOrder runs the full sequential protocol: customer (when the
// event carries one), order, lines, then stock. The stock decrement only
// happens when the order upsert actually created the record, which is the
// guard against double-decrement when the same logical order arrives again
// under a fresh messageID.
func (p *Processor) reconcileOrder(ctx context.Context, msg *models.EventMessage) error {
	var customerID string
	if msg.Payload.Customer != nil {
		id, err := p.sync.SyncCustomer(ctx, msg.Payload.Customer)
		if err != nil {
			return err
		}
		customerID = id
	}

	order := msg.Payload.Order

	result, err := p.sync.SyncOrder(ctx, order, customerID)
	if err != nil {
		return err
	}

	if err := p.sync.SyncOrderLines(ctx, result.ID, order); err != nil {
		return err
	}

	if result.CreatedNew {
		if err := p.sync.ApplyStockDecrements(ctx, order); err != nil {
			return err
		}
	} else {
		p.logger.InfowCtx(ctx, "Order already existed, skipping stock decrement",
			"store_id", result.ID,
		)
	}

	return nil
}

// settleFailure applies the retry policy to a classified failure.
func (p *Processor) settleFailure(ctx context.Context, msg *models.EventMessage, start time.Time, cause error) error {
	eventType := string(msg.Event)

	if !errors.IsRetryable(cause) {
		p.markProcessed(ctx, msg.MessageID, ledger.StatusFailed, cause.Error())
		metrics.MessagesProcessedTotal.WithLabelValues(eventType, outcomePermanent).Inc()
		metrics.ObserveProcessingDuration(eventType, outcomePermanent, time.Since(start))
		p.logger.ErrorwCtx(ctx, "Permanent failure, rejecting without retry",
			"error", cause,
			"status_code", errors.StatusCode(cause),
		)
		return nil
	}

	if msg.RetryCount+1 < p.cfg.MaxRetries {
		if err := p.requeue(ctx, msg); err != nil {
			// Could not hand the retry copy back to the broker; report
			// the delivery unsettled so the consumer runs it again.
			return fmt.Errorf("requeue failed: %w", err)
		}
		metrics.RequeueTotal.WithLabelValues(eventType).Inc()
		metrics.MessagesProcessedTotal.WithLabelValues(eventType, outcomeRequeued).Inc()
		p.logger.WarnwCtx(ctx, "Transient failure, message requeued",
			"error", cause,
			"retry_count", msg.RetryCount+1,
			"max_retries", p.cfg.MaxRetries,
		)
		return nil
	}

	// Retries exhausted.
	if err := p.dlq.Route(ctx, *msg, cause.Error()); err != nil {
		metrics.DLQPublishFailuresTotal.Inc()
		p.logger.ErrorwCtx(ctx, "DLQ publish failed, dropping message after exhausted retries",
			"error", err,
			"original_error", cause,
		)
	}
	p.markProcessed(ctx, msg.MessageID, ledger.StatusFailed, cause.Error())
	metrics.MessagesProcessedTotal.WithLabelValues(eventType, outcomeDLQ).Inc()
	metrics.ObserveProcessingDuration(eventType, outcomeDLQ, time.Since(start))
	return nil
}

// requeue publishes a copy of the message with the retry counter bumped;
// the redelivered copy becomes the new unit of work, so the original is
// acknowledged. Retries ride on the message copy, never on the ledger.
func (p *Processor) requeue(ctx context.Context, msg *models.EventMessage) error {
	copied := *msg
	copied.RetryCount = msg.RetryCount + 1

	body, err := json.Marshal(&copied)
	if err != nil {
		return fmt.Errorf("failed to marshal retry copy: %w", err)
	}

	return p.producer.Publish(ctx, p.cfg.WorkTopic, copied.MessageID, body)
}

// markProcessed records the terminal outcome. Failures here are logged,
// never propagated: an already-completed synchronization must not be
// un-acked over a ledger write error, or the side effects run twice.
func (p *Processor) markProcessed(ctx context.Context, messageID string, status ledger.Status, errMsg string) {
	if err := p.ledger.MarkProcessed(ctx, messageID, status, errMsg); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to write idempotency record",
			"error", err,
			"status", status,
		)
	}
}
