package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/ledger"
	"crmsync/internal/logger"
	"crmsync/internal/store"
	"crmsync/pkg/errors"
	"crmsync/pkg/metrics"
	"crmsync/pkg/models"
)

const (
	testWorkTopic = "orders_events"
	testDLQTopic  = "orders_events_dlq"
)

type fakeLedger struct {
	mu        sync.Mutex
	processed map[string]ledger.Status
	lookupErr error
	markErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{processed: make(map[string]ledger.Status)}
}

func (l *fakeLedger) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lookupErr != nil {
		return false, l.lookupErr
	}
	_, ok := l.processed[messageID]
	return ok, nil
}

func (l *fakeLedger) MarkProcessed(ctx context.Context, messageID string, status ledger.Status, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markErr != nil {
		return l.markErr
	}
	l.processed[messageID] = status
	return nil
}

func (l *fakeLedger) statusOf(messageID string) (ledger.Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.processed[messageID]
	return s, ok
}

type fakeSynchronizer struct {
	mu    sync.Mutex
	calls []string

	customerErr error
	orderErr    error
	linesErr    error
	stockErr    error
	orderResult store.UpsertResult
	panicOnSync bool
}

func (s *fakeSynchronizer) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeSynchronizer) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSynchronizer) SyncCustomer(ctx context.Context, c *models.Customer) (string, error) {
	s.record("SyncCustomer")
	if s.customerErr != nil {
		return "", s.customerErr
	}
	return "cust-id", nil
}

func (s *fakeSynchronizer) SyncOrder(ctx context.Context, o *models.Order, customerID string) (store.UpsertResult, error) {
	s.record("SyncOrder")
	if s.panicOnSync {
		panic("synchronizer blew up")
	}
	if s.orderErr != nil {
		return store.UpsertResult{}, s.orderErr
	}
	return s.orderResult, nil
}

func (s *fakeSynchronizer) SyncOrderLines(ctx context.Context, orderID string, o *models.Order) error {
	s.record("SyncOrderLines")
	return s.linesErr
}

func (s *fakeSynchronizer) ApplyStockDecrements(ctx context.Context, o *models.Order) error {
	s.record("ApplyStockDecrements")
	return s.stockErr
}

type publishedMessage struct {
	Topic string
	Key   string
	Value []byte
}

type fakeProducer struct {
	mu         sync.Mutex
	published  []publishedMessage
	failTopics map[string]error
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{failTopics: make(map[string]error)}
}

func (p *fakeProducer) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failTopics[topic]; err != nil {
		return err
	}
	p.published = append(p.published, publishedMessage{Topic: topic, Key: key, Value: value})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) onTopic(topic string) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func newTestProcessor(lg *fakeLedger, sync *fakeSynchronizer, producer *fakeProducer, maxRetries int) *Processor {
	log := logger.NopLogger()
	dlq := NewDeadLetterRouter(producer, testDLQTopic, log)
	return NewProcessor(
		Config{WorkTopic: testWorkTopic, MaxRetries: maxRetries},
		lg, sync, producer, dlq, log,
	)
}

func orderMessage(messageID string, retryCount int) []byte {
	msg := models.EventMessage{
		MessageID:  messageID,
		Event:      models.EventCreateOrder,
		Timestamp:  time.Now().UTC(),
		RetryCount: retryCount,
		Payload: models.EventPayload{
			Order: &models.Order{
				ExternalOrderID: "ORD-1",
				Amount:          models.MoneyFromFloat(59.97),
				Status:          models.OrderStatusNew,
				Items: []models.OrderItem{
					{ProductID: "P1", Quantity: 3, UnitPrice: models.MoneyFromFloat(19.99)},
				},
			},
		},
	}
	out, _ := json.Marshal(msg)
	return out
}

func customerMessage(messageID string) []byte {
	msg := models.EventMessage{
		MessageID: messageID,
		Event:     models.EventUpdateCustomer,
		Timestamp: time.Now().UTC(),
		Payload: models.EventPayload{
			Customer: &models.Customer{
				ExternalID: "CUST-7",
				Name:       "Ada Lovelace",
				Email:      "ada@example.com",
			},
		},
	}
	out, _ := json.Marshal(msg)
	return out
}

func TestProcessor_OrderSuccess(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{orderResult: store.UpsertResult{ID: "rec-1", CreatedNew: true}}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	err := p.Handle(context.Background(), orderMessage("msg-1", 0))
	require.NoError(t, err)

	assert.Equal(t, []string{"SyncOrder", "SyncOrderLines", "ApplyStockDecrements"}, sync.callLog())

	status, ok := lg.statusOf("msg-1")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusSuccess, status)
	assert.Empty(t, producer.published)
}

func TestProcessor_ExistingOrderSkipsStockDecrement(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{orderResult: store.UpsertResult{ID: "rec-1", CreatedNew: false}}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	require.NoError(t, p.Handle(context.Background(), orderMessage("msg-2", 0)))

	assert.Equal(t, []string{"SyncOrder", "SyncOrderLines"}, sync.callLog())
	assert.NotContains(t, sync.callLog(), "ApplyStockDecrements")
}

func TestProcessor_CustomerEvent(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	require.NoError(t, p.Handle(context.Background(), customerMessage("msg-3")))

	assert.Equal(t, []string{"SyncCustomer"}, sync.callLog())
	status, _ := lg.statusOf("msg-3")
	assert.Equal(t, ledger.StatusSuccess, status)
}

func TestProcessor_DuplicateDelivery(t *testing.T) {
	lg := newFakeLedger()
	lg.processed["msg-4"] = ledger.StatusSuccess
	sync := &fakeSynchronizer{}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	require.NoError(t, p.Handle(context.Background(), orderMessage("msg-4", 0)))

	// No side effects run for an already-settled message id.
	assert.Empty(t, sync.callLog())
	assert.Empty(t, producer.published)
}

func TestProcessor_PermanentFailureNeverRetries(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{
		stockErr:    errors.Permanent(errors.CodeInsufficientStock, "have 10, need 15"),
		orderResult: store.UpsertResult{ID: "rec-1", CreatedNew: true},
	}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	require.NoError(t, p.Handle(context.Background(), orderMessage("msg-5", 0)))

	assert.Empty(t, producer.published)
	status, ok := lg.statusOf("msg-5")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, status)
}

func TestProcessor_TransientFailureRequeues(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{orderErr: errors.Classify(503, nil)}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	require.NoError(t, p.Handle(context.Background(), orderMessage("msg-6", 0)))

	requeued := producer.onTopic(testWorkTopic)
	require.Len(t, requeued, 1)

	var copied models.EventMessage
	require.NoError(t, json.Unmarshal(requeued[0].Value, &copied))
	assert.Equal(t, "msg-6", copied.MessageID)
	assert.Equal(t, 1, copied.RetryCount)

	// The requeued copy is the new unit of work; the original id must not
	// be marked, or the copy would short-circuit as a duplicate.
	_, marked := lg.statusOf("msg-6")
	assert.False(t, marked)
}

func TestProcessor_RetryBudgetProgression(t *testing.T) {
	// maxRetries 3: attempts at retryCount 0 and 1 requeue, the attempt at
	// retryCount 2 dead-letters with that count on the DLQ copy.
	lg := newFakeLedger()
	sync := &fakeSynchronizer{orderErr: errors.Classify(500, nil)}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, orderMessage("msg-7", 0)))
	require.NoError(t, p.Handle(ctx, orderMessage("msg-7", 1)))
	require.NoError(t, p.Handle(ctx, orderMessage("msg-7", 2)))

	assert.Len(t, producer.onTopic(testWorkTopic), 2)

	dead := producer.onTopic(testDLQTopic)
	require.Len(t, dead, 1)

	var dlm models.DeadLetterMessage
	require.NoError(t, json.Unmarshal(dead[0].Value, &dlm))
	assert.Equal(t, "msg-7", dlm.MessageID)
	assert.Equal(t, 2, dlm.RetryCount)
	assert.NotEmpty(t, dlm.DLQReason)
	assert.False(t, dlm.DLQTimestamp.IsZero())

	status, ok := lg.statusOf("msg-7")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, status)
}

func TestProcessor_RequeuePublishFailureLeavesUnsettled(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{orderErr: errors.Classify(503, nil)}
	producer := newFakeProducer()
	producer.failTopics[testWorkTopic] = fmt.Errorf("broker unavailable")
	p := newTestProcessor(lg, sync, producer, 3)

	err := p.Handle(context.Background(), orderMessage("msg-8", 0))
	require.Error(t, err)

	_, marked := lg.statusOf("msg-8")
	assert.False(t, marked)
}

func TestProcessor_DLQPublishFailureStillSettles(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{orderErr: errors.Classify(500, nil)}
	producer := newFakeProducer()
	producer.failTopics[testDLQTopic] = fmt.Errorf("broker unavailable")
	p := newTestProcessor(lg, sync, producer, 3)

	// Final attempt; DLQ routing fails but the message must still ack,
	// trading the lost copy against an endless redelivery loop.
	err := p.Handle(context.Background(), orderMessage("msg-9", 2))
	require.NoError(t, err)

	status, ok := lg.statusOf("msg-9")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, status)
}

func TestProcessor_UnparseableMessageRejected(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	require.NoError(t, p.Handle(context.Background(), []byte(`{broken`)))

	assert.Empty(t, sync.callLog())
	assert.Empty(t, producer.published)
}

func TestProcessor_InvalidMessageMarkedByID(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	// Decodes but fails validation: still gets a failed ledger record so
	// redeliveries short-circuit.
	raw := []byte(`{"messageId":"msg-10","event":"CreateOrder","payload":{}}`)
	require.NoError(t, p.Handle(context.Background(), raw))

	status, ok := lg.statusOf("msg-10")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, status)
	assert.Empty(t, sync.callLog())
}

func TestProcessor_RejectedMessageKeepsEventLabel(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	rejected := func(event string) float64 {
		return testutil.ToFloat64(metrics.MessagesProcessedTotal.WithLabelValues(event, outcomeRejected))
	}

	// Fails validation but carries a recognized event type: the metric
	// keeps the real event dimension.
	before := rejected("CreateOrder")
	raw := []byte(`{"messageId":"msg-20","event":"CreateOrder","payload":{}}`)
	require.NoError(t, p.Handle(context.Background(), raw))
	assert.Equal(t, before+1, rejected("CreateOrder"))

	// Unrecognized event values fall back to a fixed label so arbitrary
	// input cannot mint new metric series.
	beforeUnknown := rejected("unknown")
	raw = []byte(`{"messageId":"msg-21","event":"DropTables","payload":{}}`)
	require.NoError(t, p.Handle(context.Background(), raw))
	assert.Equal(t, beforeUnknown+1, rejected("unknown"))
}

func TestProcessor_LedgerLookupFailureRequeues(t *testing.T) {
	lg := newFakeLedger()
	lg.lookupErr = fmt.Errorf("ledger backend down")
	sync := &fakeSynchronizer{}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	require.NoError(t, p.Handle(context.Background(), orderMessage("msg-11", 0)))

	assert.Empty(t, sync.callLog())
	assert.Len(t, producer.onTopic(testWorkTopic), 1)
}

func TestProcessor_PanicRecoveredAsTransient(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{panicOnSync: true}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	require.NoError(t, p.Handle(context.Background(), orderMessage("msg-12", 0)))

	// The panic flows through the retry path instead of killing the worker.
	assert.Len(t, producer.onTopic(testWorkTopic), 1)
}

func TestProcessor_LineFailureSkipsStockDecrement(t *testing.T) {
	lg := newFakeLedger()
	sync := &fakeSynchronizer{
		linesErr:    errors.Classify(500, nil),
		orderResult: store.UpsertResult{ID: "rec-1", CreatedNew: true},
	}
	producer := newFakeProducer()
	p := newTestProcessor(lg, sync, producer, 3)

	require.NoError(t, p.Handle(context.Background(), orderMessage("msg-13", 0)))

	assert.NotContains(t, sync.callLog(), "ApplyStockDecrements")
	assert.Len(t, producer.onTopic(testWorkTopic), 1)
}
