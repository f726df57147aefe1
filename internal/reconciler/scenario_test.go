package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/constants"
	"crmsync/internal/ledger"
	"crmsync/internal/logger"
	"crmsync/internal/store"
	"crmsync/pkg/models"
)

// memoryStore is a minimal in-memory record store for end-to-end loop
// scenarios driven through the real Synchronizer.
type memoryStore struct {
	mu      sync.Mutex
	records map[string][]map[string]interface{}
	nextID  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string][]map[string]interface{})}
}

func (m *memoryStore) seedProduct(productID string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.records[constants.EntityProduct] = append(m.records[constants.EntityProduct], map[string]interface{}{
		"id":                     fmt.Sprintf("rec-%d", m.nextID),
		constants.FieldProductID: productID,
		constants.FieldStock:     stock,
	})
}

func (m *memoryStore) QueryByKey(ctx context.Context, entity, keyField, keyValue string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[entity] {
		if r[keyField] == keyValue {
			copied := make(map[string]interface{}, len(r))
			for k, v := range r {
				copied[k] = v
			}
			return copied, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) Create(ctx context.Context, entity string, fields map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("rec-%d", m.nextID)
	record := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		record[k] = v
	}
	record["id"] = id
	m.records[entity] = append(m.records[entity], record)
	return id, nil
}

func (m *memoryStore) Update(ctx context.Context, entity, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[entity] {
		if r["id"] == id {
			for k, v := range fields {
				r[k] = v
			}
			return nil
		}
	}
	return fmt.Errorf("no %s with id %s", entity, id)
}

func (m *memoryStore) UpsertByKey(ctx context.Context, entity, keyField, keyValue string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[entity] {
		if r[keyField] == keyValue {
			for k, v := range fields {
				r[k] = v
			}
			return nil
		}
	}
	m.nextID++
	record := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		record[k] = v
	}
	record[keyField] = keyValue
	record["id"] = fmt.Sprintf("rec-%d", m.nextID)
	m.records[entity] = append(m.records[entity], record)
	return nil
}

func (m *memoryStore) count(entity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[entity])
}

func (m *memoryStore) stockOf(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[constants.EntityProduct] {
		if r[constants.FieldProductID] == productID {
			switch v := r[constants.FieldStock].(type) {
			case int:
				return v
			case float64:
				return int(v)
			}
		}
	}
	return -1
}

func scenarioOrderMessage(messageID string, quantity int) []byte {
	msg := models.EventMessage{
		MessageID: messageID,
		Event:     models.EventCreateOrder,
		Timestamp: time.Now().UTC(),
		Payload: models.EventPayload{
			Order: &models.Order{
				ExternalOrderID: "ORD-1",
				Amount:          models.MoneyFromFloat(19.99).Mul(quantity),
				Status:          models.OrderStatusNew,
				Items: []models.OrderItem{
					{ProductID: "P1", Quantity: quantity, UnitPrice: models.MoneyFromFloat(19.99)},
				},
			},
		},
	}
	out, _ := json.Marshal(msg)
	return out
}

func newScenarioProcessor(recordStore *memoryStore, lg *fakeLedger, producer *fakeProducer) *Processor {
	log := logger.NopLogger()
	synchronizer := store.NewSynchronizer(recordStore, log)
	dlq := NewDeadLetterRouter(producer, testDLQTopic, log)
	return NewProcessor(Config{WorkTopic: testWorkTopic, MaxRetries: 3}, lg, synchronizer, producer, dlq, log)
}

func TestScenario_OrderDecrementsStockOnce(t *testing.T) {
	recordStore := newMemoryStore()
	recordStore.seedProduct("P1", 10)
	lg := newFakeLedger()
	producer := newFakeProducer()
	p := newScenarioProcessor(recordStore, lg, producer)
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, scenarioOrderMessage("msg-a", 3)))

	assert.Equal(t, 7, recordStore.stockOf("P1"))
	assert.Equal(t, 1, recordStore.count(constants.EntityOrder))
	assert.Equal(t, 1, recordStore.count(constants.EntityOrderLine))

	// Identical redelivery (same messageId): the ledger short-circuits,
	// nothing in the store moves.
	require.NoError(t, p.Handle(ctx, scenarioOrderMessage("msg-a", 3)))
	assert.Equal(t, 7, recordStore.stockOf("P1"))
	assert.Equal(t, 1, recordStore.count(constants.EntityOrder))
}

func TestScenario_DuplicateOrderUnderNewMessageID(t *testing.T) {
	recordStore := newMemoryStore()
	recordStore.seedProduct("P1", 10)
	lg := newFakeLedger()
	producer := newFakeProducer()
	p := newScenarioProcessor(recordStore, lg, producer)
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, scenarioOrderMessage("msg-a", 3)))
	assert.Equal(t, 7, recordStore.stockOf("P1"))

	// Same logical order republished under a fresh messageId (upstream
	// duplicate-publish): the order upsert reports it already exists, so
	// the stock decrement is skipped.
	require.NoError(t, p.Handle(ctx, scenarioOrderMessage("msg-b", 3)))
	assert.Equal(t, 7, recordStore.stockOf("P1"))
	assert.Equal(t, 1, recordStore.count(constants.EntityOrder))
	assert.Equal(t, 1, recordStore.count(constants.EntityOrderLine))
}

func TestScenario_InsufficientStockRejectedPermanently(t *testing.T) {
	recordStore := newMemoryStore()
	recordStore.seedProduct("P1", 10)
	lg := newFakeLedger()
	producer := newFakeProducer()
	p := newScenarioProcessor(recordStore, lg, producer)

	require.NoError(t, p.Handle(context.Background(), scenarioOrderMessage("msg-c", 15)))

	assert.Equal(t, 10, recordStore.stockOf("P1"))
	assert.Empty(t, producer.published)

	status, ok := lg.statusOf("msg-c")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, status)
}
