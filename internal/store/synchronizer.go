package store

import (
	"context"
	"fmt"
	"time"

	"crmsync/internal/constants"
	"crmsync/internal/logger"
	"crmsync/pkg/errors"
	"crmsync/pkg/metrics"
	"crmsync/pkg/models"
	"crmsync/pkg/retry"
)

// Synchronizer translates domain operations into the query-then-write
// protocol the record store requires. The protocol is not atomic: two
// workers interleaving on the same order key can race the query against the
// write and create duplicates. Accepted under the stated usage pattern
// (single logical owner per order key, low concurrency); hardening would
// put a per-key lock or compare-and-set ahead of these methods.
type Synchronizer struct {
	store       RecordStore
	logger      logger.Logger
	queryPolicy retry.Policy
}

func NewSynchronizer(store RecordStore, log logger.Logger) *Synchronizer {
	return &Synchronizer{
		store:  store,
		logger: log,
		// Short in-call backoff for post-write re-queries, covering the
		// store's replication lag without consuming a queue-level retry.
		queryPolicy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
		},
	}
}

// SyncCustomer upserts the customer through the store's native external-key
// upsert, then re-queries for the store-assigned identifier because the
// write response does not reliably return it. A missing post-write record
// is replication lag, not corruption, and therefore retryable.
func (s *Synchronizer) SyncCustomer(ctx context.Context, c *models.Customer) (string, error) {
	fields := map[string]interface{}{
		"name":  c.Name,
		"email": c.Email,
	}
	if c.Phone != "" {
		fields["phone"] = c.Phone
	}
	if c.Address != "" {
		fields["address"] = c.Address
	}
	if c.City != "" {
		fields["city"] = c.City
	}
	if c.PostalCode != "" {
		fields["postalCode"] = c.PostalCode
	}

	if err := s.store.UpsertByKey(ctx, constants.EntityCustomer, constants.FieldCustomerExternalID, c.ExternalID, fields); err != nil {
		return "", err
	}

	id, err := s.requeryID(ctx, constants.EntityCustomer, constants.FieldCustomerExternalID, c.ExternalID)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.Transient(errors.CodeReplicationLag,
			fmt.Sprintf("customer %s not visible after upsert", c.ExternalID))
	}

	s.logger.InfowCtx(ctx, "Customer synchronized",
		"customer_external_id", c.ExternalID,
		"store_id", id,
	)
	return id, nil
}

// SyncOrder upserts the order by business key. The store has no native
// upsert for orders, so the protocol is query by the display-name field,
// then PATCH or POST. CreatedNew reflects what actually happened in the
// store and gates the stock decrement downstream.
func (s *Synchronizer) SyncOrder(ctx context.Context, o *models.Order, customerID string) (UpsertResult, error) {
	fields := map[string]interface{}{
		constants.FieldOrderName: o.ExternalOrderID,
		"amount":                 o.Amount.String(),
		"status":                 string(o.Status),
	}
	if customerID != "" {
		fields["customerId"] = customerID
	}

	existing, err := s.store.QueryByKey(ctx, constants.EntityOrder, constants.FieldOrderName, o.ExternalOrderID)
	if err != nil {
		return UpsertResult{}, err
	}

	if existing != nil {
		id := recordID(existing)
		if id == "" {
			return UpsertResult{}, errors.Transient(errors.CodeReplicationLag,
				fmt.Sprintf("order %s found without an id", o.ExternalOrderID))
		}
		if err := s.store.Update(ctx, constants.EntityOrder, id, fields); err != nil {
			return UpsertResult{}, err
		}
		s.logger.InfowCtx(ctx, "Order updated", "store_id", id)
		return UpsertResult{ID: id, CreatedNew: false}, nil
	}

	id, err := s.store.Create(ctx, constants.EntityOrder, fields)
	if err != nil {
		return UpsertResult{}, err
	}

	if id == "" {
		// Create succeeded but the response omitted the id; re-query
		// before declaring failure.
		id, err = s.requeryID(ctx, constants.EntityOrder, constants.FieldOrderName, o.ExternalOrderID)
		if err != nil {
			return UpsertResult{}, err
		}
		if id == "" {
			return UpsertResult{}, errors.Transient(errors.CodeReplicationLag,
				fmt.Sprintf("order %s not visible after create", o.ExternalOrderID))
		}
	}

	s.logger.InfowCtx(ctx, "Order created", "store_id", id)
	return UpsertResult{ID: id, CreatedNew: true}, nil
}

// SyncOrderLines writes one line per (order, product) composite key,
// sequentially. A failure on any line aborts the whole order with that
// line's classification; skipping a line silently would leave a partial
// financial record.
func (s *Synchronizer) SyncOrderLines(ctx context.Context, orderID string, o *models.Order) error {
	for _, item := range o.Items {
		lineKey := LineKey(o.ExternalOrderID, item.ProductID)
		fields := map[string]interface{}{
			constants.FieldLineKey: lineKey,
			"orderId":              orderID,
			"productId":            item.ProductID,
			"quantity":             item.Quantity,
			"unitPrice":            item.UnitPrice.String(),
			"lineTotal":            item.UnitPrice.Mul(item.Quantity).String(),
		}

		existing, err := s.store.QueryByKey(ctx, constants.EntityOrderLine, constants.FieldLineKey, lineKey)
		if err != nil {
			return err
		}

		if existing != nil {
			id := recordID(existing)
			if id == "" {
				return errors.Transient(errors.CodeReplicationLag,
					fmt.Sprintf("order line %s found without an id", lineKey))
			}
			if err := s.store.Update(ctx, constants.EntityOrderLine, id, fields); err != nil {
				return err
			}
			continue
		}

		if _, err := s.store.Create(ctx, constants.EntityOrderLine, fields); err != nil {
			return err
		}
	}

	return nil
}

// ApplyStockDecrements runs the guarded read-modify-write per item. It must
// only be called when the order upsert reported CreatedNew: the ledger
// guards per messageID, but the same logical order resubmitted under a new
// messageID is only caught here. Items are processed sequentially and the
// loop stops at the first violation without rolling back earlier items.
func (s *Synchronizer) ApplyStockDecrements(ctx context.Context, o *models.Order) error {
	for _, item := range o.Items {
		record, err := s.store.QueryByKey(ctx, constants.EntityProduct, constants.FieldProductID, item.ProductID)
		if err != nil {
			return err
		}
		if record == nil {
			return errors.Permanent(errors.CodeMissingLinkage,
				fmt.Sprintf("product %s not found in record store", item.ProductID))
		}

		id := recordID(record)
		current, ok := recordInt(record, constants.FieldStock)
		if id == "" || !ok {
			return errors.Transient(errors.CodeReplicationLag,
				fmt.Sprintf("product %s record is missing id or stock", item.ProductID))
		}

		remaining := current - item.Quantity
		if remaining < 0 {
			metrics.StockRejectionsTotal.Inc()
			return errors.Permanent(errors.CodeInsufficientStock,
				fmt.Sprintf("insufficient stock for product %s: have %d, need %d", item.ProductID, current, item.Quantity))
		}

		if err := s.store.Update(ctx, constants.EntityProduct, id, map[string]interface{}{
			constants.FieldStock: remaining,
		}); err != nil {
			return err
		}

		s.logger.InfowCtx(ctx, "Stock decremented",
			"product_id", item.ProductID,
			"quantity", item.Quantity,
			"remaining", remaining,
		)
	}

	return nil
}

// LineKey builds the composite key identifying one order line.
func LineKey(externalOrderID, productID string) string {
	return externalOrderID + ":" + productID
}

func (s *Synchronizer) requeryID(ctx context.Context, entity, keyField, keyValue string) (string, error) {
	var id string

	err := retry.Retry(ctx, s.queryPolicy, func() error {
		record, err := s.store.QueryByKey(ctx, entity, keyField, keyValue)
		if err != nil {
			return err
		}
		if record == nil {
			return errors.Transient(errors.CodeReplicationLag,
				fmt.Sprintf("%s %s not yet visible", entity, keyValue))
		}
		id = recordID(record)
		return nil
	})

	if err != nil {
		if errors.Code(err) == errors.CodeReplicationLag {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func recordID(record map[string]interface{}) string {
	if id, ok := record["id"].(string); ok {
		return id
	}
	return ""
}

// recordInt reads a numeric field that JSON decoding hands back as float64.
func recordInt(record map[string]interface{}, field string) (int, bool) {
	switch v := record[field].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
