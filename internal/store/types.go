package store

import (
	"context"
)

// RecordStore is the transport-level surface of the external record store.
// QueryByKey returns nil when no record matches. UpsertByKey is the native
// update-or-insert the store offers for entities with a real external-key
// index (customers); orders have no such index and go through the
// query-then-write protocol in Synchronizer instead.
//
// Every error returned by an implementation must carry a retry verdict
// (pkg/errors.Classify) so callers never inspect transport details.
type RecordStore interface {
	QueryByKey(ctx context.Context, entity, keyField, keyValue string) (map[string]interface{}, error)
	Create(ctx context.Context, entity string, fields map[string]interface{}) (string, error)
	Update(ctx context.Context, entity, id string, fields map[string]interface{}) error
	UpsertByKey(ctx context.Context, entity, keyField, keyValue string, fields map[string]interface{}) error
}

// UpsertResult reports the store identifier of the written record and
// whether this call created it. CreatedNew gates stock mutation and must be
// computed from the store's actual state, never assumed.
type UpsertResult struct {
	ID         string
	CreatedNew bool
}
