package store

import (
	"context"
	stderrors "errors"

	"github.com/sony/gobreaker"

	"crmsync/internal/config"
	"crmsync/pkg/circuitbreaker"
	"crmsync/pkg/errors"
)

// CircuitBreakerStore wraps a RecordStore; an open breaker surfaces as a
// transient classified error so rejected calls flow through the normal
// requeue path instead of hammering a failing store.
type CircuitBreakerStore struct {
	store RecordStore
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store RecordStore, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{store: store}
	}

	cbConfig := circuitbreaker.DefaultConfig("record-store")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) QueryByKey(ctx context.Context, entity, keyField, keyValue string) (map[string]interface{}, error) {
	if s.cb == nil {
		return s.store.QueryByKey(ctx, entity, keyField, keyValue)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.QueryByKey(ctx, entity, keyField, keyValue)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil {
		return nil, s.classifyBreakerError(err)
	}
	if result == nil {
		return nil, nil
	}
	record, _ := result.(map[string]interface{})
	return record, nil
}

func (s *CircuitBreakerStore) Create(ctx context.Context, entity string, fields map[string]interface{}) (string, error) {
	if s.cb == nil {
		return s.store.Create(ctx, entity, fields)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.Create(ctx, entity, fields)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil {
		return "", s.classifyBreakerError(err)
	}
	id, _ := result.(string)
	return id, nil
}

func (s *CircuitBreakerStore) Update(ctx context.Context, entity, id string, fields map[string]interface{}) error {
	if s.cb == nil {
		return s.store.Update(ctx, entity, id, fields)
	}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.Update(ctx, entity, id, fields)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil {
		return s.classifyBreakerError(err)
	}
	return nil
}

func (s *CircuitBreakerStore) UpsertByKey(ctx context.Context, entity, keyField, keyValue string, fields map[string]interface{}) error {
	if s.cb == nil {
		return s.store.UpsertByKey(ctx, entity, keyField, keyValue, fields)
	}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.UpsertByKey(ctx, entity, keyField, keyValue, fields)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil {
		return s.classifyBreakerError(err)
	}
	return nil
}

// classifyBreakerError keeps already-classified errors intact and wraps
// breaker-internal rejections (open state, too many requests) as transient.
func (s *CircuitBreakerStore) classifyBreakerError(err error) error {
	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		return err
	}
	if s.cb != nil && s.cb.IsOpen() {
		return errors.Transient(errors.CodeNetwork, "circuit breaker is open for record-store").WithCause(err)
	}
	return errors.Classify(0, err)
}
