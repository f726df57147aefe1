package ledger

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"crmsync/internal/config"
	"crmsync/pkg/circuitbreaker"
)

// CircuitBreakerLedger shields the loop from a failing ledger backend. An
// open breaker surfaces as an error, which the loop treats as a retryable
// processing failure.
type CircuitBreakerLedger struct {
	ledger Ledger
	cb     *circuitbreaker.Wrapper
}

func NewCircuitBreakerLedger(ledger Ledger, cfg config.CircuitBreakerConfig) *CircuitBreakerLedger {
	if !cfg.Enabled {
		return &CircuitBreakerLedger{ledger: ledger}
	}

	cbConfig := circuitbreaker.DefaultConfig("idempotency-ledger")
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

	return &CircuitBreakerLedger{
		ledger: ledger,
		cb:     circuitbreaker.NewWrapper(cbConfig),
	}
}

func (l *CircuitBreakerLedger) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	if l.cb == nil {
		return l.ledger.IsProcessed(ctx, messageID)
	}

	result, err := l.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return l.ledger.IsProcessed(ctx, messageID)
	})

	l.cb.RecordRequest(err == nil)

	if err != nil {
		if l.cb.IsOpen() {
			return false, fmt.Errorf("circuit breaker is open for idempotency-ledger: %w", err)
		}
		return false, err
	}

	processed, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("ledger returned invalid result type")
	}

	return processed, nil
}

func (l *CircuitBreakerLedger) MarkProcessed(ctx context.Context, messageID string, status Status, errMsg string) error {
	if l.cb == nil {
		return l.ledger.MarkProcessed(ctx, messageID, status, errMsg)
	}

	_, err := l.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, l.ledger.MarkProcessed(ctx, messageID, status, errMsg)
	})

	l.cb.RecordRequest(err == nil)

	if err != nil && l.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for idempotency-ledger: %w", err)
	}
	return err
}
