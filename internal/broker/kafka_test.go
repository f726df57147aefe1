package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/config"
	"crmsync/internal/logger"
	"crmsync/pkg/errors"
	"crmsync/pkg/retry"
)

func newSettleConsumer(maxAttempts int) *KafkaConsumer {
	c := NewKafkaConsumer(config.KafkaConfig{}, logger.NopLogger())
	c.settlePolicy = retry.Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
	return c
}

func TestSettleDelivery_RetriesSameMessageUntilSettled(t *testing.T) {
	c := newSettleConsumer(5)

	calls := 0
	var seen [][]byte
	handler := func(ctx context.Context, value []byte) error {
		calls++
		seen = append(seen, value)
		if calls < 3 {
			return errors.Transient(errors.CodeNetwork, "requeue publish failed")
		}
		return nil
	}

	err := c.settleDelivery(context.Background(), context.Background(), []byte("msg-1"), handler)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	for _, v := range seen {
		assert.Equal(t, []byte("msg-1"), v)
	}
}

func TestSettleDelivery_ExhaustedBudgetSurfacesError(t *testing.T) {
	c := newSettleConsumer(3)

	calls := 0
	handler := func(ctx context.Context, value []byte) error {
		calls++
		return errors.Transient(errors.CodeNetwork, "requeue publish failed")
	}

	err := c.settleDelivery(context.Background(), context.Background(), []byte("msg-1"), handler)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestSettleDelivery_ShutdownStopsRetries(t *testing.T) {
	c := newSettleConsumer(10)
	waitCtx, cancel := context.WithCancel(context.Background())

	calls := 0
	handler := func(ctx context.Context, value []byte) error {
		calls++
		cancel()
		return errors.Transient(errors.CodeNetwork, "requeue publish failed")
	}

	err := c.settleDelivery(waitCtx, context.Background(), []byte("msg-1"), handler)

	require.Error(t, err)
	assert.Equal(t, 1, calls, "backoff wait should observe the canceled context")
}
