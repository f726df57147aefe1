package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"crmsync/internal/config"
	"crmsync/internal/constants"
	"crmsync/internal/logger"
	"crmsync/pkg/logging"
	"crmsync/pkg/retry"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, key string, value []byte) error {
	return p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
			Time:  time.Now(),
		},
	)
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg          config.KafkaConfig
	wg           sync.WaitGroup
	reader       *kafka.Reader
	logger       logger.Logger
	serviceName  string
	settlePolicy retry.Policy
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
		settlePolicy: retry.Policy{
			MaxAttempts:     constants.ConsumerSettleAttempts,
			InitialInterval: 1 * time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
		},
	}
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume fetches and settles strictly one message at a time: a delivery is
// committed only after the handler reports it settled, and the next fetch
// does not begin before that. QueueCapacity of one keeps the broker-side
// prefetch at a single in-flight unit of work.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:       c.cfg.Brokers,
		GroupID:       c.cfg.GroupID,
		Topic:         topic,
		QueueCapacity: 1,
		MinBytes:      1,
		MaxBytes:      10e6,
	})

	c.wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		// A shutdown stops intake but must let the message already being
		// synchronized run to completion, or the ledger and the external
		// store drift apart. The handler and the commit therefore run on a
		// detached context; only the fetch observes cancellation.
		handlerCtx := logging.WithServiceName(context.WithoutCancel(ctx), c.serviceName)

		c.logger.InfowCtx(consumeCtx, "Started consuming",
			"topic", topic,
		)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			if err := c.settleDelivery(ctx, handlerCtx, m.Value, handler); err != nil {
				// The offset must not advance past an unsettled
				// delivery: committing any later message would cover
				// this one and the group would never redeliver it.
				// Stop the reader instead; consumption resumes from
				// the last committed offset.
				c.logger.ErrorwCtx(consumeCtx, "Delivery could not be settled, stopping reader",
					"error", err,
					"topic", topic,
					"offset", m.Offset,
				)
				errCh <- fmt.Errorf("unsettled delivery at offset %d on %s: %w", m.Offset, topic, err)
				return
			}

			if err := c.reader.CommitMessages(handlerCtx, m); err != nil {
				c.logger.ErrorwCtx(consumeCtx, "Failed to commit message",
					"error", err,
					"topic", topic,
					"offset", m.Offset,
				)
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// settleDelivery runs the handler against one fetched message until it
// settles it. A handler error means no requeue copy, no DLQ copy, and no
// ledger record exist for the delivery yet, so retries stay on the same
// message rather than moving on. The backoff waits observe waitCtx so a
// shutdown is not held up, while the handler itself runs on the detached
// handlerCtx; any work a failed attempt completed is collapsed by the
// ledger on the next one.
func (c *KafkaConsumer) settleDelivery(waitCtx, handlerCtx context.Context, value []byte, handler HandlerFunc) error {
	return retry.Retry(waitCtx, c.settlePolicy, func() error {
		return handler(handlerCtx, value)
	})
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.wg.Wait()
	return err
}
