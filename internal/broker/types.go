package broker

import (
	"context"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key string, value []byte) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc settles a single delivery. A nil return means the message is
// fully settled (processed, requeued, rejected, or dead-lettered) and may be
// committed; an error means the delivery could not be settled and the
// consumer must not advance past it.
type HandlerFunc func(ctx context.Context, value []byte) error
