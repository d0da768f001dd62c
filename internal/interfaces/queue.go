package interfaces

import (
	"context"
	"time"
)

// QueueMessage is the delivery envelope handed to workers.
type QueueMessage struct {
	ID           string
	Payload      []byte
	EnqueuedAt   time.Time
	VisibleAt    time.Time
	ReceiveCount int
	DedupID      string
}

// Queue is one named at-least-once queue. Messages received stay invisible
// for the queue's visibility timeout; unacked messages are redelivered until
// the poison threshold moves them to the poison store.
type Queue interface {
	Name() string

	// Enqueue schedules a payload, optionally delayed. Returns the message id.
	Enqueue(ctx context.Context, payload []byte, delay time.Duration) (string, error)

	// Receive returns the next visible message and an ack function that
	// removes it. models.ErrNoMessage when the queue is empty.
	Receive(ctx context.Context) (*QueueMessage, func() error, error)

	// Nack makes the message visible again after delay, without counting an
	// extra delivery.
	Nack(ctx context.Context, messageID string, delay time.Duration) error

	// Extend pushes the message's visibility deadline out for long handlers.
	Extend(ctx context.Context, messageID string, duration time.Duration) error

	// Poison moves the message to the poison store immediately.
	Poison(ctx context.Context, messageID string) error

	// PoisonCount reports how many messages this queue has poisoned.
	PoisonCount(ctx context.Context) (int, error)

	// Length reports the number of pending messages, visible or not.
	Length(ctx context.Context) (int, error)
}

// QueueProvider hands out queues by name. In distributed mode each pipeline
// step has a queue named after it.
type QueueProvider interface {
	GetQueue(name string) (Queue, error)
	Close() error
}
