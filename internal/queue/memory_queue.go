package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// MemoryQueue is the in-process queue used when durability is not required.
// Same visibility and poison semantics as the badger queue, no persistence.
type MemoryQueue struct {
	name              string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger

	mu       sync.Mutex
	messages map[string]*interfaces.QueueMessage
	poisoned map[string]*interfaces.QueueMessage
}

var _ interfaces.Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(name string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) *MemoryQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 20
	}
	return &MemoryQueue{
		name:              name,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
		messages:          map[string]*interfaces.QueueMessage{},
		poisoned:          map[string]*interfaces.QueueMessage{},
	}
}

func (q *MemoryQueue) Name() string {
	return q.name
}

func (q *MemoryQueue) Enqueue(ctx context.Context, payload []byte, delay time.Duration) (string, error) {
	id := uuid.New().String()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages[id] = &interfaces.QueueMessage{
		ID:         id,
		Payload:    payload,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now().Add(delay),
	}
	return id, nil
}

func (q *MemoryQueue) Receive(ctx context.Context) (*interfaces.QueueMessage, func() error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()

	// Visit candidates in visibility order so redeliveries stay fair.
	ids := make([]string, 0, len(q.messages))
	for id := range q.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return q.messages[ids[i]].VisibleAt.Before(q.messages[ids[j]].VisibleAt)
	})

	for _, id := range ids {
		msg := q.messages[id]
		if msg.VisibleAt.After(now) {
			break
		}
		if msg.ReceiveCount >= q.maxReceive {
			q.poisoned[id] = msg
			delete(q.messages, id)
			q.logger.Warn().
				Str("queue", q.name).
				Str("message_id", id).
				Int("receive_count", msg.ReceiveCount).
				Msg("Message exceeded max receives, moved to poison store")
			continue
		}

		msg.ReceiveCount++
		msg.VisibleAt = now.Add(q.visibilityTimeout)

		delivered := *msg
		ack := func() error {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.messages, id)
			return nil
		}
		return &delivered, ack, nil
	}

	return nil, nil, models.ErrNoMessage
}

func (q *MemoryQueue) Nack(ctx context.Context, messageID string, delay time.Duration) error {
	return q.reschedule(messageID, delay)
}

func (q *MemoryQueue) Extend(ctx context.Context, messageID string, duration time.Duration) error {
	return q.reschedule(messageID, duration)
}

func (q *MemoryQueue) Poison(ctx context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	q.poisoned[messageID] = msg
	delete(q.messages, messageID)
	q.logger.Warn().Str("queue", q.name).Str("message_id", messageID).Msg("Message moved to poison store")
	return nil
}

func (q *MemoryQueue) PoisonCount(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.poisoned), nil
}

func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages), nil
}

func (q *MemoryQueue) reschedule(messageID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	msg.VisibleAt = time.Now().Add(delay)
	return nil
}

// MemoryProvider hands out in-process queues by name.
type MemoryProvider struct {
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger

	mu     sync.Mutex
	queues map[string]*MemoryQueue
}

var _ interfaces.QueueProvider = (*MemoryProvider)(nil)

func NewMemoryProvider(visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) *MemoryProvider {
	return &MemoryProvider{
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
		queues:            map[string]*MemoryQueue{},
	}
}

func (p *MemoryProvider) GetQueue(name string) (interfaces.Queue, error) {
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.queues[name]; ok {
		return q, nil
	}
	q := NewMemoryQueue(name, p.visibilityTimeout, p.maxReceive, p.logger)
	p.queues[name] = q
	return q, nil
}

func (p *MemoryProvider) Close() error {
	return nil
}
