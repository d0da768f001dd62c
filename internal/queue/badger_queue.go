package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// BadgerQueue is a persistent at-least-once queue on BadgerDB. Message data
// lives at queue:{name}:msg:{id}; a visibility index at
// queue:{name}:index:{visibleAt}:{id} keeps ready messages scannable in
// delivery order. Messages delivered maxReceive times move to
// queue:{name}:poison:{id} instead of being delivered again.
type BadgerQueue struct {
	db                *badger.DB
	name              string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

var _ interfaces.Queue = (*BadgerQueue)(nil)

// NewBadgerQueue creates a queue over an externally managed DB.
func NewBadgerQueue(db *badger.DB, name string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 20
	}

	return &BadgerQueue{
		db:                db,
		name:              name,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

func (q *BadgerQueue) Name() string {
	return q.name
}

// Enqueue adds a message, visible after the delay.
func (q *BadgerQueue) Enqueue(ctx context.Context, payload []byte, delay time.Duration) (string, error) {
	id := uuid.New().String()
	msg := interfaces.QueueMessage{
		ID:         id,
		Payload:    payload,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now().Add(delay),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(id), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, id), []byte{})
	})
	if err != nil {
		return "", models.Transient(fmt.Errorf("failed to enqueue on %s: %w", q.name, err))
	}
	return id, nil
}

// Receive claims the next visible message. The claim increments the receive
// count and hides the message for the visibility timeout; the returned ack
// removes it. Messages at the poison threshold are moved aside, never
// delivered.
func (q *BadgerQueue) Receive(ctx context.Context) (*interfaces.QueueMessage, func() error, error) {
	var claimed interfaces.QueueMessage
	found := false

	err := q.db.Update(func(txn *badger.Txn) error {
		found = false
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := q.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		var oldIndexKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}
			// Index keys sort by timestamp, so the first future entry ends
			// the scan.
			if ts.After(now) {
				break
			}

			msgItem, err := txn.Get(q.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Index entry without data, clean up and keep scanning
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var msg interfaces.QueueMessage
			if err := msgItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}

			if msg.ReceiveCount >= q.maxReceive {
				if err := q.poisonInTxn(txn, key, &msg); err != nil {
					return err
				}
				q.logger.Warn().
					Str("queue", q.name).
					Str("message_id", msg.ID).
					Int("receive_count", msg.ReceiveCount).
					Msg("Message exceeded max receives, moved to poison store")
				continue
			}

			claimed = msg
			oldIndexKey = key
			found = true
			break
		}

		if !found {
			// Commit anyway: orphan cleanup and poison moves must stick even
			// when nothing is deliverable.
			return nil
		}

		claimed.ReceiveCount++
		claimed.VisibleAt = time.Now().Add(q.visibilityTimeout)

		newData, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(claimed.ID), newData); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(claimed.VisibleAt, claimed.ID), []byte{})
	})

	if err != nil {
		return nil, nil, models.Transient(fmt.Errorf("failed to receive from %s: %w", q.name, err))
	}
	if !found {
		return nil, nil, models.ErrNoMessage
	}

	ack := func() error {
		return q.deleteMessage(claimed.ID)
	}
	return &claimed, ack, nil
}

// Nack reschedules an in-flight message after the delay. The delivery already
// counted when the message was received.
func (q *BadgerQueue) Nack(ctx context.Context, messageID string, delay time.Duration) error {
	return q.reschedule(messageID, delay)
}

// Extend pushes the visibility deadline out for a long-running handler.
func (q *BadgerQueue) Extend(ctx context.Context, messageID string, duration time.Duration) error {
	return q.reschedule(messageID, duration)
}

// Poison moves a message to the poison store without waiting for the
// threshold.
func (q *BadgerQueue) Poison(ctx context.Context, messageID string) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(messageID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
			}
			return err
		}
		var msg interfaces.QueueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}
		return q.poisonInTxn(txn, q.indexKey(msg.VisibleAt, messageID), &msg)
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return models.Transient(fmt.Errorf("failed to poison message on %s: %w", q.name, err))
	}
	q.logger.Warn().Str("queue", q.name).Str("message_id", messageID).Msg("Message moved to poison store")
	return nil
}

// PoisonCount reports how many messages this queue has poisoned.
func (q *BadgerQueue) PoisonCount(ctx context.Context) (int, error) {
	return q.countPrefix(q.poisonPrefix())
}

// Length reports pending messages, visible or not.
func (q *BadgerQueue) Length(ctx context.Context) (int, error) {
	return q.countPrefix(q.indexPrefix())
}

// poisonInTxn moves a message's data under the poison prefix and drops its
// index entry.
func (q *BadgerQueue) poisonInTxn(txn *badger.Txn, indexKey []byte, msg *interfaces.QueueMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := txn.Set(q.poisonKey(msg.ID), data); err != nil {
		return err
	}
	if err := txn.Delete(indexKey); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	if err := txn.Delete(q.msgKey(msg.ID)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	return nil
}

func (q *BadgerQueue) reschedule(messageID string, delay time.Duration) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(messageID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
			}
			return err
		}

		var msg interfaces.QueueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		oldIndexKey := q.indexKey(msg.VisibleAt, messageID)
		msg.VisibleAt = time.Now().Add(delay)

		newData, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(messageID), newData); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, messageID), []byte{})
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return models.Transient(fmt.Errorf("failed to reschedule message on %s: %w", q.name, err))
	}
	return nil
}

func (q *BadgerQueue) deleteMessage(messageID string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(messageID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already removed
			}
			return err
		}

		var msg interfaces.QueueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(msg.VisibleAt, messageID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(q.msgKey(messageID))
	})
}

func (q *BadgerQueue) countPrefix(prefix []byte) (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, models.Transient(fmt.Errorf("failed to scan %s: %w", q.name, err))
	}
	return count, nil
}

func (q *BadgerQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.name, id))
}

func (q *BadgerQueue) poisonKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:poison:%s", q.name, id))
}

func (q *BadgerQueue) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", q.name))
}

func (q *BadgerQueue) poisonPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:poison:", q.name))
}

// indexKey zero pads the timestamp to 20 digits so lexicographic ordering
// matches numeric ordering.
func (q *BadgerQueue) indexKey(visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.name, visibleAt.UnixNano(), id))
}

func (q *BadgerQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := q.indexPrefix()
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	// Suffix is "{20-digit-ts}:{id}"
	suffix := string(key[len(prefix):])
	if len(suffix) < 22 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}

// BadgerProvider hands out queues sharing one DB. The DB belongs to the
// storage manager; Close here does not close it.
type BadgerProvider struct {
	db                *badger.DB
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger

	mu     sync.Mutex
	queues map[string]*BadgerQueue
}

var _ interfaces.QueueProvider = (*BadgerProvider)(nil)

func NewBadgerProvider(db *badger.DB, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*BadgerProvider, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	return &BadgerProvider{
		db:                db,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
		queues:            map[string]*BadgerQueue{},
	}, nil
}

func (p *BadgerProvider) GetQueue(name string) (interfaces.Queue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.queues[name]; ok {
		return q, nil
	}
	q, err := NewBadgerQueue(p.db, name, p.visibilityTimeout, p.maxReceive, p.logger)
	if err != nil {
		return nil, err
	}
	p.queues[name] = q
	return q, nil
}

func (p *BadgerProvider) Close() error {
	return nil
}
