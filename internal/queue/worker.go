package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// MessageHandler processes one delivery. The pool acks on nil, acks fatal
// errors too (the handler has already recorded the failure), poisons
// validation errors since a malformed payload never improves, and nacks
// everything else for redelivery.
type MessageHandler func(ctx context.Context, msg *interfaces.QueueMessage) error

// Backoff bounds for idle polling.
const (
	maxIdleBackoff = 5 * time.Second
	maxRetryDelay  = 30 * time.Second
)

type binding struct {
	queue   interfaces.Queue
	handler MessageHandler
}

// WorkerPool runs concurrency goroutines that drain a set of queue/handler
// bindings. Workers back off while every queue is empty and reset as soon as
// a message arrives.
type WorkerPool struct {
	bindings     []binding
	pollInterval time.Duration
	concurrency  int
	logger       arbor.ILogger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWorkerPool creates a stopped pool. Bind queues before Start.
func NewWorkerPool(pollInterval time.Duration, concurrency int, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	if concurrency < 1 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &WorkerPool{
		pollInterval: pollInterval,
		concurrency:  concurrency,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Bind attaches a handler to a queue. Not safe to call after Start.
func (wp *WorkerPool) Bind(q interfaces.Queue, handler MessageHandler) {
	wp.bindings = append(wp.bindings, binding{queue: q, handler: handler})
	wp.logger.Debug().Str("queue", q.Name()).Msg("Queue handler bound")
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		wp.logger.Warn().Msg("Worker pool already running")
		return
	}
	wp.running = true

	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Int("queues", len(wp.bindings)).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		wp.wg.Add(1)
		go wp.work(i)
	}
}

// Stop cancels the workers and waits for in-flight handlers to return.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	wp.mu.Unlock()

	wp.logger.Info().Msg("Stopping worker pool...")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info().Msg("Worker pool stopped")
}

func (wp *WorkerPool) work(workerID int) {
	defer wp.wg.Done()

	// Keep a panicking handler from taking the process down silently.
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			wp.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Int("worker_id", workerID).
				Msg("Worker goroutine panicked")
		}
	}()

	// Stagger start to spread contention on the shared database.
	stagger := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if stagger > 0 {
		select {
		case <-wp.ctx.Done():
			return
		case <-time.After(stagger):
		}
	}

	wp.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

	backoff := wp.pollInterval
	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return
		case <-time.After(backoff):
		}

		if wp.drainOnce(workerID) {
			backoff = wp.pollInterval
		} else {
			backoff *= 2
			if backoff > maxIdleBackoff {
				backoff = maxIdleBackoff
			}
		}
	}
}

// drainOnce attempts one receive per binding. Reports whether any message was
// processed.
func (wp *WorkerPool) drainOnce(workerID int) bool {
	processed := false
	for _, b := range wp.bindings {
		if wp.ctx.Err() != nil {
			return processed
		}
		if wp.processOne(workerID, b) {
			processed = true
		}
	}
	return processed
}

func (wp *WorkerPool) processOne(workerID int, b binding) bool {
	msg, ack, err := b.queue.Receive(wp.ctx)
	if err != nil {
		if !errors.Is(err, models.ErrNoMessage) {
			wp.logger.Warn().
				Err(err).
				Str("queue", b.queue.Name()).
				Int("worker_id", workerID).
				Msg("Error receiving message")
		}
		return false
	}

	start := time.Now()
	handlerErr := b.handler(wp.ctx, msg)
	duration := time.Since(start)

	switch {
	case handlerErr == nil:
		if err := ack(); err != nil {
			wp.logger.Warn().
				Err(err).
				Str("queue", b.queue.Name()).
				Str("message_id", msg.ID).
				Msg("Failed to ack message")
		}
		wp.logger.Debug().
			Str("queue", b.queue.Name()).
			Str("message_id", msg.ID).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Message processed")

	case models.IsValidation(handlerErr):
		wp.logger.Error().
			Err(handlerErr).
			Str("queue", b.queue.Name()).
			Str("message_id", msg.ID).
			Msg("Malformed message, poisoning")
		if err := b.queue.Poison(wp.ctx, msg.ID); err != nil {
			wp.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to poison message")
		}

	case models.IsFatal(handlerErr):
		wp.logger.Error().
			Err(handlerErr).
			Str("queue", b.queue.Name()).
			Str("message_id", msg.ID).
			Dur("duration", duration).
			Msg("Handler failed fatally")
		if err := ack(); err != nil {
			wp.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to ack message after fatal error")
		}

	default:
		delay := retryDelay(msg.ReceiveCount)
		wp.logger.Warn().
			Err(handlerErr).
			Str("queue", b.queue.Name()).
			Str("message_id", msg.ID).
			Int("receive_count", msg.ReceiveCount).
			Dur("retry_delay", delay).
			Msg("Handler failed, message will redeliver")
		if err := b.queue.Nack(wp.ctx, msg.ID, delay); err != nil {
			wp.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to nack message")
		}
	}

	return true
}

// retryDelay grows linearly with delivery attempts so a struggling dependency
// gets breathing room before the poison threshold hits.
func retryDelay(receiveCount int) time.Duration {
	delay := time.Duration(receiveCount) * time.Second
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
