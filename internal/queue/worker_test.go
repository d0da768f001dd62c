package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestWorkerPoolProcessesMessages(t *testing.T) {
	logger := arbor.NewLogger()
	q := NewMemoryQueue("steps-extract", time.Minute, 5, logger)

	var mu sync.Mutex
	var seen []string

	pool := NewWorkerPool(10*time.Millisecond, 2, logger)
	pool.Bind(q, func(ctx context.Context, msg *interfaces.QueueMessage) error {
		mu.Lock()
		seen = append(seen, string(msg.Payload))
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	for _, payload := range []string{"a", "b", "c"} {
		if _, err := q.Enqueue(ctx, []byte(payload), 0); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	pool.Start()
	defer pool.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 0 {
		t.Errorf("Expected drained queue, got length %d", length)
	}
}

func TestWorkerPoolRetriesTransientErrors(t *testing.T) {
	logger := arbor.NewLogger()
	q := NewMemoryQueue("steps-embed", time.Minute, 10, logger)

	var mu sync.Mutex
	attempts := 0

	pool := NewWorkerPool(5*time.Millisecond, 1, logger)
	pool.Bind(q, func(ctx context.Context, msg *interfaces.QueueMessage) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return models.Transient(errors.New("backend hiccup"))
		}
		return nil
	})

	if _, err := q.Enqueue(context.Background(), []byte("x"), 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	waitFor(t, 10*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 3
	})

	waitFor(t, 2*time.Second, func() bool {
		length, err := q.Length(context.Background())
		return err == nil && length == 0
	})
}

func TestWorkerPoolAcksFatalErrors(t *testing.T) {
	logger := arbor.NewLogger()
	q := NewMemoryQueue("steps-save", time.Minute, 5, logger)

	var mu sync.Mutex
	attempts := 0

	pool := NewWorkerPool(5*time.Millisecond, 1, logger)
	pool.Bind(q, func(ctx context.Context, msg *interfaces.QueueMessage) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return models.Fatal(errors.New("pipeline marked failed"))
	})

	if _, err := q.Enqueue(context.Background(), []byte("x"), 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	waitFor(t, 2*time.Second, func() bool {
		length, err := q.Length(context.Background())
		return err == nil && length == 0
	})

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 1 {
		t.Errorf("Expected exactly one attempt for a fatal error, got %d", got)
	}
}

func TestWorkerPoolPoisonsMalformedMessages(t *testing.T) {
	logger := arbor.NewLogger()
	q := NewMemoryQueue("steps-partition", time.Minute, 5, logger)

	pool := NewWorkerPool(5*time.Millisecond, 1, logger)
	pool.Bind(q, func(ctx context.Context, msg *interfaces.QueueMessage) error {
		return models.NewValidationError("unparsable payload")
	})

	if _, err := q.Enqueue(context.Background(), []byte("not json"), 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	waitFor(t, 2*time.Second, func() bool {
		poisoned, err := q.PoisonCount(context.Background())
		return err == nil && poisoned == 1
	})
}
