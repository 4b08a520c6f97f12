// Package queue moves records from the request path to background workers.
// MemoryQueue is a buffered channel and loses its contents on restart; it is
// the default for a companion running on a single desktop. RedisQueue keeps
// records in a Redis list so they survive restarts of the companion process.
// Records the usage worker cannot store after its retries go to a dead
// letter queue.
package queue

import (
	"context"
	"time"
)

// Queue is a FIFO of T.
type Queue[T any] interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item T) error

	// Dequeue blocks until at least one item is available and returns up
	// to maxItems
	Dequeue(ctx context.Context, maxItems int) ([]T, error)

	// DequeueWithTimeout is Dequeue that gives up after timeout and returns
	// an empty slice
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue keeps items whose processing failed for good.
type DeadLetterQueue[T any] interface {
	Add(ctx context.Context, item T, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem is a failed item with its last error.
type DeadLetterItem[T any] struct {
	ID        string    `json:"id"`
	Item      T         `json:"item"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Retries   int       `json:"retries"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		QueueName:    queueName,
	}
}
