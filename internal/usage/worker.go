package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moxie_companion/internal/models"
	"moxie_companion/internal/queue"
	"moxie_companion/internal/utils"
)

// Worker drains the usage queue into a Repository.
type Worker struct {
	queue       queue.Queue[models.UsageRecord]
	dlq         queue.DeadLetterQueue[models.UsageRecord]
	repo        Repository
	config      *queue.Config
	logger      *utils.Logger
	sleep       func(time.Duration)
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a new usage worker. dlq may be nil.
func NewWorker(q queue.Queue[models.UsageRecord], dlq queue.DeadLetterQueue[models.UsageRecord], repo Repository, config *queue.Config) *Worker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &Worker{
		queue:       q,
		dlq:         dlq,
		repo:        repo,
		config:      config,
		logger:      utils.NewLogger("usage-worker"),
		sleep:       time.Sleep,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *Worker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Usage worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Usage worker context cancelled")
			return
		default:
			if done := w.processBatch(ctx); done {
				w.logger.Info("Usage queue closed, worker exiting")
				return
			}
		}
	}
}

// processBatch handles one batch and reports whether the queue is closed.
func (w *Worker) processBatch(ctx context.Context) bool {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		w.logger.Error("Failed to dequeue usage records", "error", err)
		w.sleep(time.Second)
		return false
	}

	if len(items) == 0 {
		return false
	}

	records := make([]*models.UsageRecord, len(items))
	for i := range items {
		records[i] = &items[i]
	}

	w.logger.Debug("Processing usage batch", "count", len(records))

	if err := w.repo.CreateBatch(ctx, records); err != nil {
		w.logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		for _, record := range records {
			if err := w.processItem(ctx, record); err != nil {
				w.logger.Error("Failed to process usage record", "error", err)
			}
		}
	}
	return false
}

// processItem inserts one record, retrying recoverable failures with
// exponential backoff.
func (w *Worker) processItem(ctx context.Context, record *models.UsageRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying usage record", "attempt", attempt, "backoff", backoff)
			w.sleep(backoff)
		}

		err := w.repo.Create(ctx, record)
		if err == nil {
			w.logger.Debug("Usage record inserted", "id", record.ID)
			return nil
		}

		lastErr = err
		w.logger.Error("Failed to insert usage record", "attempt", attempt, "error", err)
		if !utils.IsRecoverableError(err) {
			break
		}
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, *record, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Usage record moved to DLQ", "id", record.ID, "error", lastErr)
		}
	}

	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

// QueueLength returns the current queue length
func (w *Worker) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// DeadLetterItems returns items from the dead letter queue
func (w *Worker) DeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem[models.UsageRecord], error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem moves a failed record back onto the queue
func (w *Worker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, item := range items {
		if item.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, item.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}
