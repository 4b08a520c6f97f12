package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"moxie_companion/internal/billing"
	"moxie_companion/internal/cost"
	"moxie_companion/internal/models"
	"moxie_companion/internal/queue"
	"moxie_companion/internal/utils"
)

// Call describes one finished model call.
type Call struct {
	ChildID      string
	SessionID    string
	Feature      models.Feature
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Err          error
}

// Recorder turns finished calls into usage records, queues them for the
// worker and adds their cost to the child's spend.
type Recorder struct {
	queue  queue.Queue[models.UsageRecord]
	spend  billing.SpendTracker
	logger *utils.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder. A nil spend tracker disables spend tracking.
func NewRecorder(q queue.Queue[models.UsageRecord], spend billing.SpendTracker) *Recorder {
	if spend == nil {
		spend = billing.NewNoopTracker()
	}
	return &Recorder{
		queue:  q,
		spend:  spend,
		logger: utils.NewLogger("usage"),
		now:    time.Now,
	}
}

// Record builds the usage record for call and enqueues it.
func (r *Recorder) Record(ctx context.Context, call Call) (*models.UsageRecord, error) {
	record := r.buildRecord(call)

	if err := r.queue.Enqueue(ctx, *record); err != nil {
		return nil, fmt.Errorf("failed to enqueue usage record: %w", err)
	}

	if record.EstimatedCost > 0 {
		if err := r.spend.AddSpend(ctx, record.ChildProfileID, record.EstimatedCost); err != nil {
			r.logger.Warn("Failed to add spend", "child", record.ChildProfileID, "error", err)
		}
	}

	r.logger.Debug("Usage recorded",
		"child", record.ChildProfileID,
		"model", record.Model,
		"tokens", record.TokensUsed,
		"cost", record.EstimatedCost,
		"success", record.WasSuccessful,
	)
	return record, nil
}

// WithinBudget reports whether the child may make another call
func (r *Recorder) WithinBudget(ctx context.Context, childID string) bool {
	return r.spend.WithinBudget(ctx, childID)
}

func (r *Recorder) buildRecord(call Call) *models.UsageRecord {
	feature := call.Feature
	if !feature.Valid() {
		feature = models.FeatureChat
	}

	tokens := call.InputTokens + call.OutputTokens
	record := &models.UsageRecord{
		ID:              uuid.New(),
		ChildProfileID:  call.ChildID,
		SessionID:       call.SessionID,
		Feature:         feature,
		Provider:        call.Provider,
		Model:           call.Model,
		InputTokens:     call.InputTokens,
		OutputTokens:    call.OutputTokens,
		TokensUsed:      tokens,
		EstimatedCost:   cost.Estimate(tokens, call.Model),
		DurationSeconds: call.Duration.Seconds(),
		WasSuccessful:   call.Err == nil,
		Timestamp:       r.now(),
	}
	if call.Err != nil {
		record.ErrorMessage = call.Err.Error()
	}
	return record
}
