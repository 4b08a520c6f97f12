// Package usage records model calls made on behalf of a child and serves the
// parent dashboard built from them.
package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"moxie_companion/internal/models"
)

// Filter narrows a record listing. Zero fields do not filter.
type Filter struct {
	ChildID string
	Feature models.Feature
	From    time.Time
	To      time.Time
	Limit   int
}

// Match reports whether r passes the filter. From and To are inclusive.
func (f Filter) Match(r *models.UsageRecord) bool {
	if f.ChildID != "" && r.ChildProfileID != f.ChildID {
		return false
	}
	if f.Feature != "" && r.Feature != f.Feature {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Repository persists usage records. List returns newest first.
type Repository interface {
	Create(ctx context.Context, record *models.UsageRecord) error
	CreateBatch(ctx context.Context, records []*models.UsageRecord) error
	List(ctx context.Context, filter Filter) ([]models.UsageRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryRepository keeps records in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []models.UsageRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	r.records = append(r.records, *record)
	return nil
}

func (r *MemoryRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	for _, record := range records {
		if err := r.Create(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, filter Filter) ([]models.UsageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.UsageRecord, 0, len(r.records))
	for i := range r.records {
		if filter.Match(&r.records[i]) {
			out = append(out, r.records[i])
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.records[:0]
	var removed int64
	for _, rec := range r.records {
		if rec.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return removed, nil
}
