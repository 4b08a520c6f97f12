package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"moxie_companion/internal/models"
)

// DefaultRetention is how long ClearOld keeps records.
const DefaultRetention = 3

// Stats is the parent dashboard summary.
type Stats struct {
	TodayCost       float64 `json:"today_cost"`
	WeekCost        float64 `json:"week_cost"`
	MonthCost       float64 `json:"month_cost"`
	TotalTokens     int     `json:"total_tokens"`
	TotalSessions   int     `json:"total_sessions"`
	TotalRecords    int     `json:"total_records"`
	MostUsedModel   string  `json:"most_used_model"`
	MostActiveChild string  `json:"most_active_child"`
}

// Dashboard computes parent-facing usage views over a Repository.
type Dashboard struct {
	repo            Repository
	retentionMonths int
}

// NewDashboard creates a dashboard. retentionMonths <= 0 uses DefaultRetention.
func NewDashboard(repo Repository, retentionMonths int) *Dashboard {
	if retentionMonths <= 0 {
		retentionMonths = DefaultRetention
	}
	return &Dashboard{repo: repo, retentionMonths: retentionMonths}
}

// Stats summarizes the records that match filter as seen at now. Today is the
// calendar day of now; week and month are the trailing seven days and the
// trailing calendar month.
func (d *Dashboard) Stats(ctx context.Context, filter Filter, now time.Time) (*Stats, error) {
	filter.Limit = 0
	records, err := d.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return Summarize(records, now), nil
}

// Records lists records matching filter, newest first
func (d *Dashboard) Records(ctx context.Context, filter Filter) ([]models.UsageRecord, error) {
	return d.repo.List(ctx, filter)
}

// ClearOld deletes records older than the retention window
func (d *Dashboard) ClearOld(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, -d.retentionMonths, 0)
	removed, err := d.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clear old usage records: %w", err)
	}
	return removed, nil
}

// Summarize computes Stats over records.
func Summarize(records []models.UsageRecord, now time.Time) *Stats {
	y, m, dd := now.Date()
	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, -1, 0)

	stats := &Stats{TotalRecords: len(records)}
	sessions := make(map[string]struct{})
	modelCounts := make(map[string]int)
	childCounts := make(map[string]int)

	for i := range records {
		r := &records[i]
		ry, rm, rd := r.Timestamp.In(now.Location()).Date()
		if ry == y && rm == m && rd == dd {
			stats.TodayCost += r.EstimatedCost
		}
		if !r.Timestamp.Before(weekAgo) {
			stats.WeekCost += r.EstimatedCost
		}
		if !r.Timestamp.Before(monthAgo) {
			stats.MonthCost += r.EstimatedCost
		}

		stats.TotalTokens += r.TokensUsed
		sessions[r.SessionID] = struct{}{}
		modelCounts[r.Model]++
		childCounts[r.ChildProfileID]++
	}

	stats.TotalSessions = len(sessions)
	stats.MostUsedModel = mostFrequent(modelCounts)
	stats.MostActiveChild = mostFrequent(childCounts)
	return stats
}

// mostFrequent returns the key with the highest count; ties go to the
// lexically smallest key.
func mostFrequent(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestCount := "", 0
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}
