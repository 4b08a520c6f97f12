package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moxie_companion/internal/models"
)

var baseTime = time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

func rec(child, session, model string, feature models.Feature, tokens int, cost float64, at time.Time) *models.UsageRecord {
	return &models.UsageRecord{
		ChildProfileID: child,
		SessionID:      session,
		Feature:        feature,
		Model:          model,
		TokensUsed:     tokens,
		EstimatedCost:  cost,
		WasSuccessful:  true,
		Timestamp:      at,
	}
}

func TestFilter_Match(t *testing.T) {
	r := rec("child-1", "s1", "gpt-4", models.FeatureChat, 10, 0.1, baseTime)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"child match", Filter{ChildID: "child-1"}, true},
		{"child mismatch", Filter{ChildID: "child-2"}, false},
		{"feature mismatch", Filter{Feature: models.FeatureGame}, false},
		{"inclusive from", Filter{From: baseTime}, true},
		{"inclusive to", Filter{To: baseTime}, true},
		{"after range", Filter{To: baseTime.Add(-time.Second)}, false},
		{"before range", Filter{From: baseTime.Add(time.Second)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(r))
		})
	}
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	old := rec("child-1", "s1", "gpt-4", models.FeatureChat, 10, 0.1, baseTime.AddDate(0, -4, 0))
	mid := rec("child-2", "s2", "gpt-4", models.FeatureGame, 20, 0.2, baseTime.AddDate(0, 0, -1))
	recent := rec("child-1", "s3", "gpt-4", models.FeatureChat, 30, 0.3, baseTime)

	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.CreateBatch(ctx, []*models.UsageRecord{recent, mid}))
	assert.NotEqual(t, uuid.Nil, old.ID)

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, recent.ID, all[0].ID, "newest first")
	assert.Equal(t, old.ID, all[2].ID)

	limited, err := repo.List(ctx, Filter{ChildID: "child-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, recent.ID, limited[0].ID)

	removed, err := repo.DeleteOlderThan(ctx, baseTime.AddDate(0, -3, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	all, _ = repo.List(ctx, Filter{})
	assert.Len(t, all, 2)
}
