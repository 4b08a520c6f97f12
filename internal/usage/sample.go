package usage

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"moxie_companion/internal/cost"
	"moxie_companion/internal/models"
)

var (
	sampleFeatures = []models.Feature{models.FeatureChat, models.FeatureGame, models.FeatureStory, models.FeatureLearning}
	sampleModels   = []string{"gpt-4", "gpt-3.5-turbo", "claude-3-sonnet"}
)

// SampleRecords generates n plausible records spread over the 30 days
// before now, for demo mode.
func SampleRecords(n int, now time.Time, rng *rand.Rand) []models.UsageRecord {
	records := make([]models.UsageRecord, 0, n)
	for i := 0; i < n; i++ {
		model := sampleModels[i%len(sampleModels)]
		tokens := 100 + rng.Intn(900)
		records = append(records, models.UsageRecord{
			ID:              uuid.New(),
			ChildProfileID:  fmt.Sprintf("child_%d", i%3),
			SessionID:       fmt.Sprintf("session_%d", i/5),
			Feature:         sampleFeatures[i%len(sampleFeatures)],
			Provider:        sampleProvider(model),
			Model:           model,
			OutputTokens:    tokens,
			TokensUsed:      tokens,
			EstimatedCost:   cost.Estimate(tokens, model),
			DurationSeconds: float64(30 + rng.Intn(300)),
			WasSuccessful:   true,
			Timestamp:       now.AddDate(0, 0, -rng.Intn(30)),
		})
	}
	return records
}

func sampleProvider(model string) string {
	if model == "claude-3-sonnet" {
		return "anthropic"
	}
	return "openai"
}
