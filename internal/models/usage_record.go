package models

import (
	"time"

	"github.com/google/uuid"
)

// Feature is the companion feature that consumed model tokens.
type Feature string

const (
	FeatureChat     Feature = "chat"
	FeatureGame     Feature = "game"
	FeatureStory    Feature = "story"
	FeatureLearning Feature = "learning"
)

// Valid reports whether f is a known feature
func (f Feature) Valid() bool {
	switch f {
	case FeatureChat, FeatureGame, FeatureStory, FeatureLearning:
		return true
	}
	return false
}

// UsageRecord is one model call made on behalf of a child
type UsageRecord struct {
	ID              uuid.UUID `db:"id" json:"id"`
	ChildProfileID  string    `db:"child_profile_id" json:"child_profile_id"`
	SessionID       string    `db:"session_id" json:"session_id"`
	Feature         Feature   `db:"feature" json:"feature"`
	Provider        string    `db:"provider" json:"provider"`
	Model           string    `db:"model" json:"model"`
	InputTokens     int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens    int       `db:"output_tokens" json:"output_tokens"`
	TokensUsed      int       `db:"tokens_used" json:"tokens_used"`
	EstimatedCost   float64   `db:"estimated_cost" json:"estimated_cost"`
	DurationSeconds float64   `db:"duration_seconds" json:"duration_seconds"`
	WasSuccessful   bool      `db:"was_successful" json:"was_successful"`
	ErrorMessage    string    `db:"error_message" json:"error_message,omitempty"`
	Timestamp       time.Time `db:"timestamp" json:"timestamp"`
}
