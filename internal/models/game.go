package models

import "time"

// GameType identifies a game in the games menu
type GameType string

const (
	GameTrivia         GameType = "trivia"
	GameSpellingBee    GameType = "spelling_bee"
	GameMovieLines     GameType = "movie_lines"
	GameVideoGames     GameType = "video_games"
	GameKnowledgeQuest GameType = "knowledge_quest"
)

// GameTypes lists every game in menu order
var GameTypes = []GameType{GameTrivia, GameSpellingBee, GameMovieLines, GameVideoGames, GameKnowledgeQuest}

// Valid reports whether g is a known game
func (g GameType) Valid() bool {
	for _, t := range GameTypes {
		if t == g {
			return true
		}
	}
	return false
}

// Difficulty of a game session
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// GameSession is one played game
type GameSession struct {
	ID                string     `json:"id"`
	ChildProfileID    string     `json:"child_profile_id"`
	GameType          GameType   `json:"game_type"`
	Difficulty        Difficulty `json:"difficulty,omitempty"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	Score             int        `json:"score"`
	CorrectAnswers    int        `json:"correct_answers"`
	QuestionsAnswered int        `json:"questions_answered"`
	IsCompleted       bool       `json:"is_completed"`
}

// Accuracy is the fraction of correct answers, 0 when nothing was answered
func (s GameSession) Accuracy() float64 {
	if s.QuestionsAnswered <= 0 {
		return 0
	}
	return float64(s.CorrectAnswers) / float64(s.QuestionsAnswered)
}

// GameStats aggregates a child's sessions for the games menu
type GameStats struct {
	TotalGamesPlayed int              `json:"total_games_played"`
	TotalPoints      int              `json:"total_points"`
	BestScore        int              `json:"best_score"`
	AverageAccuracy  float64          `json:"average_accuracy"`
	GamesByType      map[GameType]int `json:"games_by_type"`
	Achievements     []string         `json:"achievements"`
}
