// Package games keeps per-child game history and derives the statistics
// and achievements shown in the games menu.
package games

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"moxie_companion/internal/jsonstore"
	"moxie_companion/internal/models"
	"moxie_companion/internal/utils"
)

// Achievement ids
const (
	AchievementFirstGame  = "first_game"
	AchievementPerfect    = "perfect"
	AchievementHighScorer = "high_scorer"
)

const (
	perfectMinGames = 5
	highScore       = 200
)

var (
	ErrUnknownGame    = errors.New("unknown game type")
	ErrInvalidChild   = errors.New("invalid child id")
	ErrInvalidSession = errors.New("invalid game session")
)

// history is the stored document for one child
type history struct {
	Sessions     []models.GameSession `json:"sessions"`
	Achievements map[string]time.Time `json:"achievements"`
}

// Service records game sessions in the JSON store
type Service struct {
	store  *jsonstore.Store
	mu     sync.Mutex
	logger *utils.Logger
	now    func() time.Time
}

func NewService(store *jsonstore.Store) *Service {
	return &Service{
		store:  store,
		logger: utils.NewLogger("games"),
		now:    time.Now,
	}
}

func historyName(childID string) (string, error) {
	if childID == "" || childID == "." || childID == ".." || strings.ContainsAny(childID, `/\`) {
		return "", ErrInvalidChild
	}
	return path.Join(jsonstore.DirGames, childID+".json"), nil
}

// StartGame opens a new, unsaved session of gameType for childID
func (s *Service) StartGame(childID string, gameType models.GameType, difficulty models.Difficulty) (*models.GameSession, error) {
	if !gameType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, gameType)
	}
	if _, err := historyName(childID); err != nil {
		return nil, err
	}
	if difficulty == "" {
		difficulty = models.DifficultyEasy
	}
	return &models.GameSession{
		ID:             uuid.NewString(),
		ChildProfileID: childID,
		GameType:       gameType,
		Difficulty:     difficulty,
		StartTime:      s.now().UTC(),
	}, nil
}

func validate(session *models.GameSession) error {
	if !session.GameType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownGame, session.GameType)
	}
	if session.Score < 0 || session.CorrectAnswers < 0 || session.QuestionsAnswered < 0 {
		return fmt.Errorf("%w: negative counts", ErrInvalidSession)
	}
	if session.CorrectAnswers > session.QuestionsAnswered {
		return fmt.Errorf("%w: more correct answers than questions", ErrInvalidSession)
	}
	return nil
}

// RecordSession stores session, replacing an earlier version with the same
// ID, and returns the updated statistics.
func (s *Service) RecordSession(session models.GameSession) (*models.GameStats, error) {
	name, err := historyName(session.ChildProfileID)
	if err != nil {
		return nil, err
	}
	if err := validate(&session); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.StartTime.IsZero() {
		session.StartTime = now
	}
	if session.IsCompleted && session.EndTime == nil {
		session.EndTime = &now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.load(name)
	if err != nil {
		return nil, err
	}

	replaced := false
	for i := range h.Sessions {
		if h.Sessions[i].ID == session.ID {
			h.Sessions[i] = session
			replaced = true
			break
		}
	}
	if !replaced {
		h.Sessions = append(h.Sessions, session)
	}

	stats := aggregate(h.Sessions)
	for _, id := range unlocked(stats) {
		if _, ok := h.Achievements[id]; !ok {
			h.Achievements[id] = now
			s.logger.Info("Achievement unlocked", "child", session.ChildProfileID, "achievement", id)
		}
	}
	stats.Achievements = achievementList(h.Achievements)

	if err := s.store.Save(name, h); err != nil {
		return nil, fmt.Errorf("failed to save game history: %w", err)
	}
	return stats, nil
}

// Stats returns the aggregated statistics for childID
func (s *Service) Stats(childID string) (*models.GameStats, error) {
	name, err := historyName(childID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.load(name)
	if err != nil {
		return nil, err
	}
	stats := aggregate(h.Sessions)
	stats.Achievements = achievementList(h.Achievements)
	return stats, nil
}

func (s *Service) load(name string) (*history, error) {
	var h history
	if err := s.store.Load(name, &h); err != nil && !errors.Is(err, jsonstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to load game history: %w", err)
	}
	if h.Achievements == nil {
		h.Achievements = make(map[string]time.Time)
	}
	return &h, nil
}

func aggregate(sessions []models.GameSession) *models.GameStats {
	stats := &models.GameStats{
		GamesByType:  make(map[models.GameType]int),
		Achievements: []string{},
	}

	answered := 0
	accuracy := 0.0
	for _, session := range sessions {
		stats.TotalGamesPlayed++
		stats.TotalPoints += session.Score
		stats.BestScore = max(stats.BestScore, session.Score)
		stats.GamesByType[session.GameType]++
		if session.QuestionsAnswered > 0 {
			answered++
			accuracy += session.Accuracy()
		}
	}
	if answered > 0 {
		stats.AverageAccuracy = accuracy / float64(answered)
	}
	return stats
}

// unlocked returns the achievements earned by stats
func unlocked(stats *models.GameStats) []string {
	var ids []string
	if stats.TotalGamesPlayed >= 1 {
		ids = append(ids, AchievementFirstGame)
	}
	if stats.TotalGamesPlayed >= perfectMinGames && stats.AverageAccuracy >= 1.0 {
		ids = append(ids, AchievementPerfect)
	}
	if stats.BestScore >= highScore {
		ids = append(ids, AchievementHighScorer)
	}
	return ids
}

// achievementList orders achievement ids by unlock time
func achievementList(achievements map[string]time.Time) []string {
	ids := make([]string, 0, len(achievements))
	for id := range achievements {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := achievements[ids[i]], achievements[ids[j]]
		if ti.Equal(tj) {
			return ids[i] < ids[j]
		}
		return ti.Before(tj)
	})
	return ids
}
