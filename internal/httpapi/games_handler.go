package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"moxie_companion/internal/games"
	"moxie_companion/internal/models"
	"moxie_companion/internal/utils"
)

// StartGameRequest opens a game for a child, the active one when empty
type StartGameRequest struct {
	ChildID    string            `json:"child_id,omitempty"`
	GameType   models.GameType   `json:"game_type"`
	Difficulty models.Difficulty `json:"difficulty,omitempty"`
}

func (d *Dependencies) childID(requested string) string {
	if requested != "" {
		return requested
	}
	return d.Chat.Conversation().ChildProfileID
}

func gamesStatus(err error) int {
	switch {
	case errors.Is(err, games.ErrUnknownGame), errors.Is(err, games.ErrInvalidChild),
		errors.Is(err, games.ErrInvalidSession):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (d *Dependencies) handleGameStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.Games.Stats(d.childID(r.URL.Query().Get("child")))
	if err != nil {
		if code := gamesStatus(err); code != http.StatusInternalServerError {
			utils.RespondWithError(w, code, err.Error())
			return
		}
		d.logger.Error("Failed to load game stats", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load game stats")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, stats)
}

func (d *Dependencies) handleStartGame(w http.ResponseWriter, r *http.Request) {
	var req StartGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	session, err := d.Games.StartGame(d.childID(req.ChildID), req.GameType, req.Difficulty)
	if err != nil {
		utils.RespondWithError(w, gamesStatus(err), err.Error())
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, session)
}

func (d *Dependencies) handleRecordGame(w http.ResponseWriter, r *http.Request) {
	var session models.GameSession
	if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	session.ChildProfileID = d.childID(session.ChildProfileID)

	stats, err := d.Games.RecordSession(session)
	if err != nil {
		if code := gamesStatus(err); code != http.StatusInternalServerError {
			utils.RespondWithError(w, code, err.Error())
			return
		}
		d.logger.Error("Failed to record game session", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to record game session")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, stats)
}
