package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"moxie_companion/internal/chat"
	"moxie_companion/internal/gateway"
	"moxie_companion/internal/jsonstore"
	"moxie_companion/internal/models"
	"moxie_companion/internal/providers"
	"moxie_companion/internal/utils"
)

// SendMessageRequest carries one child message
type SendMessageRequest struct {
	Text string `json:"text"`
}

// ChatSettingsRequest updates sampling settings; a null temperature restores
// the default.
type ChatSettingsRequest struct {
	Model       *string  `json:"model,omitempty"`
	Temperature *float64 `json:"temperature"`
}

// ConversationResponse is the current conversation with processing state
type ConversationResponse struct {
	Conversation models.Conversation `json:"conversation"`
	LastError    string              `json:"last_error,omitempty"`
	IsProcessing bool                `json:"is_processing"`
}

type acceptedResponse struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id"`
}

// chatStatus maps send failures to HTTP status codes
func chatStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrNothingToRegenerate),
		errors.Is(err, providers.ErrUnsupportedProvider):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrOverBudget):
		return http.StatusPaymentRequired
	case errors.Is(err, providers.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, providers.ErrNotConfigured):
		return http.StatusPreconditionFailed
	case errors.Is(err, gateway.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (d *Dependencies) accepted(w http.ResponseWriter) {
	utils.RespondWithJSON(w, http.StatusAccepted, acceptedResponse{
		Status:         "processing",
		ConversationID: d.Chat.Conversation().ID,
	})
}

func (d *Dependencies) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := d.Chat.SendMessage(r.Context(), req.Text); err != nil {
		utils.RespondWithError(w, chatStatus(err), err.Error())
		return
	}
	d.accepted(w)
}

func (d *Dependencies) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	if err := d.Chat.Regenerate(r.Context()); err != nil {
		utils.RespondWithError(w, chatStatus(err), err.Error())
		return
	}
	d.accepted(w)
}

func (d *Dependencies) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, ConversationResponse{
		Conversation: d.Chat.Conversation(),
		LastError:    d.Chat.LastError(),
		IsProcessing: d.Chat.IsProcessing(),
	})
}

func (d *Dependencies) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	d.Chat.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleExportConversation(w http.ResponseWriter, r *http.Request) {
	data, err := d.Chat.Export()
	if err != nil {
		d.logger.Error("Failed to export conversation", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to export conversation")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="conversation_`+d.Chat.Conversation().ID+`.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (d *Dependencies) handleChatSettings(w http.ResponseWriter, r *http.Request) {
	var req ChatSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Temperature != nil && (math.IsNaN(*req.Temperature) || *req.Temperature < 0 || *req.Temperature > 2) {
		utils.RespondWithError(w, http.StatusBadRequest, "Temperature must be between 0 and 2")
		return
	}

	d.Chat.SetTemperature(req.Temperature)
	if req.Model != nil {
		d.Chat.SetModel(*req.Model)
	}
	if err := d.Store.UpdateSettings(func(s *jsonstore.Settings) {
		s.Temperature = req.Temperature
		if req.Model != nil {
			s.Model = *req.Model
		}
	}); err != nil {
		d.logger.Error("Failed to save chat settings", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	d.handleState(w, r)
}

func (d *Dependencies) handleSaveConversation(w http.ResponseWriter, r *http.Request) {
	if err := d.Chat.Save(); err != nil {
		d.logger.Error("Failed to save conversation", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to save conversation")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"id": d.Chat.Conversation().ID})
}

func (d *Dependencies) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := d.Chat.Saved()
	if err != nil {
		d.logger.Error("Failed to list conversations", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list conversations")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string][]string{"conversations": ids})
}

func (d *Dependencies) handleLoadConversation(w http.ResponseWriter, r *http.Request) {
	err := d.Chat.Load(r.PathValue("id"))
	switch {
	case err == nil:
		d.handleGetConversation(w, r)
	case errors.Is(err, jsonstore.ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, jsonstore.ErrInvalidName):
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid conversation id")
	default:
		d.logger.Error("Failed to load conversation", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load conversation")
	}
}
