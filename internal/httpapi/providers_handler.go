package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"moxie_companion/internal/jsonstore"
	"moxie_companion/internal/providers"
	"moxie_companion/internal/utils"
)

// KeyRing holds provider API keys in memory. Keys are never persisted.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[providers.ID]string
}

// NewKeyRing seeds a key ring from provider id to key
func NewKeyRing(keys map[string]string) *KeyRing {
	k := &KeyRing{keys: make(map[providers.ID]string, len(keys))}
	for id, key := range keys {
		if key != "" {
			k.keys[providers.ID(id)] = key
		}
	}
	return k
}

func (k *KeyRing) Get(id providers.ID) string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys[id]
}

// Set stores key for id; an empty key removes it
func (k *KeyRing) Set(id providers.ID, key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if key == "" {
		delete(k.keys, id)
		return
	}
	k.keys[id] = key
}

func (k *KeyRing) Has(id providers.ID) bool {
	return k.Get(id) != ""
}

// ProviderResponse describes one catalog entry
type ProviderResponse struct {
	ID             providers.ID `json:"id"`
	DisplayName    string       `json:"display_name"`
	Description    string       `json:"description"`
	RequiresAPIKey bool         `json:"requires_api_key"`
	HasAPIKey      bool         `json:"has_api_key"`
	DefaultModel   string       `json:"default_model"`
	Models         []string     `json:"models"`
	Current        bool         `json:"current"`
}

// StateResponse is the gateway state shown by the view layer
type StateResponse struct {
	IsProcessing    bool         `json:"is_processing"`
	State           string       `json:"state"`
	CurrentProvider providers.ID `json:"current_provider"`
	HasAPIKey       bool         `json:"has_api_key"`
	RequiresAPIKey  bool         `json:"requires_api_key"`
	ProviderInfo    string       `json:"provider_info"`
	Models          []string     `json:"models"`
	Model           string       `json:"model,omitempty"`
	Temperature     *float64     `json:"temperature,omitempty"`
}

// SelectProviderRequest switches the active provider
type SelectProviderRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"` // empty uses the provider default
}

// SetAPIKeyRequest stores a key for a provider, the current one when empty
type SetAPIKeyRequest struct {
	Provider string `json:"provider,omitempty"`
	APIKey   string `json:"api_key"`
}

func (d *Dependencies) providerResponse(info providers.Info) ProviderResponse {
	return ProviderResponse{
		ID:             info.ID,
		DisplayName:    info.DisplayName,
		Description:    info.Description,
		RequiresAPIKey: info.RequiresAPIKey,
		HasAPIKey:      d.Keys.Has(info.ID),
		DefaultModel:   info.DefaultModel,
		Models:         info.Models,
		Current:        d.Gateway.CurrentProvider() == info.ID,
	}
}

func (d *Dependencies) handleListProviders(w http.ResponseWriter, r *http.Request) {
	ids := d.Gateway.AvailableProviders()
	out := make([]ProviderResponse, 0, len(ids))
	for _, id := range ids {
		if info, ok := providers.Lookup(id); ok {
			out = append(out, d.providerResponse(info))
		}
	}
	utils.RespondWithJSON(w, http.StatusOK, out)
}

func (d *Dependencies) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	info, ok := providers.Lookup(providers.ID(r.PathValue("id")))
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "Unknown provider")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, d.providerResponse(info))
}

func (d *Dependencies) handleSelectProvider(w http.ResponseWriter, r *http.Request) {
	var req SelectProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	id := providers.ID(strings.TrimSpace(req.Provider))
	if !providers.Known(id) {
		utils.RespondWithError(w, http.StatusBadRequest, "Unknown provider")
		return
	}

	d.Gateway.SetProvider(id)
	d.Gateway.SetAPIKey(d.Keys.Get(id))
	d.Chat.SetModel(req.Model)

	if err := d.Store.UpdateSettings(func(s *jsonstore.Settings) {
		s.Provider = string(id)
		s.Model = req.Model
	}); err != nil {
		d.logger.Error("Failed to save provider selection", "provider", id, "error", err)
	}

	d.logger.Info("Provider selected", "provider", id, "model", req.Model)
	d.handleState(w, r)
}

func (d *Dependencies) handleSetAPIKey(w http.ResponseWriter, r *http.Request) {
	var req SetAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	id := d.Gateway.CurrentProvider()
	if req.Provider != "" {
		id = providers.ID(req.Provider)
	}
	if !providers.Known(id) {
		utils.RespondWithError(w, http.StatusBadRequest, "Unknown provider")
		return
	}

	key := strings.TrimSpace(req.APIKey)
	d.Keys.Set(id, key)
	if id == d.Gateway.CurrentProvider() {
		d.Gateway.SetAPIKey(key)
	}

	d.logger.Info("API key updated", "provider", id, "set", key != "")
	utils.RespondWithJSON(w, http.StatusOK, d.providerResponse(mustLookup(id)))
}

func (d *Dependencies) handleState(w http.ResponseWriter, r *http.Request) {
	id := d.Gateway.CurrentProvider()
	conv := d.Chat.Conversation()
	resp := StateResponse{
		IsProcessing:    d.Chat.IsProcessing(),
		State:           d.Gateway.State().String(),
		CurrentProvider: id,
		HasAPIKey:       d.Gateway.HasAPIKey(),
		RequiresAPIKey:  d.Gateway.ProviderRequiresAPIKey(id),
		ProviderInfo:    d.Gateway.ProviderInfo(id),
		Models:          d.Gateway.AvailableModels(),
		Model:           conv.Model,
	}
	if settings, err := d.Store.LoadSettings(); err == nil {
		if settings.Model != "" {
			resp.Model = settings.Model
		}
		resp.Temperature = settings.Temperature
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func mustLookup(id providers.ID) providers.Info {
	info, _ := providers.Lookup(id)
	return info
}
