package httpapi

import (
	"net/http"
	"time"

	"moxie_companion/internal/auth"
	"moxie_companion/internal/config"
	"moxie_companion/internal/middleware"
	"moxie_companion/internal/ratelimit"
	"moxie_companion/internal/utils"
)

// NewRouter creates the HTTP handler for the local API
func NewRouter(cfg *config.Config, deps *Dependencies) http.Handler {
	if deps.logger == nil {
		deps.logger = utils.NewLogger("httpapi")
	}
	if deps.now == nil {
		deps.now = time.Now
	}
	if deps.PINLimit == nil {
		deps.PINLimit = ratelimit.NewNoopLimiter()
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg)

	if deps.RequestLogger != nil {
		return deps.RequestLogger.Middleware(mux)
	}
	return mux
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, cfg *config.Config) {
	// Health check endpoint - public
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"checks": deps.Health(r.Context()),
		})
	})

	// Providers and gateway state
	mux.HandleFunc("GET /v1/providers", deps.handleListProviders)
	mux.HandleFunc("GET /v1/providers/{id}", deps.handleGetProvider)
	mux.HandleFunc("PUT /v1/provider", deps.handleSelectProvider)
	mux.HandleFunc("PUT /v1/provider/key", deps.handleSetAPIKey)
	mux.HandleFunc("GET /v1/state", deps.handleState)

	// Chat
	mux.HandleFunc("GET /v1/chat", deps.handleGetConversation)
	mux.HandleFunc("DELETE /v1/chat", deps.handleClearConversation)
	mux.HandleFunc("POST /v1/chat/messages", deps.handleSendMessage)
	mux.HandleFunc("POST /v1/chat/regenerate", deps.handleRegenerate)
	mux.HandleFunc("PUT /v1/chat/settings", deps.handleChatSettings)
	mux.HandleFunc("GET /v1/chat/export", deps.handleExportConversation)
	mux.HandleFunc("POST /v1/chat/save", deps.handleSaveConversation)
	mux.HandleFunc("GET /v1/conversations", deps.handleListConversations)
	mux.HandleFunc("POST /v1/conversations/{id}/load", deps.handleLoadConversation)

	// Games
	mux.HandleFunc("GET /v1/games/stats", deps.handleGameStats)
	mux.HandleFunc("POST /v1/games/start", deps.handleStartGame)
	mux.HandleFunc("POST /v1/games/sessions", deps.handleRecordGame)

	// Parent authentication - public, rate limited
	mux.Handle("POST /v1/auth/pin", auth.PINHandler(deps.Store, deps.PINLimit, cfg))

	// Parent dashboard and controls - protected with ParentJWT
	parent := middleware.ParentJWT(cfg)
	protect := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, parent(h))
	}
	protect("GET /v1/usage/stats", deps.handleUsageStats)
	protect("GET /v1/usage/records", deps.handleUsageRecords)
	protect("GET /v1/usage/export", deps.handleUsageExport)
	protect("POST /v1/usage/cleanup", deps.handleUsageCleanup)
	protect("GET /v1/robot/status", deps.handleRobotStatus)
	protect("POST /v1/robot/{action}", deps.handleRobotAction)
	protect("GET /v1/server/status", deps.handleServerStatus)
	protect("POST /v1/server/{action}", deps.handleServerAction)
}
