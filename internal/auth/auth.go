package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"moxie_companion/internal/config"
	"moxie_companion/internal/ratelimit"
	"moxie_companion/internal/utils"
)

// ErrPINNotSet is returned by a PINStore when no parent PIN was configured
var ErrPINNotSet = errors.New("parent PIN not set")

// PINStore returns the stored argon2id hash of the parent PIN
type PINStore interface {
	PINHash(ctx context.Context) (string, error)
}

type pinRequest struct {
	PIN string `json:"pin"`
}

// PINHandler exchanges the parent PIN for a parent JWT. Attempts are
// limited per client address.
func PINHandler(store PINStore, limiter ratelimit.Limiter, cfg *config.Config) http.HandlerFunc {
	logger := utils.NewLogger("auth")

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if !limiter.Allow(ctx, "pin:"+utils.HashString(clientAddr(r))) {
			utils.RespondWithError(w, http.StatusTooManyRequests, "Too many PIN attempts, try again later")
			return
		}

		var req pinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PIN == "" {
			utils.RespondWithError(w, http.StatusBadRequest, "PIN is required")
			return
		}

		hash, err := store.PINHash(ctx)
		if err != nil {
			if errors.Is(err, ErrPINNotSet) {
				utils.RespondWithError(w, http.StatusPreconditionFailed, "Parent PIN has not been set")
				return
			}
			logger.Error("Failed to load PIN hash", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Error validating PIN")
			return
		}

		ok, err := VerifyPIN(req.PIN, hash)
		if err != nil {
			logger.Error("Stored PIN hash is invalid", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Error validating PIN")
			return
		}
		if !ok {
			logger.Warn("Invalid parent PIN attempt", "remote", clientAddr(r))
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid PIN")
			return
		}

		token, exp, err := GenerateParentJWT(cfg)
		if err != nil {
			utils.RespondWithError(w, http.StatusInternalServerError, "Error generating token: "+err.Error())
			return
		}

		utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"token": token,
			"exp":   exp,
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
