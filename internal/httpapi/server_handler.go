package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"moxie_companion/internal/docker"
	"moxie_companion/internal/utils"
)

var serverActions = map[string]func(*docker.Manager, context.Context) error{
	"start":   (*docker.Manager).Start,
	"stop":    (*docker.Manager).Stop,
	"restart": (*docker.Manager).Restart,
	"pull":    (*docker.Manager).Pull,
}

func (d *Dependencies) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	if d.Docker == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Server management is not configured")
		return
	}
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		utils.RespondWithJSON(w, http.StatusOK, d.Docker.CheckStatus(r.Context()))
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, d.Docker.Status())
}

// handleServerAction starts a docker operation in the background and returns
// immediately; progress shows up in the server status.
func (d *Dependencies) handleServerAction(w http.ResponseWriter, r *http.Request) {
	if d.Docker == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Server management is not configured")
		return
	}

	name := r.PathValue("action")
	action, ok := serverActions[name]
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "Unknown server action")
		return
	}
	if d.Docker.Status().Busy {
		utils.RespondWithError(w, http.StatusConflict, docker.ErrBusy.Error())
		return
	}

	go func() {
		if err := action(d.Docker, context.Background()); err != nil {
			if errors.Is(err, docker.ErrBusy) {
				d.logger.Warn("Server action skipped, another operation is running", "action", name)
				return
			}
			d.logger.Error("Server action failed", "action", name, "error", err)
			return
		}
		d.logger.Info("Server action finished", "action", name)
	}()

	utils.RespondWithJSON(w, http.StatusAccepted, map[string]string{"action": name, "status": "started"})
}
