package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"moxie_companion/internal/robot"
	"moxie_companion/internal/utils"
)

// RobotRequest carries the argument of a robot action. Value is used by
// volume, brightness and auto_shutdown_minutes; Enabled by sleep and
// auto_shutdown; Text by command, animation and say.
type RobotRequest struct {
	Value   *int   `json:"value,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Text    string `json:"text,omitempty"`
}

type robotAction func(ctx context.Context, c *robot.Controller, req RobotRequest) error

func needValue(fn func(*robot.Controller, context.Context, int) error) robotAction {
	return func(ctx context.Context, c *robot.Controller, req RobotRequest) error {
		if req.Value == nil {
			return errMissingArgument
		}
		return fn(c, ctx, *req.Value)
	}
}

func needEnabled(fn func(*robot.Controller, context.Context, bool) error) robotAction {
	return func(ctx context.Context, c *robot.Controller, req RobotRequest) error {
		if req.Enabled == nil {
			return errMissingArgument
		}
		return fn(c, ctx, *req.Enabled)
	}
}

func withText(fn func(*robot.Controller, context.Context, string) error) robotAction {
	return func(ctx context.Context, c *robot.Controller, req RobotRequest) error {
		return fn(c, ctx, req.Text)
	}
}

func noArgs(fn func(*robot.Controller, context.Context) error) robotAction {
	return func(ctx context.Context, c *robot.Controller, _ RobotRequest) error {
		return fn(c, ctx)
	}
}

var errMissingArgument = errors.New("missing argument for robot action")

var robotActions = map[string]robotAction{
	"connect":               noArgs((*robot.Controller).Connect),
	"volume":                needValue((*robot.Controller).SetVolume),
	"brightness":            needValue((*robot.Controller).SetBrightness),
	"auto_shutdown_minutes": needValue((*robot.Controller).SetAutoShutdownMinutes),
	"sleep":                 needEnabled((*robot.Controller).SetSleepMode),
	"auto_shutdown":         needEnabled((*robot.Controller).SetAutoShutdown),
	"command":               withText((*robot.Controller).SendCommand),
	"animation":             withText((*robot.Controller).PlayAnimation),
	"say":                   withText((*robot.Controller).Say),
	"reboot":                noArgs((*robot.Controller).Reboot),
	"shutdown":              noArgs((*robot.Controller).Shutdown),
	"wake":                  noArgs((*robot.Controller).WakeUp),
	"status":                noArgs((*robot.Controller).RequestStatus),
}

func (d *Dependencies) handleRobotStatus(w http.ResponseWriter, r *http.Request) {
	if d.Robot == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Robot control is not configured")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, d.Robot.Status())
}

func (d *Dependencies) handleRobotAction(w http.ResponseWriter, r *http.Request) {
	if d.Robot == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Robot control is not configured")
		return
	}

	name := r.PathValue("action")
	if name == "disconnect" {
		d.Robot.Disconnect()
		utils.RespondWithJSON(w, http.StatusOK, d.Robot.Status())
		return
	}
	action, ok := robotActions[name]
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "Unknown robot action")
		return
	}

	var req RobotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := action(r.Context(), d.Robot, req); err != nil {
		switch {
		case errors.Is(err, errMissingArgument), errors.Is(err, robot.ErrInvalidValue):
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, robot.ErrNotConnected):
			utils.RespondWithError(w, http.StatusServiceUnavailable, err.Error())
		default:
			d.logger.Error("Robot action failed", "action", name, "error", err)
			utils.RespondWithError(w, http.StatusBadGateway, "Robot action failed: "+err.Error())
		}
		return
	}

	d.logger.Info("Robot action sent", "action", name)
	utils.RespondWithJSON(w, http.StatusOK, d.Robot.Status())
}
