// Package robot sends remote-control commands to the Moxie robot over MQTT
// and tracks the status it reports back.
package robot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"moxie_companion/internal/utils"
)

const (
	controlTopicPrefix = "moxie/control/"
	statusTopicPrefix  = "moxie/status/"
	statusRequestTopic = "moxie/status/request"
	statusWildcard     = "moxie/status/+"

	DefaultPollInterval = 5 * time.Second
)

// Robot state strings shown to the user
const (
	StateConnected    = "Connected"
	StateDisconnected = "Disconnected"
	StateRebooting    = "Rebooting..."
	StateShuttingDown = "Shutting down..."
	StateWakingUp     = "Waking up..."
)

var (
	// ErrNotConnected is returned when a command is sent without a broker connection
	ErrNotConnected = errors.New("Not connected to robot")

	// ErrInvalidValue is returned for out-of-range control values
	ErrInvalidValue = errors.New("invalid control value")
)

// Status is the last known robot state
type Status struct {
	Connected           bool      `json:"connected"`
	State               string    `json:"state"`
	BatteryLevel        float64   `json:"battery_level"`
	Volume              float64   `json:"volume"`
	Brightness          int       `json:"brightness"`
	Sleeping            bool      `json:"sleeping"`
	AutoShutdown        bool      `json:"auto_shutdown"`
	AutoShutdownMinutes int       `json:"auto_shutdown_minutes"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}

type commandPayload struct {
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
}

// Controller publishes control commands and polls for status while connected
type Controller struct {
	client       Client
	pollInterval time.Duration
	logger       *utils.Logger
	now          func() time.Time

	mu       sync.Mutex
	status   Status
	stopChan chan struct{}
	stopped  chan struct{}
}

// NewController creates a controller on client. A non-positive poll interval
// uses DefaultPollInterval.
func NewController(client Client, pollInterval time.Duration) *Controller {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Controller{
		client:       client,
		pollInterval: pollInterval,
		logger:       utils.NewLogger("robot"),
		now:          time.Now,
		status:       Status{State: StateDisconnected, Volume: 50, Brightness: 80},
	}
}

// Connect connects to the broker, subscribes to status topics and starts
// polling for status.
func (c *Controller) Connect(ctx context.Context) error {
	if err := c.client.Connect(ctx); err != nil {
		return err
	}
	if err := c.client.Subscribe(ctx, statusWildcard, c.handleStatus); err != nil {
		c.client.Disconnect()
		return err
	}

	c.mu.Lock()
	c.status.State = StateConnected
	if c.stopChan == nil {
		c.stopChan = make(chan struct{})
		c.stopped = make(chan struct{})
		go c.poll(c.stopChan, c.stopped)
	}
	c.mu.Unlock()

	c.logger.Info("Connected to robot")
	if err := c.RequestStatus(ctx); err != nil {
		c.logger.Warn("Initial status request failed", "error", err)
	}
	return nil
}

// Disconnect stops polling and closes the broker connection
func (c *Controller) Disconnect() {
	c.mu.Lock()
	stop, stopped := c.stopChan, c.stopped
	c.stopChan, c.stopped = nil, nil
	c.status.State = StateDisconnected
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}
	c.client.Disconnect()
	c.logger.Info("Disconnected from robot")
}

func (c *Controller) poll(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.client.IsConnected() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.pollInterval)
			if err := c.RequestStatus(ctx); err != nil {
				c.logger.Debug("Status request failed", "error", err)
			}
			cancel()
		}
	}
}

// Status returns the last known robot state
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.Connected = c.client.IsConnected()
	if !s.Connected {
		s.State = StateDisconnected
	}
	return s
}

func (c *Controller) publish(ctx context.Context, topic, command string) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(commandPayload{
		Command:   command,
		Timestamp: c.now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	return c.client.Publish(ctx, topic, payload)
}

func (c *Controller) control(ctx context.Context, name, command string, apply func(*Status)) error {
	if err := c.publish(ctx, controlTopicPrefix+name, command); err != nil {
		return err
	}
	if apply != nil {
		c.mu.Lock()
		apply(&c.status)
		c.mu.Unlock()
	}
	return nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// SetVolume sets the speaker volume, clamped to 0..100
func (c *Controller) SetVolume(ctx context.Context, level int) error {
	level = clamp(level, 0, 100)
	return c.control(ctx, "volume", strconv.Itoa(level), func(s *Status) {
		s.Volume = float64(level)
	})
}

// SetBrightness sets the screen brightness, clamped to 0..100
func (c *Controller) SetBrightness(ctx context.Context, level int) error {
	level = clamp(level, 0, 100)
	return c.control(ctx, "brightness", strconv.Itoa(level), func(s *Status) {
		s.Brightness = level
	})
}

func (c *Controller) SetSleepMode(ctx context.Context, sleep bool) error {
	return c.control(ctx, "sleep", strconv.FormatBool(sleep), func(s *Status) {
		s.Sleeping = sleep
	})
}

func (c *Controller) SetAutoShutdown(ctx context.Context, enabled bool) error {
	return c.control(ctx, "auto_shutdown", strconv.FormatBool(enabled), func(s *Status) {
		s.AutoShutdown = enabled
	})
}

func (c *Controller) SetAutoShutdownMinutes(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("%w: auto shutdown minutes must be positive", ErrInvalidValue)
	}
	return c.control(ctx, "auto_shutdown_time", strconv.Itoa(minutes), func(s *Status) {
		s.AutoShutdownMinutes = minutes
	})
}

// SendCommand sends a free-form command
func (c *Controller) SendCommand(ctx context.Context, command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("%w: empty command", ErrInvalidValue)
	}
	return c.control(ctx, "command", command, nil)
}

func (c *Controller) Reboot(ctx context.Context) error {
	return c.control(ctx, "reboot", "true", func(s *Status) {
		s.State = StateRebooting
	})
}

func (c *Controller) Shutdown(ctx context.Context) error {
	return c.control(ctx, "shutdown", "true", func(s *Status) {
		s.State = StateShuttingDown
	})
}

// WakeUp leaves sleep mode and wakes the robot
func (c *Controller) WakeUp(ctx context.Context) error {
	if err := c.SetSleepMode(ctx, false); err != nil {
		return err
	}
	return c.control(ctx, "wakeup", "true", func(s *Status) {
		s.State = StateWakingUp
	})
}

func (c *Controller) PlayAnimation(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty animation name", ErrInvalidValue)
	}
	return c.control(ctx, "animation", name, nil)
}

// Say makes the robot speak text
func (c *Controller) Say(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty phrase", ErrInvalidValue)
	}
	return c.control(ctx, "speak", text, nil)
}

// RequestStatus asks the robot to publish its full status
func (c *Controller) RequestStatus(ctx context.Context) error {
	return c.publish(ctx, statusRequestTopic, "all")
}

func (c *Controller) handleStatus(topic string, payload []byte) {
	var msg struct {
		Level    *float64 `json:"level"`
		Sleeping *bool    `json:"sleeping"`
		Status   *string  `json:"status"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Debug("Ignoring malformed status message", "topic", topic, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch strings.TrimPrefix(topic, statusTopicPrefix) {
	case "battery":
		if msg.Level != nil {
			c.status.BatteryLevel = *msg.Level
		}
	case "volume":
		if msg.Level != nil {
			c.status.Volume = *msg.Level
		}
	case "sleep":
		if msg.Sleeping != nil {
			c.status.Sleeping = *msg.Sleeping
		}
	case "general":
		if msg.Status != nil {
			c.status.State = *msg.Status
		}
	default:
		return
	}
	c.status.UpdatedAt = c.now()
}
