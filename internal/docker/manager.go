// Package docker manages the local OpenMoxie server container through the
// docker command line.
package docker

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"moxie_companion/internal/utils"
)

const (
	checkTimeout     = 5 * time.Second
	operationTimeout = 10 * time.Minute
)

// Status messages shown to the user
const (
	StatusUnknown          = "Checking..."
	StatusRunning          = "OpenMoxie running"
	StatusContainerStopped = "Container stopped"
	StatusDockerDown       = "Docker not running"
	StatusStarting         = "Starting OpenMoxie..."
	StatusStopping         = "Stopping OpenMoxie..."
	StatusRestarting       = "Restarting OpenMoxie..."
	StatusUpdating         = "Updating OpenMoxie..."
)

var (
	ErrBusy             = errors.New("Another Docker operation is in progress")
	ErrDockerNotRunning = errors.New("Docker is not running. Please start Docker Desktop first.")
	ErrNotInstalled     = errors.New("Docker command failed to start. Is Docker installed?")
	ErrCommandFailed    = errors.New("Docker command failed")
)

// Config configures a Manager
type Config struct {
	Binary       string
	Container    string
	Image        string
	PollInterval time.Duration
}

// Status is a snapshot of the docker daemon and container state
type Status struct {
	DockerRunning    bool      `json:"docker_running"`
	ContainerRunning bool      `json:"container_running"`
	Message          string    `json:"status"`
	Busy             bool      `json:"busy"`
	LastError        string    `json:"last_error,omitempty"`
	CheckedAt        time.Time `json:"checked_at,omitempty"`
}

// Manager runs one docker operation at a time and tracks container state
type Manager struct {
	runner Runner
	config Config
	logger *utils.Logger
	now    func() time.Time

	op sync.Mutex

	mu     sync.Mutex
	status Status
	busy   bool

	stopChan chan struct{}
	stopped  chan struct{}
}

// NewManager creates a manager. A nil runner runs the real docker binary.
func NewManager(runner Runner, config Config) *Manager {
	if runner == nil {
		runner = ExecRunner{}
	}
	if config.Binary == "" {
		config.Binary = "docker"
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	return &Manager{
		runner: runner,
		config: config,
		logger: utils.NewLogger("docker"),
		now:    time.Now,
		status: Status{Message: StatusUnknown},
	}
}

// Status returns the last observed state
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.Busy = m.busy
	return s
}

func (m *Manager) setBusy(busy bool, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = busy
	if msg != "" {
		m.status.Message = msg
	}
}

func (m *Manager) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.runner.Run(ctx, m.config.Binary, args...)
}

// CheckStatus probes the docker daemon and the container
func (m *Manager) CheckStatus(ctx context.Context) Status {
	dockerRunning := false
	containerRunning := false
	msg := StatusDockerDown

	if _, _, err := m.run(ctx, checkTimeout, "info"); err == nil {
		dockerRunning = true
		out, _, err := m.run(ctx, checkTimeout, "ps", "-q", "-f", "name="+m.config.Container)
		containerRunning = err == nil && len(strings.TrimSpace(string(out))) > 0
		if containerRunning {
			msg = StatusRunning
		} else {
			msg = StatusContainerStopped
		}
	}

	m.mu.Lock()
	changed := m.status.DockerRunning != dockerRunning || m.status.ContainerRunning != containerRunning
	m.status.DockerRunning = dockerRunning
	m.status.ContainerRunning = containerRunning
	if !m.busy {
		m.status.Message = msg
	}
	m.status.CheckedAt = m.now()
	s := m.status
	s.Busy = m.busy
	m.mu.Unlock()

	if changed {
		m.logger.Info("Container status changed", "docker", dockerRunning, "container", containerRunning)
	}
	return s
}

// Start runs the OpenMoxie container
func (m *Manager) Start(ctx context.Context) error {
	if !m.CheckStatus(ctx).DockerRunning {
		m.recordError(ErrDockerNotRunning)
		return ErrDockerNotRunning
	}
	return m.execute(ctx, StatusStarting,
		"run", "-d",
		"--name", m.config.Container,
		"-p", "8000:8000",
		"-p", "1883:1883",
		"-v", "openmoxie-data:/app/data",
		"--restart", "unless-stopped",
		m.config.Image,
	)
}

func (m *Manager) Stop(ctx context.Context) error {
	return m.execute(ctx, StatusStopping, "stop", m.config.Container)
}

func (m *Manager) Restart(ctx context.Context) error {
	return m.execute(ctx, StatusRestarting, "restart", m.config.Container)
}

// Pull fetches the latest server image
func (m *Manager) Pull(ctx context.Context) error {
	return m.execute(ctx, StatusUpdating, "pull", m.config.Image)
}

func (m *Manager) execute(ctx context.Context, pending string, args ...string) error {
	if !m.op.TryLock() {
		return ErrBusy
	}
	defer m.op.Unlock()

	m.setBusy(true, pending)
	m.logger.Info("Running docker command", "args", strings.Join(args, " "))
	out, stderr, err := m.run(ctx, operationTimeout, args...)
	m.setBusy(false, "")

	if err != nil {
		err = commandError(err, stderr)
		m.logger.Warn("Docker command failed", "args", args[0], "error", err)
		m.recordError(err)
		m.CheckStatus(ctx)
		return err
	}

	m.logger.Debug("Docker command succeeded", "output", strings.TrimSpace(string(out)))
	m.recordError(nil)
	m.CheckStatus(ctx)
	return nil
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.status.LastError = ""
		return
	}
	m.status.LastError = err.Error()
}

func commandError(err error, stderr []byte) error {
	if errors.Is(err, exec.ErrNotFound) {
		return ErrNotInstalled
	}
	if msg := strings.TrimSpace(string(stderr)); msg != "" {
		return errors.New(msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.New("Docker command timed out")
	}
	return ErrCommandFailed
}

// StartPolling begins polling container status in the background
func (m *Manager) StartPolling() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil {
		return
	}
	m.stopChan = make(chan struct{})
	m.stopped = make(chan struct{})
	go m.poll(m.stopChan, m.stopped)
}

// StopPolling stops background polling and waits for it to exit
func (m *Manager) StopPolling() {
	m.mu.Lock()
	stop, stopped := m.stopChan, m.stopped
	m.stopChan, m.stopped = nil, nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}
}

func (m *Manager) poll(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	m.CheckStatus(ctx)
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.CheckStatus(ctx)
		}
	}
}
