package docker

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	stdout string
	stderr string
	err    error
}

// fakeRunner answers by the first docker argument and records every call
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]result
	calls   [][]string
	block   chan struct{}
	started chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: map[string]result{
		"info": {},
		"ps":   {stdout: "abc123\n"},
	}}
}

func (f *fakeRunner) set(cmd string, r result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[cmd] = r
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	r := f.results[args[0]]
	block, started := f.block, f.started
	f.mu.Unlock()

	if block != nil && args[0] != "info" && args[0] != "ps" {
		close(started)
		<-block
	}
	return []byte(r.stdout), []byte(r.stderr), r.err
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

func newTestManager(r *fakeRunner) *Manager {
	return NewManager(r, Config{
		Binary:    "docker",
		Container: "openmoxie-server",
		Image:     "openmoxie/openmoxie-server:latest",
	})
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		name      string
		info      result
		ps        result
		docker    bool
		container bool
		message   string
	}{
		{"running", result{}, result{stdout: "abc123\n"}, true, true, StatusRunning},
		{"container stopped", result{}, result{stdout: "  \n"}, true, false, StatusContainerStopped},
		{"docker down", result{err: errors.New("exit status 1")}, result{}, false, false, StatusDockerDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			r.set("info", tt.info)
			r.set("ps", tt.ps)
			m := newTestManager(r)

			s := m.CheckStatus(context.Background())
			assert.Equal(t, tt.docker, s.DockerRunning)
			assert.Equal(t, tt.container, s.ContainerRunning)
			assert.Equal(t, tt.message, s.Message)
			assert.False(t, s.CheckedAt.IsZero())
			assert.Equal(t, s, m.Status())
		})
	}
}

func TestCheckStatus_Commands(t *testing.T) {
	r := newFakeRunner()
	newTestManager(r).CheckStatus(context.Background())

	assert.Equal(t, []string{
		"docker info",
		"docker ps -q -f name=openmoxie-server",
	}, r.commands())
}

func TestStart(t *testing.T) {
	r := newFakeRunner()
	m := newTestManager(r)

	require.NoError(t, m.Start(context.Background()))
	assert.Contains(t, r.commands(),
		"docker run -d --name openmoxie-server -p 8000:8000 -p 1883:1883 -v openmoxie-data:/app/data --restart unless-stopped openmoxie/openmoxie-server:latest")

	s := m.Status()
	assert.Equal(t, StatusRunning, s.Message)
	assert.False(t, s.Busy)
	assert.Empty(t, s.LastError)
}

func TestStart_DockerNotRunning(t *testing.T) {
	r := newFakeRunner()
	r.set("info", result{err: errors.New("exit status 1")})
	m := newTestManager(r)

	assert.ErrorIs(t, m.Start(context.Background()), ErrDockerNotRunning)
	assert.Equal(t, ErrDockerNotRunning.Error(), m.Status().LastError)
	for _, c := range r.commands() {
		assert.NotContains(t, c, "docker run")
	}
}

func TestOperations(t *testing.T) {
	tests := []struct {
		name string
		run  func(*Manager, context.Context) error
		want string
	}{
		{"stop", (*Manager).Stop, "docker stop openmoxie-server"},
		{"restart", (*Manager).Restart, "docker restart openmoxie-server"},
		{"pull", (*Manager).Pull, "docker pull openmoxie/openmoxie-server:latest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			m := newTestManager(r)
			require.NoError(t, tt.run(m, context.Background()))
			assert.Equal(t, tt.want, r.commands()[0])
			// Every operation refreshes the status afterwards
			assert.Contains(t, r.commands()[1:], "docker info")
		})
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		res  result
		want string
	}{
		{"stderr", result{stderr: "Error: No such container: openmoxie-server\n", err: errors.New("exit status 1")}, "Error: No such container: openmoxie-server"},
		{"no output", result{err: errors.New("exit status 1")}, ErrCommandFailed.Error()},
		{"not installed", result{err: &exec.Error{Name: "docker", Err: exec.ErrNotFound}}, ErrNotInstalled.Error()},
		{"timeout", result{err: context.DeadlineExceeded}, "Docker command timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			r.set("stop", tt.res)
			m := newTestManager(r)

			err := m.Stop(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.Equal(t, tt.want, m.Status().LastError)
		})
	}
}

func TestSingleOperation(t *testing.T) {
	r := newFakeRunner()
	r.block = make(chan struct{})
	r.started = make(chan struct{})
	m := newTestManager(r)

	done := make(chan error, 1)
	go func() { done <- m.Pull(context.Background()) }()
	<-r.started

	s := m.Status()
	assert.True(t, s.Busy)
	assert.Equal(t, StatusUpdating, s.Message)

	// Status checks while busy keep the operation message
	m.CheckStatus(context.Background())
	assert.Equal(t, StatusUpdating, m.Status().Message)

	assert.ErrorIs(t, m.Restart(context.Background()), ErrBusy)

	close(r.block)
	require.NoError(t, <-done)
	assert.False(t, m.Status().Busy)
	assert.Equal(t, StatusRunning, m.Status().Message)
}

func TestPolling(t *testing.T) {
	r := newFakeRunner()
	m := NewManager(r, Config{Container: "openmoxie-server", PollInterval: 10 * time.Millisecond})

	m.StartPolling()
	m.StartPolling()
	require.Eventually(t, func() bool {
		return len(r.commands()) >= 6
	}, time.Second, 5*time.Millisecond)
	m.StopPolling()

	n := len(r.commands())
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, len(r.commands()))
	assert.True(t, m.Status().ContainerRunning)
}
