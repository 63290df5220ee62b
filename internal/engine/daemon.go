package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"evalgo.org/anchor/models"
)

// CommandRunner runs host commands. It exists so daemon bootstrap can be tested
// without touching the host.
type CommandRunner interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Bootstrapper detects and starts the container engine daemon.
//
// It is an injected capability: nothing in the orchestration core calls it
// unless the caller wires it in.
type Bootstrapper struct {
	Runner       CommandRunner
	GOOS         string
	PollInterval time.Duration
}

// NewBootstrapper returns a Bootstrapper for the current host.
func NewBootstrapper() *Bootstrapper {
	return &Bootstrapper{
		Runner:       execRunner{},
		GOOS:         runtime.GOOS,
		PollInterval: 500 * time.Millisecond,
	}
}

// Installed returns a NotInstalledError if no docker binary is on PATH.
func (b *Bootstrapper) Installed() error {
	if _, err := b.Runner.LookPath("docker"); err != nil {
		return &models.NotInstalledError{Engine: "docker"}
	}
	return nil
}

// startCommands lists the commands tried in order to start the daemon.
func (b *Bootstrapper) startCommands() [][]string {
	switch b.GOOS {
	case "darwin":
		return [][]string{
			{"open", "-a", "/Applications/Docker.app"},
			{"open", "-a", "Docker"},
			{"launchctl", "start", "com.docker.docker"},
		}
	case "windows":
		return [][]string{
			{"cmd", "/C", "start", "", `C:\Program Files\Docker\Docker\Docker Desktop.exe`},
			{"powershell", "-Command", "Start-Process 'Docker Desktop'"},
		}
	default:
		return [][]string{
			{"systemctl", "start", "docker"},
			{"service", "docker", "start"},
			{"dockerd", "--detach"},
		}
	}
}

// Start tries each known way of starting the daemon until one succeeds.
func (b *Bootstrapper) Start(ctx context.Context) error {
	if err := b.Installed(); err != nil {
		return err
	}

	var errs []error
	for _, cmd := range b.startCommands() {
		err := b.Runner.Run(ctx, cmd[0], cmd[1:]...)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return &models.ConnectionError{Op: "start engine daemon", Err: errors.Join(errs...)}
}

// WaitReady polls ping until it succeeds or ctx is done.
func (b *Bootstrapper) WaitReady(ctx context.Context, ping func(context.Context) error, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(b.PollInterval)
	defer ticker.Stop()

	for {
		if err := ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &models.TimeoutError{Op: "wait for engine daemon", Timeout: timeout}
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EnsureRunning pings the engine and, if it does not answer, starts the daemon
// and waits up to timeout for it to come up.
func (b *Bootstrapper) EnsureRunning(ctx context.Context, c Client, timeout time.Duration) error {
	if err := c.Ping(ctx); err == nil {
		return nil
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	return b.WaitReady(ctx, c.Ping, timeout)
}
