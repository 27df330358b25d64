// Package inference manages the external inference backend: an opaque
// subprocess spoken to over HTTP. The runtime spawns it, polls its health
// endpoint, and restarts it on supervisor request.
package inference

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/types"
)

const (
	DefaultStartupTimeout = 30 * time.Second
	DefaultGracePeriod    = 5 * time.Second
	healthPollInterval    = 250 * time.Millisecond
)

// BackendConfig describes one external inference backend.
type BackendConfig struct {
	// Path is the executable to spawn; empty disables subprocess management
	// and the backend is assumed to be externally operated.
	Path string `yaml:"path" json:"path,omitempty"`
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
	// StartupTimeout bounds the wait for the first healthy poll after spawn.
	StartupTimeout time.Duration `yaml:"startup_timeout" json:"startup_timeout,omitempty"`
	// GracePeriod is the window between SIGTERM and SIGKILL at shutdown.
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period,omitempty"`
}

func (c *BackendConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
}

// Backend owns the subprocess lifecycle and health checking for one
// inference server.
type Backend struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}

	cfg    BackendConfig
	client *http.Client
	logger *zap.Logger
}

// NewBackend creates an unstarted backend manager.
func NewBackend(cfg BackendConfig, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: 2 * time.Second},
		logger: logger.With(zap.String("component", "inference")),
	}
}

// BaseURL returns the backend's HTTP root.
func (b *Backend) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", b.cfg.Host, b.cfg.Port)
}

// Managed reports whether this runtime spawns the subprocess itself.
func (b *Backend) Managed() bool { return b.cfg.Path != "" }

// Start spawns the subprocess (when managed) and waits until the health
// endpoint answers or the startup timeout elapses.
func (b *Backend) Start(ctx context.Context) error {
	if !b.Managed() {
		return b.awaitHealthy(ctx)
	}

	b.mu.Lock()
	if b.cmd != nil && !closed(b.exited) {
		b.mu.Unlock()
		return types.NewError(types.ErrAlreadyRunning, "inference backend already running").
			WithComponent("inference")
	}
	cmd := exec.Command(b.cfg.Path,
		"--host", b.cfg.Host,
		"--port", fmt.Sprintf("%d", b.cfg.Port),
	)
	if err := cmd.Start(); err != nil {
		b.mu.Unlock()
		return types.NewErrorf(types.ErrDependency, "spawn inference backend: %v", err).
			WithComponent("inference").WithCause(err)
	}
	exited := make(chan struct{})
	b.cmd = cmd
	b.exited = exited
	b.mu.Unlock()

	// Reap the process; a crash shows up as a closed exit channel.
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	b.logger.Info("inference backend spawned",
		zap.String("path", b.cfg.Path),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("url", b.BaseURL()),
	)
	return b.awaitHealthy(ctx)
}

// Stop terminates the subprocess: SIGTERM, then SIGKILL after the grace
// period. A no-op for unmanaged backends.
func (b *Backend) Stop() {
	b.mu.Lock()
	cmd := b.cmd
	exited := b.exited
	b.cmd = nil
	b.exited = nil
	b.mu.Unlock()
	if cmd == nil || cmd.Process == nil || closed(exited) {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
		b.logger.Info("inference backend exited after SIGTERM", zap.Int("pid", cmd.Process.Pid))
	case <-time.After(b.cfg.GracePeriod):
		b.logger.Warn("inference backend ignored SIGTERM, killing", zap.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-exited
	}
}

// Restart is the supervisor's recovery action.
func (b *Backend) Restart(ctx context.Context) error {
	b.Stop()
	return b.Start(ctx)
}

// Alive reports whether the managed subprocess is still running. Unmanaged
// backends are presumed alive; health is the real signal for those.
func (b *Backend) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil {
		return !b.Managed()
	}
	return !closed(b.exited)
}

// closed reports whether ch is closed without blocking.
func closed(ch chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Healthy performs one health probe against /health.
func (b *Backend) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL()+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

func (b *Backend) awaitHealthy(ctx context.Context) error {
	deadline := time.Now().Add(b.cfg.StartupTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return types.NewError(types.ErrTimeout, "startup wait cancelled").
				WithComponent("inference").WithCause(err)
		}
		if b.Healthy(ctx) {
			b.logger.Info("inference backend healthy", zap.String("url", b.BaseURL()))
			return nil
		}
		time.Sleep(healthPollInterval)
	}
	return types.NewErrorf(types.ErrTimeout, "inference backend not healthy after %s", b.cfg.StartupTimeout).
		WithComponent("inference")
}
