package runtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/bus"
	"github.com/KolosalAI/kolosal-agent/inference"
)

// SupervisorConfig tunes the health loop.
type SupervisorConfig struct {
	// Interval between health cycles.
	Interval time.Duration `yaml:"interval" json:"interval"`
	// MaxRecoveryAttempts bounds recoveries per target within the window; the
	// target is then left down and flagged unhealthy until the window slides.
	MaxRecoveryAttempts int           `yaml:"max_recovery_attempts" json:"max_recovery_attempts"`
	RecoveryWindow      time.Duration `yaml:"recovery_window" json:"recovery_window"`
	// ActionTimeout bounds each individual recovery action.
	ActionTimeout time.Duration `yaml:"action_timeout" json:"action_timeout"`
	// OnStatus, when set, receives each published snapshot at the end of the
	// cycle that produced it. Called from the supervisor goroutine.
	OnStatus func(SystemStatus) `yaml:"-" json:"-"`
}

func (c *SupervisorConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = 3
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = 5 * time.Minute
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 10 * time.Second
	}
}

// Supervisor periodically checks the population and the inference backend,
// publishes a SystemStatus snapshot, and performs bounded recovery.
type Supervisor struct {
	manager *Manager
	backend *inference.Backend
	router  *bus.Router
	cfg     SupervisorConfig
	logger  *zap.Logger

	mu       sync.Mutex
	last     SystemStatus
	attempts map[string][]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewSupervisor wires the loop; backend may be nil when no inference engine
// is configured.
func NewSupervisor(manager *Manager, backend *inference.Backend, router *bus.Router, cfg SupervisorConfig, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Supervisor{
		manager:  manager,
		backend:  backend,
		router:   router,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "supervisor")),
		attempts: make(map[string][]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the loop goroutine. The first cycle runs immediately so
// Status is populated without waiting a full interval.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("supervisor already started")
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.loop()
	s.logger.Info("supervisor started", zap.Duration("interval", s.cfg.Interval))
}

// Stop terminates the loop and waits for the in-flight cycle.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		<-s.doneCh
	}
	s.logger.Info("supervisor stopped")
}

// Status returns the most recently published snapshot.
func (s *Supervisor) Status() SystemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Supervisor) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.cycle()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cycle()
		}
	}
}

// cycle runs one health pass: probe the backend, reconcile agents whose
// observed state fell behind the desired state, publish the snapshot.
func (s *Supervisor) cycle() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ActionTimeout)
	defer cancel()

	backendStatus := s.checkBackend(ctx)
	agentsHealthy := s.checkAgents()

	total, running := s.manager.Count()
	status := SystemStatus{
		Timestamp:     time.Now(),
		AgentsTotal:   total,
		AgentsRunning: running,
		Agents:        s.manager.ListAgents(),
		LLMBackend:    backendStatus,
		Healthy:       agentsHealthy && (!backendStatus.Configured || backendStatus.Healthy),
	}
	if s.router != nil {
		status.RouterQueueDepth = s.router.QueueDepth()
	}

	s.mu.Lock()
	s.last = status
	s.mu.Unlock()

	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(status)
	}
}

func (s *Supervisor) checkBackend(ctx context.Context) BackendStatus {
	if s.backend == nil {
		return BackendStatus{}
	}
	status := BackendStatus{
		Configured: true,
		Managed:    s.backend.Managed(),
		URL:        s.backend.BaseURL(),
	}
	status.Running = s.backend.Alive()
	if s.backend.Healthy(ctx) && status.Running {
		status.Healthy = true
		return status
	}

	s.logger.Warn("inference backend unhealthy", zap.String("url", status.URL))
	if s.backend.Managed() && s.allowRecovery("backend") {
		s.logger.Info("restarting inference backend")
		rctx, cancel := context.WithTimeout(context.Background(), s.cfg.ActionTimeout)
		err := s.backend.Restart(rctx)
		cancel()
		if err != nil {
			s.logger.Error("inference backend restart failed", zap.Error(err))
			return status
		}
		status.Running = s.backend.Alive()
		status.Healthy = s.backend.Healthy(ctx)
	}
	return status
}

// checkAgents restarts agents that should be running but are not. Returns
// whether the population matches its desired state after reconciliation.
func (s *Supervisor) checkAgents() bool {
	healthy := true
	for _, id := range s.manager.ExpectedRunning() {
		core, err := s.manager.GetAgent(id)
		if err != nil || core.IsRunning() {
			continue
		}
		healthy = false
		if !s.allowRecovery("agent:" + id) {
			continue
		}
		s.logger.Warn("agent down, attempting restart", zap.String("agent_id", id))
		if err := s.manager.StartAgent(id); err != nil {
			s.logger.Error("agent restart failed", zap.String("agent_id", id), zap.Error(err))
			continue
		}
		healthy = core.IsRunning()
	}
	return healthy
}

// allowRecovery enforces the attempt budget per target over the rolling
// window.
func (s *Supervisor) allowRecovery(target string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.attempts[target][:0]
	for _, t := range s.attempts[target] {
		if now.Sub(t) < s.cfg.RecoveryWindow {
			recent = append(recent, t)
		}
	}
	if len(recent) >= s.cfg.MaxRecoveryAttempts {
		s.attempts[target] = recent
		s.logger.Error("recovery budget exhausted, leaving target down",
			zap.String("target", target),
			zap.Int("attempts", len(recent)),
			zap.Duration("window", s.cfg.RecoveryWindow),
		)
		return false
	}
	s.attempts[target] = append(recent, now)
	return true
}
