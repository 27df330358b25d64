// Package runtime owns the agent population: creation from declarative
// config, lifecycle, discovery, reload, and the supervising health loop.
package runtime

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KolosalAI/kolosal-agent/agent"
	"github.com/KolosalAI/kolosal-agent/agent/functions"
	"github.com/KolosalAI/kolosal-agent/agent/persistence"
	"github.com/KolosalAI/kolosal-agent/bus"
	"github.com/KolosalAI/kolosal-agent/internal/metrics"
	"github.com/KolosalAI/kolosal-agent/jobs"
	"github.com/KolosalAI/kolosal-agent/types"
)

// ManagerOptions carries the process-wide collaborators every agent shares.
type ManagerOptions struct {
	Router *bus.Router
	Deps   functions.Deps
	// Declared are config-file function declarations every agent can resolve.
	Declared  []functions.DeclaredConfig
	Archiver  jobs.Archiver
	Snapshots persistence.SnapshotStore
	// SnapshotOnStop persists each agent's memory image at stop and restores
	// it at the next start, keyed by agent name.
	SnapshotOnStop bool
	Logger         *zap.Logger
	Collector      *metrics.Collector
}

// Manager is the process-wide agent registry. The registry lock is held only
// across map operations; agent lifecycle work happens outside it so a slow
// agent cannot stall the registry.
type Manager struct {
	mu     sync.RWMutex
	agents map[string]*agent.Core
	byName map[string]string
	// expected tracks the desired lifecycle state per agent id; the
	// supervisor restarts agents whose observed state falls behind it.
	expected map[string]bool

	opts   ManagerOptions
	logger *zap.Logger
}

// NewManager creates an empty registry.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		agents:   make(map[string]*agent.Core),
		byName:   make(map[string]string),
		expected: make(map[string]bool),
		opts:     opts,
		logger:   opts.Logger.With(zap.String("component", "manager")),
	}
}

// CreateAgent builds a stopped agent from its config and registers it.
// Names are unique across the population.
func (m *Manager) CreateAgent(cfg types.AgentConfig) (*agent.Core, error) {
	if cfg.Name == "" {
		return nil, types.NewError(types.ErrValidation, "agent name is required").
			WithComponent("manager")
	}
	m.mu.RLock()
	_, taken := m.byName[cfg.Name]
	m.mu.RUnlock()
	if taken {
		return nil, types.NewErrorf(types.ErrValidation, "agent name %q already in use", cfg.Name).
			WithComponent("manager")
	}

	core, err := agent.New(agent.Options{
		Config:    cfg,
		Deps:      m.opts.Deps,
		Declared:  m.opts.Declared,
		Router:    m.opts.Router,
		Logger:    m.opts.Logger,
		Collector: m.opts.Collector,
		Archiver:  m.opts.Archiver,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, taken := m.byName[cfg.Name]; taken {
		m.mu.Unlock()
		return nil, types.NewErrorf(types.ErrValidation, "agent name %q already in use", cfg.Name).
			WithComponent("manager")
	}
	m.agents[core.ID()] = core
	m.byName[cfg.Name] = core.ID()
	m.mu.Unlock()

	m.logger.Info("agent created",
		zap.String("agent_id", core.ID()),
		zap.String("agent_name", cfg.Name),
	)
	m.updateRunningGauge()
	return core, nil
}

// StartAgent brings an agent up and records the expectation that it stays up.
func (m *Manager) StartAgent(id string) error {
	core, err := m.GetAgent(id)
	if err != nil {
		return err
	}
	m.restoreSnapshot(core)
	core.Start()

	m.mu.Lock()
	m.expected[id] = true
	m.mu.Unlock()
	m.updateRunningGauge()
	return nil
}

// StopAgent brings an agent down deliberately; the supervisor will not
// restart it.
func (m *Manager) StopAgent(id string) error {
	core, err := m.GetAgent(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.expected[id] = false
	m.mu.Unlock()

	core.Stop()
	m.saveSnapshot(core)
	m.updateRunningGauge()
	return nil
}

// DeleteAgent stops the agent if needed and removes it with its snapshot.
// Router-addressed messages already en route are dropped by the router.
func (m *Manager) DeleteAgent(id string) error {
	core, err := m.GetAgent(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.expected, id)
	m.mu.Unlock()

	if core.IsRunning() {
		core.Stop()
	}

	m.mu.Lock()
	delete(m.agents, id)
	delete(m.byName, core.Name())
	m.mu.Unlock()

	if m.opts.Snapshots != nil {
		_ = m.opts.Snapshots.Delete(context.Background(), core.Name())
	}
	m.logger.Info("agent deleted", zap.String("agent_id", id), zap.String("agent_name", core.Name()))
	m.updateRunningGauge()
	return nil
}

// GetAgent returns the agent by id.
func (m *Manager) GetAgent(id string) (*agent.Core, error) {
	m.mu.RLock()
	core, ok := m.agents[id]
	m.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "agent not found: "+id).
			WithComponent("manager").WithAgentID(id)
	}
	return core, nil
}

// GetAgentByName returns the agent by its unique name.
func (m *Manager) GetAgentByName(name string) (*agent.Core, error) {
	m.mu.RLock()
	id, ok := m.byName[name]
	core := m.agents[id]
	m.mu.RUnlock()
	if !ok || core == nil {
		return nil, types.NewError(types.ErrNotFound, "agent not found: "+name).
			WithComponent("manager")
	}
	return core, nil
}

// ListAgents returns introspection records sorted by name.
func (m *Manager) ListAgents() []types.AgentInfo {
	agents := m.snapshotAgents()
	infos := make([]types.AgentInfo, 0, len(agents))
	for _, core := range agents {
		infos = append(infos, core.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// FindByCapability returns every agent declaring the capability.
func (m *Manager) FindByCapability(cap string) []*agent.Core {
	var out []*agent.Core
	for _, core := range m.snapshotAgents() {
		if core.HasCapability(cap) {
			out = append(out, core)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Count returns (total, running).
func (m *Manager) Count() (int, int) {
	total, running := 0, 0
	for _, core := range m.snapshotAgents() {
		total++
		if core.IsRunning() {
			running++
		}
	}
	return total, running
}

// ExpectedRunning lists agent ids that should be running right now.
func (m *Manager) ExpectedRunning() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, want := range m.expected {
		if want {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CreateFromConfigs builds the population from declarative records and starts
// the auto-start agents. Per-agent failures are isolated into the report.
func (m *Manager) CreateFromConfigs(configs []types.AgentConfig) StartupReport {
	report := StartupReport{Failed: make(map[string]string)}
	for _, cfg := range configs {
		core, err := m.CreateAgent(cfg)
		if err != nil {
			report.Failed[cfg.Name] = err.Error()
			m.logger.Error("agent creation failed",
				zap.String("agent_name", cfg.Name), zap.Error(err))
			continue
		}
		if cfg.AutoStart {
			if err := m.StartAgent(core.ID()); err != nil {
				report.Failed[cfg.Name] = err.Error()
				continue
			}
		}
		report.Started = append(report.Started, cfg.Name)
	}
	if len(report.Failed) == 0 {
		report.Failed = nil
	}
	return report
}

// StopAll stops every running agent concurrently.
func (m *Manager) StopAll() {
	var g errgroup.Group
	for _, core := range m.snapshotAgents() {
		core := core
		if !core.IsRunning() {
			continue
		}
		g.Go(func() error {
			return m.StopAgent(core.ID())
		})
	}
	_ = g.Wait()
}

// Reload replaces the whole population: stop everything, drop it, recreate
// from the new configs.
func (m *Manager) Reload(configs []types.AgentConfig) StartupReport {
	m.logger.Info("reloading agent population", zap.Int("agents", len(configs)))
	m.StopAll()

	m.mu.Lock()
	m.agents = make(map[string]*agent.Core)
	m.byName = make(map[string]string)
	m.expected = make(map[string]bool)
	m.mu.Unlock()

	return m.CreateFromConfigs(configs)
}

// FindJob locates a job by id across the whole population.
func (m *Manager) FindJob(jobID string) (*agent.Core, *types.Job, error) {
	for _, core := range m.snapshotAgents() {
		if job, err := core.Jobs().Status(jobID); err == nil {
			return core, job, nil
		}
	}
	return nil, nil, types.NewError(types.ErrNotFound, "job not found: "+jobID).
		WithComponent("manager").WithJobID(jobID)
}

// AggregateJobStats folds every agent's job counters into one snapshot.
func (m *Manager) AggregateJobStats() jobs.Stats {
	var total jobs.Stats
	for _, core := range m.snapshotAgents() {
		s := core.Jobs().Stats()
		total.Submitted += s.Submitted
		total.Pending += s.Pending
		total.Running += s.Running
		total.Completed += s.Completed
		total.Failed += s.Failed
		total.Cancelled += s.Cancelled
	}
	return total
}

// AverageExecMS is the population-wide mean execution time, weighted by each
// agent's executed count.
func (m *Manager) AverageExecMS() float64 {
	var weighted float64
	var count int64
	for _, core := range m.snapshotAgents() {
		stats := core.Statistics()
		weighted += stats.AvgExecMS * float64(stats.FunctionsExecuted)
		count += stats.FunctionsExecuted
	}
	if count == 0 {
		return 0
	}
	return weighted / float64(count)
}

func (m *Manager) snapshotAgents() []*agent.Core {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*agent.Core, 0, len(m.agents))
	for _, core := range m.agents {
		out = append(out, core)
	}
	return out
}

func (m *Manager) updateRunningGauge() {
	if m.opts.Collector == nil {
		return
	}
	_, running := m.Count()
	m.opts.Collector.SetAgentsRunning(running)
}

func (m *Manager) saveSnapshot(core *agent.Core) {
	if !m.opts.SnapshotOnStop || m.opts.Snapshots == nil {
		return
	}
	image, err := core.Memory().Serialize()
	if err != nil {
		m.logger.Warn("memory snapshot serialization failed",
			zap.String("agent_id", core.ID()), zap.Error(err))
		return
	}
	if err := m.opts.Snapshots.Save(context.Background(), core.Name(), image); err != nil {
		m.logger.Warn("memory snapshot save failed",
			zap.String("agent_id", core.ID()), zap.Error(err))
	}
}

func (m *Manager) restoreSnapshot(core *agent.Core) {
	if !m.opts.SnapshotOnStop || m.opts.Snapshots == nil {
		return
	}
	image, err := m.opts.Snapshots.Load(context.Background(), core.Name())
	if err != nil {
		if types.GetErrorCode(err) != types.ErrNotFound {
			m.logger.Warn("memory snapshot load failed",
				zap.String("agent_id", core.ID()), zap.Error(err))
		}
		return
	}
	if err := core.Memory().Deserialize(image); err != nil {
		m.logger.Warn("memory snapshot restore failed",
			zap.String("agent_id", core.ID()), zap.Error(err))
	}
}
