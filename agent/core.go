// Package agent implements the core agent unit: one function registry, one
// job engine, one memory manager and one router registration per agent.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/agent/functions"
	"github.com/KolosalAI/kolosal-agent/agent/memory"
	"github.com/KolosalAI/kolosal-agent/bus"
	"github.com/KolosalAI/kolosal-agent/internal/metrics"
	"github.com/KolosalAI/kolosal-agent/jobs"
	"github.com/KolosalAI/kolosal-agent/types"
)

// Core is one agent. Agents never hold references to each other; the router
// is the only inter-agent channel.
type Core struct {
	id string

	mu           sync.Mutex
	name         string
	role         types.AgentRole
	agentType    string
	capabilities []string
	running      bool
	stats        types.AgentStats
	execCount    int64 // executions contributing to the rolling average

	registry *functions.Registry
	jobMgr   *jobs.Manager
	memory   *memory.Manager
	router   *bus.Router

	logger    *zap.Logger
	collector *metrics.Collector
}

// Options carries construction-time collaborators.
type Options struct {
	Config types.AgentConfig
	Deps   functions.Deps
	// Declared are config-file function declarations resolvable by name in
	// addition to the builtins.
	Declared  []functions.DeclaredConfig
	Router    *bus.Router
	Logger    *zap.Logger
	Collector *metrics.Collector
	Archiver  jobs.Archiver
}

// New builds a stopped agent from its declarative config. The requested
// function names are resolved against the builtin families; unknown names
// surface as an UNKNOWN_FUNCTION error and no agent is created.
func New(opts Options) (*Core, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	logger = logger.With(zap.String("agent_id", id), zap.String("agent_name", opts.Config.Name))

	c := &Core{
		id:           id,
		name:         opts.Config.Name,
		role:         types.ParseAgentRole(opts.Config.Role),
		agentType:    opts.Config.Type,
		capabilities: append([]string(nil), opts.Config.Capabilities...),
		router:       opts.Router,
		logger:       logger,
		collector:    opts.Collector,
	}

	c.memory = memory.NewManager(memory.Config{MaxMessages: opts.Config.MaxMessages}, opts.Deps.Embedder, logger)
	deps := opts.Deps
	deps.Memory = c.memory

	c.registry = functions.NewRegistry(logger)
	if err := functions.RegisterConfigured(c.registry, opts.Config.Functions, opts.Declared, deps); err != nil {
		return nil, err
	}

	c.jobMgr = jobs.NewManager(id, jobs.Config{
		Workers:       opts.Config.MaxConcurrentTasks,
		MaxQueueDepth: opts.Config.MaxQueueDepth,
	}, c.registry, logger, opts.Collector)
	if opts.Archiver != nil {
		c.jobMgr.SetArchiver(opts.Archiver)
	}
	c.jobMgr.SetTerminalHook(c.onJobTerminal)

	return c, nil
}

// ID returns the immutable agent id.
func (c *Core) ID() string { return c.id }

// Name returns the agent's label.
func (c *Core) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Rename changes the label. Only legal while stopped.
func (c *Core) Rename(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return types.NewError(types.ErrState, "cannot rename a running agent").
			WithComponent("agent").WithAgentID(c.id)
	}
	c.name = name
	return nil
}

// Role returns the agent's role.
func (c *Core) Role() types.AgentRole {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// IsRunning reports the lifecycle state.
func (c *Core) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Capabilities returns a copy of the capability set.
func (c *Core) Capabilities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.capabilities...)
}

// HasCapability reports whether the agent declares the given capability.
func (c *Core) HasCapability(cap string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, have := range c.capabilities {
		if have == cap {
			return true
		}
	}
	return false
}

// Registry exposes the agent's function table for introspection and external
// function registration.
func (c *Core) Registry() *functions.Registry { return c.registry }

// Memory exposes the agent's memory manager.
func (c *Core) Memory() *memory.Manager { return c.memory }

// Jobs exposes the agent's job engine.
func (c *Core) Jobs() *jobs.Manager { return c.jobMgr }

// Start brings the agent to RUNNING: workers up, inbox registered.
// Idempotent with a warn.
func (c *Core) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Warn("agent already running")
		return
	}
	c.running = true
	c.mu.Unlock()

	c.jobMgr.Start()
	if c.router != nil {
		c.router.Register(c.id, c.handleInbox)
	}
	c.logger.Info("agent started")
}

// Stop deregisters from the router first so no new messages arrive, then
// stops the job engine and clears the working scratchpad. Idempotent with a
// warn.
func (c *Core) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.logger.Warn("agent already stopped")
		return
	}
	c.running = false
	c.mu.Unlock()

	if c.router != nil {
		c.router.Unregister(c.id)
	}
	c.jobMgr.Stop()
	c.memory.ClearWorking()
	c.logger.Info("agent stopped")
}

// ExecuteFunction dispatches synchronously through the registry and updates
// statistics. Lookup and validation failures come back inside the result.
func (c *Core) ExecuteFunction(ctx context.Context, name string, params types.AgentData) types.FunctionResult {
	result := c.registry.Execute(ctx, name, params)
	c.recordExecution(result.ExecutionTimeMS)
	return result
}

// ExecuteFunctionAsync submits a job and returns its id immediately.
func (c *Core) ExecuteFunctionAsync(name string, params types.AgentData, priority int, requester string) (string, error) {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return "", types.NewError(types.ErrAgentStopped, "agent is not running").
			WithComponent("agent").WithAgentID(c.id)
	}
	return c.jobMgr.Submit(name, params, priority, requester)
}

// SendMessage routes a direct message with from = this agent.
func (c *Core) SendMessage(to, msgType string, payload types.AgentData) error {
	if c.router == nil {
		return types.NewError(types.ErrState, "no router attached").
			WithComponent("agent").WithAgentID(c.id)
	}
	return c.router.Route(types.AgentMessage{
		From:    c.id,
		To:      to,
		Type:    msgType,
		Payload: payload,
	})
}

// BroadcastMessage routes a fanout message with from = this agent.
func (c *Core) BroadcastMessage(msgType string, payload types.AgentData) error {
	if c.router == nil {
		return types.NewError(types.ErrState, "no router attached").
			WithComponent("agent").WithAgentID(c.id)
	}
	return c.router.Broadcast(types.AgentMessage{
		From:    c.id,
		Type:    msgType,
		Payload: payload,
	})
}

// StoreMemory is the long-term memory convenience wrapper.
func (c *Core) StoreMemory(ctx context.Context, content string, typ types.MemoryType, metadata map[string]string) (types.MemoryEntry, error) {
	entry, err := c.memory.Store(ctx, types.MemoryEntry{Content: content, Type: typ, Metadata: metadata})
	if err == nil {
		c.touch()
	}
	return entry, err
}

// RecallMemories queries long-term memory by filters.
func (c *Core) RecallMemories(query types.MemoryQuery) []types.MemoryEntry {
	return c.memory.Recall(query)
}

// SetWorkingContext writes a named scratchpad slot.
func (c *Core) SetWorkingContext(key string, value types.AgentData) {
	c.memory.Working.SetContext(key, value)
}

// GetWorkingContext reads a named scratchpad slot.
func (c *Core) GetWorkingContext(key string) (types.AgentData, bool) {
	return c.memory.Working.GetContext(key)
}

// Statistics returns a point-in-time copy of the counters.
func (c *Core) Statistics() types.AgentStats {
	c.mu.Lock()
	stats := c.stats
	c.mu.Unlock()
	stats.MemoryEntries = int64(c.memory.EntryCount())
	return stats
}

// Info assembles the full introspection record.
func (c *Core) Info() types.AgentInfo {
	c.mu.Lock()
	info := types.AgentInfo{
		ID:           c.id,
		Name:         c.name,
		Type:         c.agentType,
		Role:         c.role,
		Running:      c.running,
		Capabilities: append([]string(nil), c.capabilities...),
	}
	c.mu.Unlock()
	info.Functions = c.registry.Names()
	info.Stats = c.Statistics()
	return info
}

// handleInbox runs on the router dispatcher goroutine, so it only records the
// conversation turn and enqueues follow-up work; it never executes functions
// inline. Messages arriving while the agent is stopping are dropped.
func (c *Core) handleInbox(msg types.AgentMessage) {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		c.logger.Warn("message received while stopped, dropping",
			zap.String("message_id", msg.ID), zap.String("from", msg.From))
		return
	}

	c.memory.Conversation.AddMessage("user", msg.Type+" from "+msg.From, map[string]string{
		"message_id": msg.ID,
		"from":       msg.From,
	})
	c.touch()

	// Messages carrying a function request become jobs; anything else is just
	// recorded.
	fn, _ := msg.Payload["function"].AsString()
	if fn == "" {
		return
	}
	params, _ := msg.Payload["params"].AsObject()
	if _, err := c.jobMgr.Submit(fn, params, 0, msg.From); err != nil {
		c.logger.Warn("failed to enqueue job for inbound message",
			zap.String("message_id", msg.ID),
			zap.String("function", fn),
			zap.Error(err),
		)
	}
}

// onJobTerminal folds finished jobs into the counters. Cancelled jobs only
// refresh the activity timestamp, even when the worker produced a partial
// result before honoring the cancel.
func (c *Core) onJobTerminal(job *types.Job) {
	if job.Status != types.JobCancelled && job.Result != nil && job.StartedAt != nil {
		c.recordExecution(job.Result.ExecutionTimeMS)
	} else {
		c.touch()
	}
}

// recordExecution folds one execution into the rolling average.
func (c *Core) recordExecution(execMS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.FunctionsExecuted++
	c.execCount++
	c.stats.AvgExecMS += (float64(execMS) - c.stats.AvgExecMS) / float64(c.execCount)
	c.stats.LastActivity = time.Now()
}

func (c *Core) touch() {
	c.mu.Lock()
	c.stats.LastActivity = time.Now()
	c.mu.Unlock()
}
