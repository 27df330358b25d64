// Package jobs implements the per-agent asynchronous execution engine: a
// priority queue of jobs drained by a fixed worker pool, with a job table for
// status and result retrieval.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/internal/metrics"
	"github.com/KolosalAI/kolosal-agent/types"
)

// Executor resolves and runs a named function. Satisfied by the function
// registry; decoupled here so the engine has no dependency on it.
type Executor interface {
	Execute(ctx context.Context, name string, params types.AgentData) types.FunctionResult
}

// TerminalHook is invoked once per job as it reaches a terminal status,
// outside the job table lock. Agents use it to maintain their counters.
type TerminalHook func(job *types.Job)

const (
	DefaultWorkers   = 4
	DefaultRetention = 1000
	DefaultStopGrace = 10 * time.Second
)

// Config tunes a Manager.
type Config struct {
	// Workers is the number of concurrent job executors.
	Workers int `yaml:"workers" json:"workers"`
	// MaxQueueDepth caps the pending queue; 0 means unbounded.
	MaxQueueDepth int `yaml:"max_queue_depth" json:"max_queue_depth"`
	// Retention is how many terminal jobs stay queryable per agent before the
	// oldest are evicted (and archived, when an archiver is attached).
	Retention int `yaml:"retention" json:"retention"`
	// StopGrace bounds how long Stop waits for in-flight jobs.
	StopGrace time.Duration `yaml:"stop_grace" json:"stop_grace"`
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
}

// Stats is a point-in-time snapshot of the engine.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Pending   int    `json:"pending"`
	Running   int    `json:"running"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
}

// Manager owns one agent's job queue, worker pool and job table.
//
// Lifecycle invariant: a job moves PENDING -> RUNNING -> {COMPLETED, FAILED,
// CANCELLED}, or PENDING -> CANCELLED directly. StartedAt is set exactly when
// it leaves PENDING through RUNNING; FinishedAt exactly when it turns
// terminal.
type Manager struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   jobQueue
	jobs    map[string]*types.Job
	cancels map[string]context.CancelFunc
	// cancelRequested marks running jobs whose caller asked for cancellation;
	// a subsequent failure result is reported as CANCELLED, not FAILED.
	cancelRequested map[string]bool
	// terminalOrder lists terminal job ids oldest-first for retention.
	terminalOrder []string

	running  bool
	stopping bool
	seq      uint64

	submitted uint64
	completed uint64
	failed    uint64
	cancelled uint64

	agentID   string
	cfg       Config
	exec      Executor
	archiver  Archiver
	hook      TerminalHook
	logger    *zap.Logger
	collector *metrics.Collector

	wg sync.WaitGroup
}

// NewManager creates a stopped engine for one agent.
func NewManager(agentID string, cfg Config, exec Executor, logger *zap.Logger, collector *metrics.Collector) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	m := &Manager{
		jobs:            make(map[string]*types.Job),
		cancels:         make(map[string]context.CancelFunc),
		cancelRequested: make(map[string]bool),
		agentID:         agentID,
		cfg:             cfg,
		exec:            exec,
		logger:          logger.With(zap.String("component", "jobs"), zap.String("agent_id", agentID)),
		collector:       collector,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SetArchiver attaches a sink for terminal jobs evicted by retention. Must be
// called before Start.
func (m *Manager) SetArchiver(a Archiver) { m.archiver = a }

// SetTerminalHook installs the terminal-transition callback. Must be called
// before Start.
func (m *Manager) SetTerminalHook(h TerminalHook) { m.hook = h }

// Start launches the worker pool. Idempotent with a warn.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn("job manager already started")
		return
	}
	m.running = true
	m.stopping = false
	m.mu.Unlock()

	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	m.logger.Info("job manager started", zap.Int("workers", m.cfg.Workers))
}

// Stop cancels every pending job, requests cancellation of running ones, and
// waits up to the stop grace for workers to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.stopping = true

	// Pending jobs never run once stop begins.
	var drained []*types.Job
	for {
		job := m.queue.pop()
		if job == nil {
			break
		}
		if job.Status != types.JobPending {
			continue
		}
		m.markTerminalLocked(job, types.JobCancelled)
		drained = append(drained, job)
	}
	evicted := m.evictLocked()
	for id, cancel := range m.cancels {
		m.cancelRequested[id] = true
		cancel()
	}
	m.cond.Broadcast()
	m.mu.Unlock()

	for _, job := range drained {
		m.reportTerminal(job)
	}
	m.archive(evicted)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.StopGrace):
		m.logger.Warn("job manager stop grace elapsed with workers still busy",
			zap.Duration("grace", m.cfg.StopGrace))
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	m.collector.SetJobQueueDepth(m.agentID, 0)
	m.logger.Info("job manager stopped")
}

// Submit enqueues a job and returns its id immediately.
func (m *Manager) Submit(function string, params types.AgentData, priority int, requester string) (string, error) {
	m.mu.Lock()
	if !m.running || m.stopping {
		m.mu.Unlock()
		return "", types.NewError(types.ErrAgentStopped, "job manager is not running").
			WithComponent("jobs").WithAgentID(m.agentID)
	}
	if m.cfg.MaxQueueDepth > 0 && m.pendingLocked() >= m.cfg.MaxQueueDepth {
		m.mu.Unlock()
		return "", types.NewError(types.ErrQueueFull,
			fmt.Sprintf("job queue is full (max %d)", m.cfg.MaxQueueDepth)).
			WithComponent("jobs").WithAgentID(m.agentID)
	}

	job := &types.Job{
		ID:         uuid.New().String(),
		Function:   function,
		Params:     params.Clone(),
		Priority:   priority,
		Requester:  requester,
		Status:     types.JobPending,
		EnqueuedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	m.seq++
	m.queue.push(job, m.seq)
	m.submitted++
	depth := m.pendingLocked()
	m.cond.Signal()
	m.mu.Unlock()

	m.collector.RecordJobSubmitted(m.agentID)
	m.collector.SetJobQueueDepth(m.agentID, depth)
	return job.ID, nil
}

// Cancel requests cancellation of a job. It returns true when the job
// transitioned to CANCELLED immediately (it was still pending). For a running
// job the request is delivered through the job's context and the return is
// false; the job turns CANCELLED only if the function yields. Terminal jobs
// are left untouched.
func (m *Manager) Cancel(id string) (bool, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return false, types.NewError(types.ErrNotFound, "job not found: "+id).
			WithComponent("jobs").WithAgentID(m.agentID).WithJobID(id)
	}
	switch job.Status {
	case types.JobPending:
		// The queue entry is skipped lazily when a worker pops it.
		m.markTerminalLocked(job, types.JobCancelled)
		evicted := m.evictLocked()
		depth := m.pendingLocked()
		m.mu.Unlock()
		m.collector.SetJobQueueDepth(m.agentID, depth)
		m.reportTerminal(job)
		m.archive(evicted)
		return true, nil
	case types.JobRunning:
		m.cancelRequested[id] = true
		if cancel, ok := m.cancels[id]; ok {
			cancel()
		}
		m.mu.Unlock()
		m.logger.Info("cancellation requested for running job", zap.String("job_id", id))
		return false, nil
	default:
		m.mu.Unlock()
		return false, nil
	}
}

// Status returns a copy of the job record.
func (m *Manager) Status(id string) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "job not found: "+id).
			WithComponent("jobs").WithAgentID(m.agentID).WithJobID(id)
	}
	return job.Clone(), nil
}

// Result returns the job's result once it is terminal.
func (m *Manager) Result(id string) (*types.FunctionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "job not found: "+id).
			WithComponent("jobs").WithAgentID(m.agentID).WithJobID(id)
	}
	if !job.Status.IsTerminal() {
		return nil, types.NewError(types.ErrResultPending,
			fmt.Sprintf("job %s is %s", id, job.Status)).
			WithComponent("jobs").WithAgentID(m.agentID).WithJobID(id)
	}
	if job.Result == nil {
		// Cancelled before it ever ran.
		return &types.FunctionResult{Success: false, ErrorMessage: "job cancelled", Data: types.NoneValue()}, nil
	}
	r := *job.Result
	return &r, nil
}

// List returns clones of every tracked job, newest enqueue first.
func (m *Manager) List() []*types.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.Clone())
	}
	sortJobsByEnqueueDesc(out)
	return out
}

// Stats returns a snapshot of queue and lifecycle counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Submitted: m.submitted,
		Completed: m.completed,
		Failed:    m.failed,
		Cancelled: m.cancelled,
	}
	for _, job := range m.jobs {
		switch job.Status {
		case types.JobPending:
			s.Pending++
		case types.JobRunning:
			s.Running++
		}
	}
	return s
}

// QueueDepth returns the number of pending jobs.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingLocked()
}

func (m *Manager) pendingLocked() int {
	n := 0
	for _, job := range m.jobs {
		if job.Status == types.JobPending {
			n++
		}
	}
	return n
}

func (m *Manager) worker(idx int) {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		var job *types.Job
		for job == nil {
			for m.queue.Len() == 0 && !m.stopping {
				m.cond.Wait()
			}
			if m.stopping {
				m.mu.Unlock()
				return
			}
			next := m.queue.pop()
			if next == nil || next.Status != types.JobPending {
				// Cancelled while queued; drop the stale entry.
				continue
			}
			job = next
		}

		job.Status = types.JobRunning
		started := time.Now()
		job.StartedAt = &started
		ctx, cancel := context.WithCancel(context.Background())
		m.cancels[job.ID] = cancel
		name := job.Function
		params := job.Params.Clone()
		depth := m.pendingLocked()
		m.mu.Unlock()

		m.collector.SetJobQueueDepth(m.agentID, depth)
		m.logger.Debug("job started",
			zap.Int("worker", idx),
			zap.String("job_id", job.ID),
			zap.String("function", name),
			zap.Int("priority", job.Priority),
		)

		result := m.run(ctx, name, params)
		cancel()

		m.mu.Lock()
		delete(m.cancels, job.ID)
		wasCancelled := m.cancelRequested[job.ID]
		delete(m.cancelRequested, job.ID)
		if result.ExecutionTimeMS == 0 {
			result.ExecutionTimeMS = time.Since(started).Milliseconds()
		}
		job.Result = &result
		status := types.JobCompleted
		if !result.Success {
			status = types.JobFailed
			if wasCancelled {
				status = types.JobCancelled
			}
		}
		m.markTerminalLocked(job, status)
		evicted := m.evictLocked()
		m.mu.Unlock()

		m.reportTerminal(job)
		m.archive(evicted)
	}
}

// run executes the function, converting panics into failed results so a bad
// function never takes down a worker.
func (m *Manager) run(ctx context.Context, name string, params types.AgentData) (result types.FunctionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("function panicked", zap.String("function", name), zap.Any("panic", rec))
			result = types.Fail(fmt.Sprintf("function %s panicked: %v", name, rec))
		}
	}()
	return m.exec.Execute(ctx, name, params)
}

func (m *Manager) markTerminalLocked(job *types.Job, status types.JobStatus) {
	job.Status = status
	now := time.Now()
	job.FinishedAt = &now
	m.terminalOrder = append(m.terminalOrder, job.ID)
	switch status {
	case types.JobCompleted:
		m.completed++
	case types.JobFailed:
		m.failed++
	case types.JobCancelled:
		m.cancelled++
	}
}

// evictLocked trims the job table to the retention bound, returning the
// evicted records for archival.
func (m *Manager) evictLocked() []*types.Job {
	var evicted []*types.Job
	for len(m.terminalOrder) > m.cfg.Retention {
		id := m.terminalOrder[0]
		m.terminalOrder = m.terminalOrder[1:]
		if job, ok := m.jobs[id]; ok {
			evicted = append(evicted, job)
			delete(m.jobs, id)
		}
	}
	return evicted
}

func (m *Manager) reportTerminal(job *types.Job) {
	var execDur time.Duration
	if job.Result != nil {
		execDur = time.Duration(job.Result.ExecutionTimeMS) * time.Millisecond
	}
	m.collector.RecordJobTerminal(m.agentID, string(job.Status), execDur)
	m.logger.Debug("job finished",
		zap.String("job_id", job.ID),
		zap.String("function", job.Function),
		zap.String("status", string(job.Status)),
	)
	if m.hook != nil {
		m.hook(job.Clone())
	}
}

func (m *Manager) archive(jobs []*types.Job) {
	if m.archiver == nil || len(jobs) == 0 {
		return
	}
	if err := m.archiver.Archive(m.agentID, jobs); err != nil {
		m.logger.Warn("failed to archive evicted jobs", zap.Int("count", len(jobs)), zap.Error(err))
	}
}

func sortJobsByEnqueueDesc(jobs []*types.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].EnqueuedAt.After(jobs[j].EnqueuedAt)
	})
}
