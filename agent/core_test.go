package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/KolosalAI/kolosal-agent/bus"
	"github.com/KolosalAI/kolosal-agent/types"
)

func newTestAgent(t *testing.T, cfg types.AgentConfig, router *bus.Router) *Core {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test-agent"
	}
	if len(cfg.Functions) == 0 {
		cfg.Functions = []string{"echo", "add", "delay"}
	}
	c, err := New(Options{Config: cfg, Router: router, Logger: zap.NewNop()})
	require.NoError(t, err)
	return c
}

func waitJob(t *testing.T, c *Core, id string) *types.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := c.Jobs().Status(id)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", id)
	return nil
}

func TestNewRejectsUnknownFunction(t *testing.T) {
	_, err := New(Options{
		Config: types.AgentConfig{Name: "bad", Functions: []string{"echo", "warp_drive"}},
		Logger: zap.NewNop(),
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownFunction, types.GetErrorCode(err))
}

func TestStartStopIdempotentWithWarn(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c, err := New(Options{
		Config: types.AgentConfig{Name: "a", Functions: []string{"echo"}},
		Logger: zap.New(core),
	})
	require.NoError(t, err)

	c.Start()
	c.Start()
	assert.Equal(t, 1, logs.FilterMessage("agent already running").Len())
	assert.True(t, c.IsRunning())

	c.Stop()
	c.Stop()
	assert.Equal(t, 1, logs.FilterMessage("agent already stopped").Len())
	assert.False(t, c.IsRunning())

	// A full restart works after the cycle.
	c.Start()
	assert.True(t, c.IsRunning())
	c.Stop()
}

func TestExecuteFunctionSync(t *testing.T) {
	c := newTestAgent(t, types.AgentConfig{}, nil)
	c.Start()
	defer c.Stop()

	res := c.ExecuteFunction(context.Background(), "echo", types.AgentData{"text": types.StringValue("hi")})
	require.True(t, res.Success, res.ErrorMessage)

	obj, _ := res.Data.AsObject()
	text, _ := obj["text"].AsString()
	assert.Equal(t, "hi", text)

	stats := c.Statistics()
	assert.Equal(t, int64(1), stats.FunctionsExecuted)
	assert.False(t, stats.LastActivity.IsZero())
}

func TestExecuteFunctionValidationFailureCounts(t *testing.T) {
	c := newTestAgent(t, types.AgentConfig{}, nil)
	c.Start()
	defer c.Stop()

	res := c.ExecuteFunction(context.Background(), "add", types.AgentData{"x": types.IntValue(1)})
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "y")
	assert.Equal(t, int64(1), c.Statistics().FunctionsExecuted)
}

func TestExecuteFunctionAsync(t *testing.T) {
	c := newTestAgent(t, types.AgentConfig{}, nil)
	c.Start()
	defer c.Stop()

	id, err := c.ExecuteFunctionAsync("add", types.AgentData{
		"x": types.IntValue(2),
		"y": types.IntValue(3),
	}, 1, "test")
	require.NoError(t, err)

	job := waitJob(t, c, id)
	assert.Equal(t, types.JobCompleted, job.Status)
	obj, _ := job.Result.Data.AsObject()
	sum, _ := obj["sum"].AsInt()
	assert.Equal(t, int64(5), sum)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && c.Statistics().FunctionsExecuted == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, int64(1), c.Statistics().FunctionsExecuted)
}

func TestAsyncRejectedWhenStopped(t *testing.T) {
	c := newTestAgent(t, types.AgentConfig{}, nil)

	_, err := c.ExecuteFunctionAsync("echo", nil, 0, "test")
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentStopped, types.GetErrorCode(err))
}

func TestRenameOnlyWhileStopped(t *testing.T) {
	c := newTestAgent(t, types.AgentConfig{Name: "before"}, nil)
	c.Start()
	err := c.Rename("after")
	require.Error(t, err)
	assert.Equal(t, types.ErrState, types.GetErrorCode(err))

	c.Stop()
	require.NoError(t, c.Rename("after"))
	assert.Equal(t, "after", c.Name())
}

func TestMessagingBetweenAgents(t *testing.T) {
	router := bus.NewRouter(bus.Config{}, zap.NewNop(), nil)
	router.Start()
	defer router.Stop()

	sender := newTestAgent(t, types.AgentConfig{Name: "sender"}, router)
	receiver := newTestAgent(t, types.AgentConfig{Name: "receiver"}, router)
	sender.Start()
	receiver.Start()
	defer sender.Stop()
	defer receiver.Stop()

	require.NoError(t, sender.SendMessage(receiver.ID(), "request", types.AgentData{
		"function": types.StringValue("echo"),
		"params":   types.ObjectValue(types.AgentData{"text": types.StringValue("ping")}),
	}))

	// The receiver records the turn and executes the requested function.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && receiver.Statistics().FunctionsExecuted == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, int64(1), receiver.Statistics().FunctionsExecuted)
	assert.Equal(t, 1, receiver.Memory().Conversation.Len())
}

func TestStoppedAgentUnreachableViaRouter(t *testing.T) {
	router := bus.NewRouter(bus.Config{}, zap.NewNop(), nil)
	router.Start()
	defer router.Stop()

	a := newTestAgent(t, types.AgentConfig{Name: "a"}, router)
	a.Start()
	assert.True(t, router.Registered(a.ID()))

	a.Stop()
	assert.False(t, router.Registered(a.ID()))
}

func TestBroadcastFromAgent(t *testing.T) {
	router := bus.NewRouter(bus.Config{}, zap.NewNop(), nil)
	router.Start()
	defer router.Stop()

	a := newTestAgent(t, types.AgentConfig{Name: "a"}, router)
	b := newTestAgent(t, types.AgentConfig{Name: "b"}, router)
	a.Start()
	b.Start()
	defer a.Stop()
	defer b.Stop()

	require.NoError(t, a.BroadcastMessage("announce", types.AgentData{
		"note": types.StringValue("hello"),
	}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && b.Memory().Conversation.Len() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	// The broadcast reaches b but not the sender itself.
	assert.Equal(t, 1, b.Memory().Conversation.Len())
	assert.Equal(t, 0, a.Memory().Conversation.Len())
}

func TestInboxDropWhileStoppedWarns(t *testing.T) {
	zcore, logs := observer.New(zap.WarnLevel)
	c, err := New(Options{
		Config: types.AgentConfig{Name: "late", Functions: []string{"echo"}},
		Logger: zap.New(zcore),
	})
	require.NoError(t, err)

	// A message still in flight when the agent stops is dropped, loudly.
	c.handleInbox(types.AgentMessage{ID: "m1", From: "peer", Type: "request"})

	require.Equal(t, 1, logs.FilterMessage("message received while stopped, dropping").Len())
	entry := logs.FilterMessage("message received while stopped, dropping").All()[0]
	assert.Equal(t, zap.WarnLevel, entry.Level)
	assert.Equal(t, "m1", entry.ContextMap()["message_id"])
	assert.Equal(t, 0, c.Memory().Conversation.Len())
}

func TestCancelledRunningJobNotCountedAsExecution(t *testing.T) {
	c := newTestAgent(t, types.AgentConfig{MaxConcurrentTasks: 1}, nil)
	c.Start()
	defer c.Stop()

	id, err := c.ExecuteFunctionAsync("delay", types.AgentData{"ms": types.IntValue(5000)}, 0, "test")
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := c.Jobs().Status(id)
		require.NoError(t, err)
		if job.Status == types.JobRunning {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	running, err := c.Jobs().Status(id)
	require.NoError(t, err)
	require.Equal(t, types.JobRunning, running.Status)

	// Cancelling a running job is cooperative: not applied immediately, the
	// worker observes the context and winds down.
	applied, err := c.Jobs().Cancel(id)
	require.NoError(t, err)
	require.False(t, applied)

	job := waitJob(t, c, id)
	require.Equal(t, types.JobCancelled, job.Status)

	// Only completed and failed jobs feed the execution counters.
	stats := c.Statistics()
	assert.Equal(t, int64(0), stats.FunctionsExecuted)
	assert.False(t, stats.LastActivity.IsZero())
}

func TestWorkingContextRoundTrip(t *testing.T) {
	c := newTestAgent(t, types.AgentConfig{}, nil)
	c.Start()

	c.SetWorkingContext("task", types.AgentData{"step": types.IntValue(2)})
	got, ok := c.GetWorkingContext("task")
	require.True(t, ok)
	step, _ := got["step"].AsInt()
	assert.Equal(t, int64(2), step)

	// Stop clears the scratchpad.
	c.Stop()
	_, ok = c.GetWorkingContext("task")
	assert.False(t, ok)
}

func TestStoreAndRecallMemories(t *testing.T) {
	c := newTestAgent(t, types.AgentConfig{}, nil)
	c.Start()
	defer c.Stop()

	_, err := c.StoreMemory(context.Background(), "deploys happen on fridays", types.MemoryFact, nil)
	require.NoError(t, err)

	entries := c.RecallMemories(types.MemoryQuery{Type: types.MemoryFact})
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Content, "fridays")
	assert.Equal(t, int64(1), c.Statistics().MemoryEntries)
}

func TestInfoSnapshot(t *testing.T) {
	c := newTestAgent(t, types.AgentConfig{
		Name:         "inspector",
		Type:         "worker",
		Role:         "ANALYST",
		Capabilities: []string{"analysis"},
		Functions:    []string{"echo", "add"},
	}, nil)
	c.Start()
	defer c.Stop()

	info := c.Info()
	assert.Equal(t, c.ID(), info.ID)
	assert.Equal(t, "inspector", info.Name)
	assert.Equal(t, types.RoleAnalyst, info.Role)
	assert.True(t, info.Running)
	assert.Equal(t, []string{"analysis"}, info.Capabilities)
	assert.Equal(t, []string{"add", "echo"}, info.Functions)
}

func TestCapabilityCheck(t *testing.T) {
	c := newTestAgent(t, types.AgentConfig{Capabilities: []string{"search", "summarize"}}, nil)
	assert.True(t, c.HasCapability("search"))
	assert.False(t, c.HasCapability("paint"))
}
