package runtime

import (
	"time"

	"github.com/KolosalAI/kolosal-agent/types"
)

// BackendStatus reports the external inference backend as last observed.
type BackendStatus struct {
	Configured bool   `json:"configured"`
	Managed    bool   `json:"managed"`
	URL        string `json:"url,omitempty"`
	// Running means the process is alive (managed) or the endpoint is
	// reachable (unmanaged); Healthy means the health probe passed.
	Running bool `json:"running"`
	Healthy bool `json:"healthy"`
}

// SystemStatus is the snapshot published by the supervisor each cycle and
// served by the management API.
type SystemStatus struct {
	Timestamp        time.Time         `json:"timestamp"`
	AgentsTotal      int               `json:"agents_total"`
	AgentsRunning    int               `json:"agents_running"`
	Agents           []types.AgentInfo `json:"agents"`
	LLMBackend       BackendStatus     `json:"llm_backend"`
	RouterQueueDepth int               `json:"router_queue_depth"`
	// Healthy is the overall verdict: every expected-running agent is running
	// and the backend (when configured) answers its health probe.
	Healthy bool `json:"healthy"`
}

// StartupReport records the outcome of starting a population of agents.
// Failures are isolated: one bad agent never aborts the rest.
type StartupReport struct {
	Started []string          `json:"started"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// OK reports whether every agent came up.
func (r StartupReport) OK() bool { return len(r.Failed) == 0 }
