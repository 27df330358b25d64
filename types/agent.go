package types

import "time"

// AgentRole is the declared role of an agent within the population.
// Roles are advisory tags used for discovery and reporting, not a permission
// system.
type AgentRole string

const (
	RoleCoordinator AgentRole = "COORDINATOR"
	RoleAnalyst     AgentRole = "ANALYST"
	RoleExecutor    AgentRole = "EXECUTOR"
	RoleSpecialist  AgentRole = "SPECIALIST"
	RoleGeneric     AgentRole = "GENERIC"
)

// ParseAgentRole maps a config string onto a known role, defaulting to GENERIC.
func ParseAgentRole(s string) AgentRole {
	switch AgentRole(s) {
	case RoleCoordinator, RoleAnalyst, RoleExecutor, RoleSpecialist, RoleGeneric:
		return AgentRole(s)
	default:
		return RoleGeneric
	}
}

// AgentConfig is the declarative record an agent is created from.
type AgentConfig struct {
	Name         string   `yaml:"name" json:"name"`
	Type         string   `yaml:"type" json:"type"`
	Role         string   `yaml:"role" json:"role"`
	Capabilities []string `yaml:"capabilities" json:"capabilities,omitempty"`
	Functions    []string `yaml:"functions" json:"functions,omitempty"`

	// Option bag. Unknown options are ignored with a warning at load time.
	AutoStart          bool `yaml:"auto_start" json:"auto_start"`
	MaxConcurrentTasks int  `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks,omitempty"`
	MaxQueueDepth      int  `yaml:"max_queue_depth" json:"max_queue_depth,omitempty"`
	MemoryLimit        int  `yaml:"memory_limit" json:"memory_limit,omitempty"`
	MaxMessages        int  `yaml:"max_messages" json:"max_messages,omitempty"`
}

// AgentStats is the per-agent execution counters snapshot.
type AgentStats struct {
	FunctionsExecuted int64     `json:"functions_executed"`
	ToolsExecuted     int64     `json:"tools_executed"`
	PlansCreated      int64     `json:"plans_created"`
	MemoryEntries     int64     `json:"memory_entries"`
	AvgExecMS         float64   `json:"avg_exec_ms"`
	LastActivity      time.Time `json:"last_activity"`
}

// AgentInfo is the externally visible description of an agent, served by the
// management API.
type AgentInfo struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Role         AgentRole  `json:"role"`
	Running      bool       `json:"running"`
	Capabilities []string   `json:"capabilities"`
	Functions    []string   `json:"functions,omitempty"`
	Stats        AgentStats `json:"stats"`
}
