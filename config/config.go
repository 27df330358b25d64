// Package config loads the declarative runtime configuration. Precedence is
// defaults, then the YAML file, then KOLOSAL_* environment variables.
package config

import (
	"time"

	"github.com/KolosalAI/kolosal-agent/agent/persistence"
	"github.com/KolosalAI/kolosal-agent/inference"
	"github.com/KolosalAI/kolosal-agent/types"
)

// EnvPrefix is the namespace for environment overrides.
const EnvPrefix = "KOLOSAL"

// SystemSection configures the management server and logging. Its fields
// flatten onto the bare prefix: KOLOSAL_HOST, KOLOSAL_PORT, KOLOSAL_LOG_LEVEL.
type SystemSection struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RequestTimeout is the server-side deadline on management calls.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// AllowedOrigins restricts CORS; empty means permissive ("*").
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// RateLimitRPS caps requests per second per client IP; 0 disables.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
}

// FunctionConfig declares an externally configured function.
type FunctionConfig struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`
	Description string            `yaml:"description"`
	Parameters  []types.ParamSpec `yaml:"parameters"`
}

// SupervisorSection tunes the health/recovery loop.
type SupervisorSection struct {
	Interval            time.Duration `yaml:"interval" env:"SUPERVISOR_INTERVAL"`
	MaxRecoveryAttempts int           `yaml:"max_recovery_attempts" env:"SUPERVISOR_MAX_RECOVERY_ATTEMPTS"`
	RecoveryWindow      time.Duration `yaml:"recovery_window" env:"SUPERVISOR_RECOVERY_WINDOW"`
	ActionTimeout       time.Duration `yaml:"action_timeout" env:"SUPERVISOR_ACTION_TIMEOUT"`
}

// PersistenceSection selects the memory-snapshot backend.
type PersistenceSection struct {
	// Type is "memory" or "redis".
	Type string `yaml:"type" env:"PERSISTENCE_TYPE"`
	// SnapshotOnStop saves each agent's memory image when it stops and
	// restores it on the next start.
	SnapshotOnStop bool                    `yaml:"snapshot_on_stop" env:"PERSISTENCE_SNAPSHOT_ON_STOP"`
	Redis          persistence.RedisConfig `yaml:"redis" env:"-"`
}

// ArchiveSection configures the terminal-job SQLite archive.
type ArchiveSection struct {
	Enabled bool   `yaml:"enabled" env:"ARCHIVE_ENABLED"`
	Path    string `yaml:"path" env:"ARCHIVE_PATH"`
}

// SystemConfig is the full parsed configuration.
type SystemConfig struct {
	System           SystemSection             `yaml:"system" env:""`
	Agents           []types.AgentConfig       `yaml:"agents" env:"-"`
	Functions        []FunctionConfig          `yaml:"functions" env:"-"`
	InferenceEngines []inference.BackendConfig `yaml:"inference_engines" env:"-"`
	Supervisor       SupervisorSection         `yaml:"supervisor" env:""`
	Persistence      PersistenceSection        `yaml:"persistence" env:""`
	Archive          ArchiveSection            `yaml:"archive" env:""`
}

// Default returns the baseline configuration before file and env layering.
func Default() *SystemConfig {
	return &SystemConfig{
		System: SystemSection{
			Host:            "127.0.0.1",
			Port:            8080,
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Supervisor: SupervisorSection{
			Interval:            30 * time.Second,
			MaxRecoveryAttempts: 3,
			RecoveryWindow:      5 * time.Minute,
			ActionTimeout:       10 * time.Second,
		},
		Persistence: PersistenceSection{
			Type: "memory",
		},
	}
}
