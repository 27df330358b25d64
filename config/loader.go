package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/KolosalAI/kolosal-agent/types"
)

// knownTopLevelKeys is the accepted configuration surface; anything else in
// the file draws a warning and is ignored.
var knownTopLevelKeys = map[string]bool{
	"system":            true,
	"agents":            true,
	"functions":         true,
	"inference_engines": true,
	"supervisor":        true,
	"persistence":       true,
	"archive":           true,
}

// Loader layers defaults, an optional YAML file, and environment overrides.
type Loader struct {
	path      string
	envPrefix string
	logger    *zap.Logger
}

// NewLoader creates a loader with the standard KOLOSAL prefix.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{envPrefix: EnvPrefix, logger: logger.With(zap.String("component", "config"))}
}

// WithPath sets the YAML file path. A missing file is not an error; the
// defaults and environment carry the configuration.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnvPrefix overrides the environment namespace; used by tests.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the effective configuration.
func (l *Loader) Load() (*SystemConfig, error) {
	cfg := Default()

	if l.path != "" {
		if err := l.loadFile(cfg); err != nil {
			return nil, err
		}
	}
	if err := l.applyEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadFile(cfg *SystemConfig) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Warn("config file not found, using defaults", zap.String("path", l.path))
			return nil
		}
		return types.NewErrorf(types.ErrValidation, "read config file: %v", err).WithCause(err)
	}

	// Surface unknown top-level keys before the typed decode drops them.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return types.NewErrorf(types.ErrValidation, "parse config file: %v", err).WithCause(err)
	}
	for key := range raw {
		if !knownTopLevelKeys[key] {
			l.logger.Warn("unknown configuration key ignored", zap.String("key", key))
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return types.NewErrorf(types.ErrValidation, "parse config file: %v", err).WithCause(err)
	}
	return nil
}

// applyEnv walks the struct, overriding fields from <prefix>_<tag>. A struct
// field with an empty env tag flattens onto the current prefix; "-" opts out.
func (l *Loader) applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok || tag == "-" {
			continue
		}
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			sub := prefix
			if tag != "" {
				sub = prefix + "_" + tag
			}
			if err := l.applyEnv(field, sub); err != nil {
				return err
			}
			continue
		}
		if tag == "" {
			continue
		}
		key := prefix + "_" + tag
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		if err := setField(field, value); err != nil {
			return types.NewErrorf(types.ErrValidation, "environment override %s: %v", key, err).WithCause(err)
		}
		l.logger.Debug("environment override applied", zap.String("key", key))
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// Validate rejects configurations the runtime cannot start with.
func Validate(cfg *SystemConfig) error {
	if cfg.System.Port < 1 || cfg.System.Port > 65535 {
		return types.NewErrorf(types.ErrValidation, "system.port %d out of range", cfg.System.Port)
	}
	switch cfg.Persistence.Type {
	case "", "memory", "redis":
	default:
		return types.NewErrorf(types.ErrValidation, "persistence.type %q is not one of memory, redis", cfg.Persistence.Type)
	}

	seen := make(map[string]bool, len(cfg.Agents))
	for i, agent := range cfg.Agents {
		if agent.Name == "" {
			return types.NewErrorf(types.ErrValidation, "agents[%d]: name is required", i)
		}
		if seen[agent.Name] {
			return types.NewErrorf(types.ErrValidation, "agents[%d]: duplicate name %q", i, agent.Name)
		}
		seen[agent.Name] = true
		if agent.MaxConcurrentTasks < 0 {
			return types.NewErrorf(types.ErrValidation, "agent %q: max_concurrent_tasks must not be negative", agent.Name)
		}
	}
	seenFns := make(map[string]bool, len(cfg.Functions))
	for i, fn := range cfg.Functions {
		if fn.Name == "" {
			return types.NewErrorf(types.ErrValidation, "functions[%d]: name is required", i)
		}
		if seenFns[fn.Name] {
			return types.NewErrorf(types.ErrValidation, "functions[%d]: duplicate name %q", i, fn.Name)
		}
		seenFns[fn.Name] = true
	}
	for i, engine := range cfg.InferenceEngines {
		if engine.Port < 1 || engine.Port > 65535 {
			return types.NewErrorf(types.ErrValidation, "inference_engines[%d]: port %d out of range", i, engine.Port)
		}
	}
	if cfg.Archive.Enabled && cfg.Archive.Path == "" {
		return types.NewError(types.ErrValidation, "archive.path is required when archive is enabled")
	}
	return nil
}

// MustLoad loads or panics; for wiring code where a bad config is fatal
// anyway.
func MustLoad(path string, logger *zap.Logger) *SystemConfig {
	cfg, err := NewLoader(logger).WithPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}
