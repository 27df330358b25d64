package functions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/types"
)

// Registry is one agent's function table. Lookup is O(1); registration after
// start is allowed and replaces with a warn.
type Registry struct {
	mu     sync.RWMutex
	funcs  map[string]Function
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		funcs:  make(map[string]Function),
		logger: logger.With(zap.String("component", "registry")),
	}
}

// Register installs a function under its schema name. Re-registration
// replaces the previous instance with a warn.
func (r *Registry) Register(fn Function) {
	name := fn.Name()
	r.mu.Lock()
	_, replaced := r.funcs[name]
	r.funcs[name] = fn
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("function replaced", zap.String("function", name))
	} else {
		r.logger.Debug("function registered", zap.String("function", name))
	}
}

// Unregister removes a function. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.funcs, name)
	r.mu.Unlock()
}

// Has reports whether a function is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Get returns the function or an UNKNOWN_FUNCTION error.
func (r *Registry) Get(name string) (Function, *types.Error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrUnknownFunction, "unknown function: "+name).
			WithComponent("registry")
	}
	return fn, nil
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns every registered schema, sorted by name.
func (r *Registry) Schemas() []types.FunctionSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.FunctionSchema, 0, len(r.funcs))
	for _, fn := range r.funcs {
		out = append(out, fn.Schema())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered functions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

// Resolve looks up the function and validates the parameters against its
// schema, returning the normalized (default-filled) parameter map.
func (r *Registry) Resolve(name string, params types.AgentData) (Function, types.AgentData, *types.Error) {
	fn, err := r.Get(name)
	if err != nil {
		return nil, nil, err
	}
	normalized, verr := fn.Schema().Validate(params)
	if verr != nil {
		return nil, nil, verr
	}
	return fn, normalized, nil
}

// Execute is the uniform validate-then-dispatch path. Lookup and validation
// failures come back as failed results, never as raised errors; panics in the
// function body are contained the same way. ExecutionTimeMS covers the
// function body only.
func (r *Registry) Execute(ctx context.Context, name string, params types.AgentData) types.FunctionResult {
	fn, normalized, err := r.Resolve(name, params)
	if err != nil {
		return types.Fail(err.Message)
	}

	started := time.Now()
	result := r.invoke(ctx, fn, normalized)
	result.ExecutionTimeMS = time.Since(started).Milliseconds()
	return result
}

func (r *Registry) invoke(ctx context.Context, fn Function, params types.AgentData) (result types.FunctionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("function panicked",
				zap.String("function", fn.Name()),
				zap.Any("panic", rec),
			)
			result = types.Fail(fmt.Sprintf("function %s panicked: %v", fn.Name(), rec))
		}
	}()
	return fn.Execute(ctx, params)
}
