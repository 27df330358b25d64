// Package functions defines the callable unit of agent work and the per-agent
// registry that validates and dispatches invocations.
package functions

import (
	"context"

	"github.com/KolosalAI/kolosal-agent/types"
)

// Function is one callable unit. Implementations carry no singleton state;
// every agent gets its own instances so deletion never leaks shared state.
type Function interface {
	// Name is the registry key.
	Name() string
	// Schema declares parameters; the registry validates against it before
	// Execute is ever called.
	Schema() types.FunctionSchema
	// Execute runs with already-validated, default-filled parameters. It must
	// honor ctx cancellation for long work and must not panic; the registry
	// contains panics regardless.
	Execute(ctx context.Context, params types.AgentData) types.FunctionResult
}

// CostEstimator is optionally implemented by functions that can predict their
// relative expense; schedulers may use it to order work.
type CostEstimator interface {
	EstimateCost(params types.AgentData) float64
}

// funcAdapter lifts a plain closure into a Function.
type funcAdapter struct {
	schema types.FunctionSchema
	run    func(ctx context.Context, params types.AgentData) types.FunctionResult
}

// New builds a Function from a schema and a closure.
func New(schema types.FunctionSchema, run func(ctx context.Context, params types.AgentData) types.FunctionResult) Function {
	return &funcAdapter{schema: schema, run: run}
}

func (f *funcAdapter) Name() string                 { return f.schema.Name }
func (f *funcAdapter) Schema() types.FunctionSchema { return f.schema }

func (f *funcAdapter) Execute(ctx context.Context, params types.AgentData) types.FunctionResult {
	return f.run(ctx, params)
}
