package functions

import (
	"context"
	"sort"
	"strings"

	"github.com/KolosalAI/kolosal-agent/types"
)

const declaredMaxTokens = 512

// DeclaredConfig is a function declared in the configuration file rather
// than in code. Its parameters are validated like any builtin's.
type DeclaredConfig struct {
	Name        string
	Type        string
	Description string
	Parameters  []types.ParamSpec
}

// FromDeclaration builds a Function from a config record. Type "llm" renders
// the description and parameters into a prompt for the inference backend;
// every other type behaves like echo over the validated parameters, which
// keeps misdeclared types observable instead of silently failing.
func FromDeclaration(cfg DeclaredConfig, deps Deps) Function {
	schema := types.FunctionSchema{
		Name:        cfg.Name,
		Description: cfg.Description,
		Category:    "declared",
		Params:      cfg.Parameters,
	}
	if cfg.Type != "llm" {
		return New(schema, func(_ context.Context, params types.AgentData) types.FunctionResult {
			return types.OK(types.ObjectValue(params.Clone()))
		})
	}
	return New(schema, func(ctx context.Context, params types.AgentData) types.FunctionResult {
		if deps.Inference == nil {
			return types.Fail("inference backend is not configured")
		}
		text, err := deps.Inference.Complete(ctx, renderPrompt(cfg.Description, params), declaredMaxTokens)
		if err != nil {
			return types.Fail("inference backend: " + err.Error())
		}
		return types.OK(types.ObjectValue(types.AgentData{"text": types.StringValue(text)}))
	})
}

// renderPrompt lays out the instruction followed by the inputs, keys sorted
// so equal inputs always produce the same prompt.
func renderPrompt(description string, params types.AgentData) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(description)
	for _, k := range keys {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(params[k].String())
	}
	return b.String()
}
