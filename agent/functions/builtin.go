package functions

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/agent/memory"
	"github.com/KolosalAI/kolosal-agent/llm/embedding"
	"github.com/KolosalAI/kolosal-agent/types"
)

// InferenceClient is the slice of the inference backend the LLM builtin
// needs. Satisfied by inference.Client.
type InferenceClient interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// DocumentParser extracts plain text from a document. The actual PDF/DOCX
// machinery lives outside the runtime; tests inject fakes.
type DocumentParser interface {
	Parse(ctx context.Context, path string) (string, error)
}

// Deps carries the external collaborators builtins may need. Nil fields are
// legal; a builtin whose dependency is absent fails at call time with a
// dependency message, not at registration time.
type Deps struct {
	Inference  InferenceClient
	Parser     DocumentParser
	Embedder   embedding.Provider
	Memory     *memory.Manager
	HTTPClient *http.Client
	Logger     *zap.Logger
}

const (
	httpCallTimeout  = 15 * time.Second
	httpBodyLimit    = 1 << 20
	defaultRecallTop = 5
)

// Builtins returns fresh instances of every builtin family, keyed by name.
// Each call builds new Function values so no state is shared across agents.
func Builtins(deps Deps) map[string]Function {
	all := []Function{
		newEcho(),
		newAdd(),
		newDelay(),
		newTextAnalyze(),
		newTransform(),
		newLLMCall(deps.Inference),
		newHTTPGet(deps.HTTPClient),
		newParseDocument(deps.Parser),
		newRemember(deps.Memory),
		newRecall(deps.Memory),
		newEmbedText(deps.Embedder),
	}
	out := make(map[string]Function, len(all))
	for _, fn := range all {
		out[fn.Name()] = fn
	}
	return out
}

// BuiltinNames lists the available builtin function names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(Builtins(Deps{})))
	for name := range Builtins(Deps{}) {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins resolves the requested names against the builtin families
// and registers each match. Unknown names are reported, known ones are still
// registered, so one typo does not strip an agent of its whole toolset.
func RegisterBuiltins(reg *Registry, names []string, deps Deps) error {
	return RegisterConfigured(reg, names, nil, deps)
}

// RegisterConfigured resolves requested names against the builtins first and
// the config-declared functions second. A declaration cannot shadow a builtin.
func RegisterConfigured(reg *Registry, names []string, declared []DeclaredConfig, deps Deps) error {
	available := Builtins(deps)
	for _, d := range declared {
		if _, taken := available[d.Name]; taken {
			continue
		}
		available[d.Name] = FromDeclaration(d, deps)
	}

	var unknown []string
	for _, name := range names {
		fn, ok := available[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		reg.Register(fn)
	}
	if len(unknown) > 0 {
		return types.NewErrorf(types.ErrUnknownFunction,
			"unknown functions: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func newEcho() Function {
	return New(types.FunctionSchema{
		Name:        "echo",
		Description: "Returns its parameters unchanged.",
		Category:    "utility",
		Params: []types.ParamSpec{
			{Name: "text", Type: types.ParamString, Description: "Text to echo back", Required: true},
		},
	}, func(_ context.Context, params types.AgentData) types.FunctionResult {
		return types.OK(types.ObjectValue(params.Clone()))
	})
}

func newAdd() Function {
	return New(types.FunctionSchema{
		Name:        "add",
		Description: "Adds two numbers.",
		Category:    "math",
		Params: []types.ParamSpec{
			{Name: "x", Type: types.ParamFloat, Required: true},
			{Name: "y", Type: types.ParamFloat, Required: true},
		},
	}, func(_ context.Context, params types.AgentData) types.FunctionResult {
		x, _ := params["x"].AsFloat()
		y, _ := params["y"].AsFloat()
		sum := x + y
		data := types.AgentData{"sum": types.FloatValue(sum)}
		// Keep integer arithmetic integral on the wire.
		if sum == float64(int64(sum)) {
			data["sum"] = types.IntValue(int64(sum))
		}
		return types.OK(types.ObjectValue(data))
	})
}

func newDelay() Function {
	def := types.IntValue(100)
	return New(types.FunctionSchema{
		Name:        "delay",
		Description: "Sleeps for the given number of milliseconds.",
		Category:    "utility",
		Params: []types.ParamSpec{
			{Name: "ms", Type: types.ParamInt, Description: "Milliseconds to wait", Default: &def},
		},
	}, func(ctx context.Context, params types.AgentData) types.FunctionResult {
		ms, _ := params["ms"].AsInt()
		if ms < 0 {
			ms = 0
		}
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
			return types.OK(types.ObjectValue(types.AgentData{"slept_ms": types.IntValue(ms)}))
		case <-ctx.Done():
			return types.Fail("delay cancelled")
		}
	})
}

func newTextAnalyze() Function {
	return New(types.FunctionSchema{
		Name:        "text_analyze",
		Description: "Counts characters, words, lines and sentences in a text.",
		Category:    "text",
		Params: []types.ParamSpec{
			{Name: "text", Type: types.ParamString, Required: true},
		},
	}, func(_ context.Context, params types.AgentData) types.FunctionResult {
		text, _ := params["text"].AsString()
		sentences := 0
		for _, r := range text {
			if r == '.' || r == '!' || r == '?' {
				sentences++
			}
		}
		return types.OK(types.ObjectValue(types.AgentData{
			"chars":     types.IntValue(int64(len([]rune(text)))),
			"words":     types.IntValue(int64(len(strings.Fields(text)))),
			"lines":     types.IntValue(int64(len(strings.Split(text, "\n")))),
			"sentences": types.IntValue(int64(sentences)),
		}))
	})
}

func newTransform() Function {
	return New(types.FunctionSchema{
		Name:        "transform",
		Description: "Applies a named transformation to a text.",
		Category:    "text",
		Params: []types.ParamSpec{
			{Name: "text", Type: types.ParamString, Required: true},
			{Name: "op", Type: types.ParamString, Required: true,
				Enum: []string{"upper", "lower", "title", "reverse", "trim"}},
		},
	}, func(_ context.Context, params types.AgentData) types.FunctionResult {
		text, _ := params["text"].AsString()
		op, _ := params["op"].AsString()
		var out string
		switch op {
		case "upper":
			out = strings.ToUpper(text)
		case "lower":
			out = strings.ToLower(text)
		case "title":
			out = titleCase(text)
		case "reverse":
			runes := []rune(text)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			out = string(runes)
		case "trim":
			out = strings.TrimSpace(text)
		}
		return types.OK(types.ObjectValue(types.AgentData{"text": types.StringValue(out)}))
	})
}

func titleCase(s string) string {
	out := []rune(s)
	prevSpace := true
	for i, r := range out {
		if prevSpace {
			out[i] = unicode.ToUpper(r)
		} else {
			out[i] = unicode.ToLower(r)
		}
		prevSpace = unicode.IsSpace(r)
	}
	return string(out)
}

func newLLMCall(client InferenceClient) Function {
	maxDef := types.IntValue(512)
	return New(types.FunctionSchema{
		Name:        "llm_call",
		Description: "Sends a prompt to the configured inference backend.",
		Category:    "llm",
		Params: []types.ParamSpec{
			{Name: "prompt", Type: types.ParamString, Required: true},
			{Name: "max_tokens", Type: types.ParamInt, Default: &maxDef},
		},
	}, func(ctx context.Context, params types.AgentData) types.FunctionResult {
		if client == nil {
			return types.Fail("inference backend is not configured")
		}
		prompt, _ := params["prompt"].AsString()
		maxTokens, _ := params["max_tokens"].AsInt()
		text, err := client.Complete(ctx, prompt, int(maxTokens))
		if err != nil {
			return types.Fail("inference backend: " + err.Error())
		}
		return types.OK(types.ObjectValue(types.AgentData{"text": types.StringValue(text)}))
	})
}

func newHTTPGet(client *http.Client) Function {
	if client == nil {
		client = &http.Client{Timeout: httpCallTimeout}
	}
	return New(types.FunctionSchema{
		Name:        "http_get",
		Description: "Fetches a URL and returns status and body.",
		Category:    "network",
		Params: []types.ParamSpec{
			{Name: "url", Type: types.ParamString, Required: true},
		},
	}, func(ctx context.Context, params types.AgentData) types.FunctionResult {
		url, _ := params["url"].AsString()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return types.Fail("invalid url: " + err.Error())
		}
		resp, err := client.Do(req)
		if err != nil {
			return types.Fail("http request failed: " + err.Error())
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, httpBodyLimit))
		if err != nil {
			return types.Fail("read response: " + err.Error())
		}
		return types.OK(types.ObjectValue(types.AgentData{
			"status": types.IntValue(int64(resp.StatusCode)),
			"body":   types.StringValue(string(body)),
		}))
	})
}

func newParseDocument(parser DocumentParser) Function {
	return New(types.FunctionSchema{
		Name:        "parse_document",
		Description: "Extracts plain text from a document via the external parser.",
		Category:    "document",
		Params: []types.ParamSpec{
			{Name: "path", Type: types.ParamString, Required: true},
		},
	}, func(ctx context.Context, params types.AgentData) types.FunctionResult {
		if parser == nil {
			return types.Fail("document parser is not configured")
		}
		path, _ := params["path"].AsString()
		text, err := parser.Parse(ctx, path)
		if err != nil {
			return types.Fail("document parser: " + err.Error())
		}
		return types.OK(types.ObjectValue(types.AgentData{"text": types.StringValue(text)}))
	})
}

func newRemember(mem *memory.Manager) Function {
	typeDef := types.StringValue(string(types.MemoryGeneral))
	return New(types.FunctionSchema{
		Name:        "remember",
		Description: "Stores a piece of text in the agent's long-term memory.",
		Category:    "memory",
		Params: []types.ParamSpec{
			{Name: "content", Type: types.ParamString, Required: true},
			{Name: "type", Type: types.ParamString, Default: &typeDef,
				Enum: memoryTypeNames()},
		},
	}, func(ctx context.Context, params types.AgentData) types.FunctionResult {
		if mem == nil {
			return types.Fail("memory is not configured")
		}
		content, _ := params["content"].AsString()
		typ, _ := params["type"].AsString()
		entry, err := mem.Store(ctx, types.MemoryEntry{
			Content: content,
			Type:    types.MemoryType(typ),
		})
		if err != nil {
			return types.Fail("store memory: " + err.Error())
		}
		return types.OK(types.ObjectValue(types.AgentData{"id": types.StringValue(entry.ID)}))
	})
}

func newRecall(mem *memory.Manager) Function {
	topDef := types.IntValue(defaultRecallTop)
	return New(types.FunctionSchema{
		Name:        "recall",
		Description: "Retrieves memories semantically similar to a query.",
		Category:    "memory",
		Params: []types.ParamSpec{
			{Name: "query", Type: types.ParamString, Required: true},
			{Name: "top_k", Type: types.ParamInt, Default: &topDef},
		},
	}, func(ctx context.Context, params types.AgentData) types.FunctionResult {
		if mem == nil {
			return types.Fail("memory is not configured")
		}
		query, _ := params["query"].AsString()
		topK, _ := params["top_k"].AsInt()
		entries, scores, err := mem.Vector.SemanticSearch(ctx, query, int(topK))
		if err != nil {
			return types.Fail("semantic search: " + err.Error())
		}
		contents := make([]string, len(entries))
		scoreStrs := make([]string, len(entries))
		for i, e := range entries {
			contents[i] = e.Content
			scoreStrs[i] = strconv.FormatFloat(scores[i], 'f', 4, 64)
		}
		return types.OK(types.ObjectValue(types.AgentData{
			"matches": types.ArrayValue(contents),
			"scores":  types.ArrayValue(scoreStrs),
			"count":   types.IntValue(int64(len(entries))),
		}))
	})
}

func newEmbedText(provider embedding.Provider) Function {
	return New(types.FunctionSchema{
		Name:        "embed_text",
		Description: "Generates an embedding vector for a text.",
		Category:    "llm",
		Params: []types.ParamSpec{
			{Name: "text", Type: types.ParamString, Required: true},
		},
	}, func(ctx context.Context, params types.AgentData) types.FunctionResult {
		if provider == nil {
			provider = embedding.NewHashProvider(0)
		}
		text, _ := params["text"].AsString()
		vec, err := provider.Embed(ctx, text)
		if err != nil {
			return types.Fail("embedding provider: " + err.Error())
		}
		values := make([]string, len(vec))
		for i, v := range vec {
			values[i] = strconv.FormatFloat(float64(v), 'f', 6, 32)
		}
		return types.OK(types.ObjectValue(types.AgentData{
			"provider":  types.StringValue(provider.Name()),
			"dimension": types.IntValue(int64(len(vec))),
			"vector":    types.ArrayValue(values),
		}))
	})
}

func memoryTypeNames() []string {
	return []string{
		string(types.MemoryConversation),
		string(types.MemoryFact),
		string(types.MemoryProcedure),
		string(types.MemoryContext),
		string(types.MemoryGeneral),
	}
}
