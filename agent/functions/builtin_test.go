package functions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/agent/memory"
	"github.com/KolosalAI/kolosal-agent/types"
)

// fakeInference returns a canned completion.
type fakeInference struct {
	reply string
	err   error
}

func (f *fakeInference) Complete(_ context.Context, prompt string, _ int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply + prompt, nil
}

type fakeParser struct{ text string }

func (f *fakeParser) Parse(context.Context, string) (string, error) { return f.text, nil }

func newBuiltinRegistry(t *testing.T, deps Deps) *Registry {
	t.Helper()
	r := NewRegistry(zap.NewNop())
	for _, fn := range Builtins(deps) {
		r.Register(fn)
	}
	return r
}

func TestEchoReturnsParams(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{})
	res := r.Execute(context.Background(), "echo", types.AgentData{"text": types.StringValue("hi")})
	require.True(t, res.Success, res.ErrorMessage)

	obj, ok := res.Data.AsObject()
	require.True(t, ok)
	text, _ := obj["text"].AsString()
	assert.Equal(t, "hi", text)
}

func TestAddIntegers(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{})
	res := r.Execute(context.Background(), "add", types.AgentData{
		"x": types.IntValue(1),
		"y": types.IntValue(2),
	})
	require.True(t, res.Success, res.ErrorMessage)

	obj, _ := res.Data.AsObject()
	sum, ok := obj["sum"].AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(3), sum)
}

func TestAddMissingRequiredParameter(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{})
	res := r.Execute(context.Background(), "add", types.AgentData{"x": types.IntValue(1)})
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "y")
}

func TestDelayHonorsCancellation(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := r.Execute(ctx, "delay", types.AgentData{"ms": types.IntValue(10_000)})
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "cancelled")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTextAnalyze(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{})
	res := r.Execute(context.Background(), "text_analyze", types.AgentData{
		"text": types.StringValue("Hello world.\nSecond line!"),
	})
	require.True(t, res.Success)

	obj, _ := res.Data.AsObject()
	words, _ := obj["words"].AsInt()
	lines, _ := obj["lines"].AsInt()
	sentences, _ := obj["sentences"].AsInt()
	assert.Equal(t, int64(4), words)
	assert.Equal(t, int64(2), lines)
	assert.Equal(t, int64(2), sentences)
}

func TestTransformOps(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{})
	cases := map[string]string{
		"upper":   "ABC DEF",
		"lower":   "abc def",
		"title":   "Abc Def",
		"reverse": "fed cba",
		"trim":    "abc def",
	}
	for op, want := range cases {
		res := r.Execute(context.Background(), "transform", types.AgentData{
			"text": types.StringValue("abc def"),
			"op":   types.StringValue(op),
		})
		require.True(t, res.Success, op)
		obj, _ := res.Data.AsObject()
		got, _ := obj["text"].AsString()
		assert.Equal(t, want, got, op)
	}
}

func TestTransformRejectsUnknownOp(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{})
	res := r.Execute(context.Background(), "transform", types.AgentData{
		"text": types.StringValue("abc"),
		"op":   types.StringValue("rot13"),
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "op")
}

func TestLLMCall(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{Inference: &fakeInference{reply: "echo: "}})
	res := r.Execute(context.Background(), "llm_call", types.AgentData{
		"prompt": types.StringValue("hi"),
	})
	require.True(t, res.Success, res.ErrorMessage)
	obj, _ := res.Data.AsObject()
	text, _ := obj["text"].AsString()
	assert.Equal(t, "echo: hi", text)
}

func TestLLMCallWithoutBackendFails(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{})
	res := r.Execute(context.Background(), "llm_call", types.AgentData{
		"prompt": types.StringValue("hi"),
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "not configured")
}

func TestLLMCallBackendError(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{Inference: &fakeInference{err: errors.New("down")}})
	res := r.Execute(context.Background(), "llm_call", types.AgentData{
		"prompt": types.StringValue("hi"),
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "down")
}

func TestHTTPGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer srv.Close()

	r := newBuiltinRegistry(t, Deps{})
	res := r.Execute(context.Background(), "http_get", types.AgentData{
		"url": types.StringValue(srv.URL),
	})
	require.True(t, res.Success, res.ErrorMessage)

	obj, _ := res.Data.AsObject()
	status, _ := obj["status"].AsInt()
	body, _ := obj["body"].AsString()
	assert.Equal(t, int64(http.StatusTeapot), status)
	assert.Equal(t, "short and stout", body)
}

func TestParseDocument(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{Parser: &fakeParser{text: "parsed"}})
	res := r.Execute(context.Background(), "parse_document", types.AgentData{
		"path": types.StringValue("/tmp/a.pdf"),
	})
	require.True(t, res.Success)
	obj, _ := res.Data.AsObject()
	text, _ := obj["text"].AsString()
	assert.Equal(t, "parsed", text)
}

func TestRememberAndRecall(t *testing.T) {
	mem := memory.NewManager(memory.Config{}, nil, zap.NewNop())
	r := newBuiltinRegistry(t, Deps{Memory: mem})

	store := r.Execute(context.Background(), "remember", types.AgentData{
		"content": types.StringValue("the capital of France is Paris"),
		"type":    types.StringValue("fact"),
	})
	require.True(t, store.Success, store.ErrorMessage)
	obj, _ := store.Data.AsObject()
	id, _ := obj["id"].AsString()
	assert.NotEmpty(t, id)

	recall := r.Execute(context.Background(), "recall", types.AgentData{
		"query": types.StringValue("capital of France"),
	})
	require.True(t, recall.Success, recall.ErrorMessage)
	obj, _ = recall.Data.AsObject()
	matches, _ := obj["matches"].AsArray()
	require.NotEmpty(t, matches)
	assert.Contains(t, matches[0], "Paris")
}

func TestEmbedText(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{})
	res := r.Execute(context.Background(), "embed_text", types.AgentData{
		"text": types.StringValue("vectors"),
	})
	require.True(t, res.Success)
	obj, _ := res.Data.AsObject()
	dim, _ := obj["dimension"].AsInt()
	vec, _ := obj["vector"].AsArray()
	assert.Equal(t, int(dim), len(vec))
	assert.Positive(t, dim)
}

func TestRegisterBuiltinsReportsUnknownNames(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	err := RegisterBuiltins(r, []string{"echo", "no_such_fn"}, Deps{})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownFunction, types.GetErrorCode(err))
	// The valid name is still registered.
	assert.True(t, r.Has("echo"))
}

func TestBuiltinNamesStable(t *testing.T) {
	names := BuiltinNames()
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, "add")
	assert.Contains(t, names, "llm_call")
	assert.IsNonDecreasing(t, names)
}
