package reflection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cot-reflect/backend/internal/provider"
	"github.com/cot-reflect/backend/pkg/apperr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubInvoker answers every known model with respond(prompt).
type stubInvoker struct {
	respond func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (s *stubInvoker) Invoke(ctx context.Context, model, prompt string, temperature, topP float64) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	return s.respond(prompt)
}

func (s *stubInvoker) Describe(name string) (provider.Descriptor, error) {
	if name != "stub-model" {
		return provider.Descriptor{}, &provider.UnknownModelError{Name: name}
	}
	return provider.Descriptor{Name: name, Kind: provider.KindOpenAI, ModelID: "stub"}, nil
}

func (s *stubInvoker) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// byStage routes a prompt to a canned answer by its trailing instruction.
func byStage(thinking, reflection, output, fallback, baseline string) func(string) (string, error) {
	return func(prompt string) (string, error) {
		switch {
		case strings.HasSuffix(prompt, "Final answer:"):
			return fallback, nil
		case strings.HasSuffix(prompt, "provide an improved final answer:"):
			return output, nil
		case strings.HasSuffix(prompt, "How can the reasoning be improved?"):
			return reflection, nil
		case strings.HasSuffix(prompt, "Thinking:"):
			return thinking, nil
		case strings.HasSuffix(prompt, "without any explanation or reasoning."):
			return baseline, nil
		}
		return "", errors.New("unexpected prompt")
	}
}

func baseRequest() Request {
	return Request{
		SystemPrompt: "You are terse.",
		CoTPrompt:    "Think in steps.",
		Question:     "What is 2+2?",
		Model:        "stub-model",
		Temperature:  0.7,
		TopP:         0.9,
	}
}

func TestEngine_RunsStagesInOrder(t *testing.T) {
	stub := &stubInvoker{respond: byStage("add two and two", "the arithmetic holds", "4", "unused", "")}
	engine := NewEngine(stub, Config{})

	var seen []Stage
	res, err := engine.Run(context.Background(), baseRequest(), WithObserver(func(s Stage, _ string) {
		seen = append(seen, s)
	}))
	require.NoError(t, err)

	assert.Equal(t, "<thinking>add two and two</thinking>", res.Thinking)
	assert.Equal(t, "the arithmetic holds", res.Reflection)
	assert.Equal(t, "4", res.Output)
	assert.False(t, res.UsedFallback)
	assert.Empty(t, res.StageErrors)
	assert.Equal(t, []Stage{StageThinking, StageReflection, StageOutput}, seen)

	prompts := stub.calls()
	require.Len(t, prompts, 3)
	assert.Equal(t, "You are terse.\n\nThink in steps.\n\nQuestion: What is 2+2?\n\nThinking:", prompts[0])
	assert.Equal(t, ReflectionPrompt("You are terse.", "add two and two"), prompts[1])
	assert.Equal(t, FinalPrompt("You are terse.", "What is 2+2?", "add two and two", "the arithmetic holds"), prompts[2])
}

func TestEngine_DocumentBlockPrecedesCoTPrompt(t *testing.T) {
	stub := &stubInvoker{respond: byStage("t", "r", "o", "", "")}
	req := baseRequest()
	req.DocumentContent = "The lease ends in May."

	_, err := NewEngine(stub, Config{}).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t,
		"You are terse.\n\nDocument Content:\nThe lease ends in May.\n\nThink in steps.\n\nQuestion: What is 2+2?\n\nThinking:",
		stub.calls()[0])
}

func TestEngine_FallbackWhenOutputBlank(t *testing.T) {
	stub := &stubInvoker{respond: byStage("t", "r", "   ", "fallback answer", "")}

	var seen []Stage
	res, err := NewEngine(stub, Config{}).Run(context.Background(), baseRequest(), WithObserver(func(s Stage, _ string) {
		seen = append(seen, s)
	}))
	require.NoError(t, err)

	assert.True(t, res.UsedFallback)
	assert.Equal(t, "fallback answer", res.Output)
	assert.Equal(t, []Stage{StageThinking, StageReflection, StageOutput, StageFallback}, seen)

	prompts := stub.calls()
	require.Len(t, prompts, 4)
	assert.Equal(t, FallbackPrompt("What is 2+2?", "t", "r"), prompts[3])
	assert.Contains(t, prompts[3], `to the question: "What is 2+2?"`)
}

func TestEngine_OutputNeverEmpty(t *testing.T) {
	stub := &stubInvoker{respond: byStage("t", "r", "", "", "")}

	res, err := NewEngine(stub, Config{}).Run(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, NoFinalOutput, res.Output)
}

func TestEngine_ErrorTextFlowsForward(t *testing.T) {
	stub := &stubInvoker{respond: func(string) (string, error) {
		return "", &apperr.ProviderError{Model: "stub-model", Err: errors.New("timeout")}
	}}

	res, err := NewEngine(stub, Config{}).Run(context.Background(), baseRequest())
	require.NoError(t, err)

	const msg = "Error with stub-model: timeout"
	assert.Equal(t, WrapThinking(msg), res.Thinking)
	assert.Equal(t, msg, res.Reflection)
	assert.Equal(t, msg, res.Output)
	assert.False(t, res.UsedFallback)
	require.Len(t, res.StageErrors, 3)
	assert.Equal(t, StageOutput, res.StageErrors[2].Stage)

	prompts := stub.calls()
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[1], "Initial thinking: "+msg)
}

func TestEngine_AbortOnError(t *testing.T) {
	stub := &stubInvoker{respond: func(string) (string, error) {
		return "", &apperr.ProviderError{Model: "stub-model", Err: errors.New("unauthorized")}
	}}

	res, err := NewEngine(stub, Config{AbortOnError: true}).Run(context.Background(), baseRequest())
	require.Error(t, err)

	_, ok := apperr.AsProvider(err)
	assert.True(t, ok)
	require.NotNil(t, res)
	assert.Equal(t, WrapThinking("Error with stub-model: unauthorized"), res.Thinking)
	assert.Empty(t, res.Reflection)
	assert.Empty(t, res.Output)
	assert.Len(t, stub.calls(), 1)
}

func TestEngine_NonProviderErrorReturnsNoResult(t *testing.T) {
	stub := &stubInvoker{respond: func(string) (string, error) {
		return "", apperr.Invalid("temperature", "out of range")
	}}

	res, err := NewEngine(stub, Config{}).Run(context.Background(), baseRequest())
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Nil(t, res)
}

func TestEngine_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty question", func(r *Request) { r.Question = "  " }},
		{"empty model", func(r *Request) { r.Model = "" }},
		{"unknown model", func(r *Request) { r.Model = "gpt-99" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubInvoker{respond: byStage("t", "r", "o", "", "")}
			req := baseRequest()
			tt.mutate(&req)

			res, err := NewEngine(stub, Config{}).Run(context.Background(), req)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.Nil(t, res)
			assert.Empty(t, stub.calls())
		})
	}
}

func TestEngine_UnknownModelError(t *testing.T) {
	stub := &stubInvoker{respond: byStage("t", "r", "o", "", "")}
	req := baseRequest()
	req.Model = "gpt-99"

	_, err := NewEngine(stub, Config{}).Run(context.Background(), req)
	var unknown *provider.UnknownModelError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "gpt-99", unknown.Name)
}

func TestEngine_DefaultPrompts(t *testing.T) {
	stub := &stubInvoker{respond: byStage("t", "r", "o", "", "")}
	req := baseRequest()
	req.SystemPrompt = ""
	req.CoTPrompt = ""

	_, err := NewEngine(stub, Config{}).Run(context.Background(), req)
	require.NoError(t, err)

	first := stub.calls()[0]
	assert.True(t, strings.HasPrefix(first, DefaultSystemPrompt+"\n\n"+DefaultCoTPrompt))
}

func TestEngine_ConfiguredDefaultPrompts(t *testing.T) {
	stub := &stubInvoker{respond: byStage("t", "r", "o", "", "")}
	req := baseRequest()
	req.SystemPrompt = ""

	_, err := NewEngine(stub, Config{SystemPrompt: "You are a legal assistant."}).Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stub.calls()[0], "You are a legal assistant.\n\n"))
}
