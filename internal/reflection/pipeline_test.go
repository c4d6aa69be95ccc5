package reflection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/apperr"
)

func newTestPipeline(stub *stubInvoker, cfg Config, parallel bool) *Pipeline {
	p := NewPipeline(NewEngine(stub, cfg), parallel)
	p.newRunID = func() string { return "run-1" }
	return p
}

func TestPipeline_Process(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			stub := &stubInvoker{respond: byStage("<thinking>count up</thinking>", "fine", "4", "", "Four.")}
			p := newTestPipeline(stub, Config{}, parallel)

			out, err := p.Process(context.Background(), baseRequest())
			require.NoError(t, err)

			assert.Equal(t, "run-1", out.RunID)
			assert.Equal(t, "Four.", out.InitialResponse)
			assert.Equal(t, "<thinking>count up", out.Thinking)
			assert.Equal(t, "<thinking><thinking>count up</thinking></thinking>", out.RawThinking)
			assert.Equal(t, "fine", out.Reflection)
			assert.Equal(t, "4", out.FinalOutput)
			assert.Len(t, stub.calls(), 4)
		})
	}
}

func TestPipeline_Placeholders(t *testing.T) {
	stub := &stubInvoker{respond: byStage(" ", "", "", "", "")}
	out, err := newTestPipeline(stub, Config{}, false).Process(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Equal(t, NoInitialResponse, out.InitialResponse)
	assert.Equal(t, NoThinking, out.Thinking)
	assert.Equal(t, NoReflection, out.Reflection)
	assert.Equal(t, NoFinalOutput, out.FinalOutput)
	assert.True(t, out.UsedFallback)
}

func TestPipeline_ErrorAsDataEndToEnd(t *testing.T) {
	const msg = "Error with stub-model: timeout"
	stub := &stubInvoker{respond: func(string) (string, error) {
		return "", &apperr.ProviderError{Model: "stub-model", Err: errors.New("timeout")}
	}}

	out, err := newTestPipeline(stub, Config{}, true).Process(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Equal(t, msg, out.Thinking)
	assert.Equal(t, msg, out.Reflection)
	assert.Equal(t, msg, out.FinalOutput)
	assert.Equal(t, msg, out.InitialResponse)
	assert.Len(t, out.StageErrors, 3)
}

func TestPipeline_AbortOnErrorReturnsError(t *testing.T) {
	stub := &stubInvoker{respond: func(prompt string) (string, error) {
		if strings.HasSuffix(prompt, "How can the reasoning be improved?") {
			return "", &apperr.ProviderError{Model: "stub-model", Err: errors.New("rate limited")}
		}
		return "ok", nil
	}}

	out, err := newTestPipeline(stub, Config{AbortOnError: true}, false).Process(context.Background(), baseRequest())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, "Error with stub-model: rate limited", err.Error())
}

func TestPipeline_RejectsBeforeCallingModels(t *testing.T) {
	stub := &stubInvoker{respond: byStage("t", "r", "o", "", "b")}
	req := baseRequest()
	req.Question = ""

	_, err := newTestPipeline(stub, Config{}, true).Process(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Empty(t, stub.calls())
}

func TestPipeline_ObserverSeesEveryStage(t *testing.T) {
	stub := &stubInvoker{respond: byStage("t", "r", "o", "", "b")}

	var (
		mu   sync.Mutex
		seen = map[Stage]string{}
	)
	_, err := newTestPipeline(stub, Config{}, true).Process(context.Background(), baseRequest(),
		WithObserver(func(s Stage, text string) {
			mu.Lock()
			defer mu.Unlock()
			seen[s] = text
		}))
	require.NoError(t, err)

	want := map[Stage]string{
		StageInitialResponse: "b",
		StageThinking:        "t",
		StageReflection:      "r",
		StageOutput:          "o",
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("observed stages mismatch (-want +got):\n%s", diff)
	}
}

func TestOutcome_SnapshotInput(t *testing.T) {
	out := &Outcome{
		Question:        "Is this about cooking?",
		SystemPrompt:    "sys",
		CoTPrompt:       "cot",
		Model:           "stub-model",
		InitialResponse: "No.",
		Thinking:        "it is a lease",
		Reflection:      "confident",
		FinalOutput:     "No, it is a lease.",
	}

	got := out.SnapshotInput("lease check", "contract,lease")
	want := models.SnapshotInput{
		Name:            "lease check",
		UserPrompt:      "Is this about cooking?",
		SystemPrompt:    "sys",
		ModelName:       "stub-model",
		CoTPrompt:       "cot",
		InitialResponse: "No.",
		Thinking:        "it is a lease",
		Reflection:      "confident",
		FinalResponse:   "No, it is a lease.",
		Tags:            "contract,lease",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SnapshotInput mismatch (-want +got):\n%s", diff)
	}
}
