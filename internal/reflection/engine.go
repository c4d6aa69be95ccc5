package reflection

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/metrics"
	"github.com/cot-reflect/backend/internal/provider"
	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/logger"
)

type Stage string

const (
	StageInitialResponse Stage = "initial_response"
	StageThinking        Stage = "thinking"
	StageReflection      Stage = "reflection"
	StageOutput          Stage = "output"
	StageFallback        Stage = "fallback"
)

type Request struct {
	SystemPrompt    string  `json:"system_prompt"`
	CoTPrompt       string  `json:"cot_prompt"`
	Question        string  `json:"question"`
	DocumentContent string  `json:"document_content,omitempty"`
	Model           string  `json:"model"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p"`
}

// StageError records a provider failure whose message was carried forward
// as the stage's text.
type StageError struct {
	Stage Stage
	Err   *apperr.ProviderError
}

type Result struct {
	// Thinking is always wrapped in <thinking> tags.
	Thinking     string
	Reflection   string
	Output       string
	UsedFallback bool
	StageErrors  []StageError
}

type Config struct {
	// AbortOnError stops the run at the first failing stage instead of
	// passing the error text on to the next stage.
	AbortOnError bool
	SystemPrompt string
	CoTPrompt    string
}

type Engine struct {
	invoker provider.Invoker
	cfg     Config
}

func NewEngine(invoker provider.Invoker, cfg Config) *Engine {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.CoTPrompt == "" {
		cfg.CoTPrompt = DefaultCoTPrompt
	}
	return &Engine{invoker: invoker, cfg: cfg}
}

type RunOption func(*runOptions)

type runOptions struct {
	mu       sync.Mutex
	observer func(Stage, string)
}

// WithObserver reports each stage's text as soon as it is known. Calls are
// serialized, so the observer need not be goroutine-safe.
func WithObserver(fn func(Stage, string)) RunOption {
	return func(o *runOptions) {
		o.observer = fn
	}
}

func newRunOptions(opts []RunOption) *runOptions {
	ro := &runOptions{}
	for _, opt := range opts {
		opt(ro)
	}
	return ro
}

func (o *runOptions) notify(stage Stage, text string) {
	if o.observer == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observer(stage, text)
}

// prepare fills default prompts and checks the request before any model is
// called.
func (e *Engine) prepare(req Request) (Request, error) {
	if strings.TrimSpace(req.Question) == "" {
		return req, apperr.Invalid("question", "must not be empty")
	}
	if strings.TrimSpace(req.Model) == "" {
		return req, apperr.Invalid("model", "must not be empty")
	}
	if strings.TrimSpace(req.SystemPrompt) == "" {
		req.SystemPrompt = e.cfg.SystemPrompt
	}
	if strings.TrimSpace(req.CoTPrompt) == "" {
		req.CoTPrompt = e.cfg.CoTPrompt
	}
	if _, err := e.invoker.Describe(req.Model); err != nil {
		return req, err
	}
	return req, nil
}

// Run drives thinking, reflection and output in order. A provider failure
// becomes the text of the failing stage and the run goes on, unless the
// engine is configured to abort, in which case the partial result is
// returned along with the error. Output is never empty.
func (e *Engine) Run(ctx context.Context, req Request, opts ...RunOption) (*Result, error) {
	req, err := e.prepare(req)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, req, newRunOptions(opts))
}

func (e *Engine) run(ctx context.Context, req Request, ro *runOptions) (*Result, error) {
	res := &Result{}

	raw, err := e.stage(ctx, StageThinking, req, ThinkingPrompt(req.SystemPrompt, req.CoTPrompt, req.Question, req.DocumentContent), res, ro)
	res.Thinking = WrapThinking(raw)
	if err != nil {
		return partial(res, err)
	}

	res.Reflection, err = e.stage(ctx, StageReflection, req, ReflectionPrompt(req.SystemPrompt, raw), res, ro)
	if err != nil {
		return partial(res, err)
	}

	res.Output, err = e.stage(ctx, StageOutput, req, FinalPrompt(req.SystemPrompt, req.Question, raw, res.Reflection), res, ro)
	if err != nil {
		return partial(res, err)
	}

	if strings.TrimSpace(res.Output) == "" {
		res.UsedFallback = true
		metrics.FallbackTotal.Inc()
		logger.Info("Output stage was empty, requesting fallback answer", logger.Model(req.Model))

		res.Output, err = e.stage(ctx, StageFallback, req, FallbackPrompt(req.Question, raw, res.Reflection), res, ro)
		if strings.TrimSpace(res.Output) == "" {
			res.Output = NoFinalOutput
		}
		if err != nil {
			return partial(res, err)
		}
	}

	return res, nil
}

// partial keeps the stages completed so far only for provider failures;
// anything else means no result at all.
func partial(res *Result, err error) (*Result, error) {
	if _, ok := apperr.AsProvider(err); ok {
		return res, err
	}
	return nil, err
}

func (e *Engine) stage(ctx context.Context, stage Stage, req Request, prompt string, res *Result, ro *runOptions) (string, error) {
	text, err := e.invoke(ctx, stage, req, prompt)
	if err != nil {
		perr, ok := apperr.AsProvider(err)
		if !ok {
			return "", err
		}
		res.StageErrors = append(res.StageErrors, StageError{Stage: stage, Err: perr})
		metrics.StageErrors.WithLabelValues(string(stage)).Inc()
		text = perr.Error()

		if e.cfg.AbortOnError {
			ro.notify(stage, text)
			return text, perr
		}
	}

	ro.notify(stage, text)
	return text, nil
}

func (e *Engine) invoke(ctx context.Context, stage Stage, req Request, prompt string) (string, error) {
	start := time.Now()
	text, err := e.invoker.Invoke(ctx, req.Model, prompt, req.Temperature, req.TopP)
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	logger.Debug("Stage completed",
		logger.Stage(stage),
		logger.Model(req.Model),
		zap.Int("response_length", len(text)),
		zap.Bool("failed", err != nil),
	)

	return text, err
}
