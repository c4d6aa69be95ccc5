package reflection

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cot-reflect/backend/internal/metrics"
	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/logger"
	"github.com/cot-reflect/backend/pkg/utils"
)

// Outcome is everything one full run produces, ready for display or saving.
type Outcome struct {
	RunID           string        `json:"run_id"`
	Question        string        `json:"question"`
	SystemPrompt    string        `json:"system_prompt"`
	CoTPrompt       string        `json:"cot_prompt"`
	Model           string        `json:"model"`
	InitialResponse string        `json:"initial_response"`
	Thinking        string        `json:"thinking"`
	RawThinking     string        `json:"raw_thinking"`
	Reflection      string        `json:"reflection"`
	FinalOutput     string        `json:"final_output"`
	UsedFallback    bool          `json:"used_fallback"`
	StageErrors     []string      `json:"stage_errors,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
}

// SnapshotInput turns the outcome into a record for the snapshot store.
func (o *Outcome) SnapshotInput(name, tags string) models.SnapshotInput {
	return models.SnapshotInput{
		Name:            name,
		UserPrompt:      o.Question,
		SystemPrompt:    o.SystemPrompt,
		ModelName:       o.Model,
		CoTPrompt:       o.CoTPrompt,
		InitialResponse: o.InitialResponse,
		Thinking:        o.Thinking,
		Reflection:      o.Reflection,
		FinalResponse:   o.FinalOutput,
		Tags:            tags,
	}
}

// Pipeline pairs a reflection run with the direct-answer baseline.
type Pipeline struct {
	engine           *Engine
	parallelBaseline bool
	newRunID         func() string
}

func NewPipeline(engine *Engine, parallelBaseline bool) *Pipeline {
	return &Pipeline{
		engine:           engine,
		parallelBaseline: parallelBaseline,
		newRunID:         uuid.NewString,
	}
}

func (p *Pipeline) Process(ctx context.Context, req Request, opts ...RunOption) (*Outcome, error) {
	start := time.Now()

	req, err := p.engine.prepare(req)
	if err != nil {
		metrics.PipelineTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	ro := newRunOptions(opts)
	runID := p.newRunID()
	log := logger.With(logger.RunID(runID), logger.Model(req.Model))

	fields := []zap.Field{zap.Int("question_length", len(req.Question))}
	if req.DocumentContent != "" {
		fields = append(fields,
			zap.Int("document_length", len(req.DocumentContent)),
			zap.String("document_md5", utils.HashString(req.DocumentContent)),
		)
	}
	log.Info("Reflection run started", fields...)

	var (
		result   *Result
		baseline string
	)

	if p.parallelBaseline {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			result, err = p.engine.run(gctx, req, ro)
			return err
		})
		g.Go(func() error {
			var err error
			baseline, err = p.baseline(gctx, req, ro)
			return err
		})
		err = g.Wait()
	} else {
		result, err = p.engine.run(ctx, req, ro)
		if err == nil {
			baseline, err = p.baseline(ctx, req, ro)
		}
	}

	if err != nil {
		metrics.PipelineTotal.WithLabelValues("error").Inc()
		log.Warn("Reflection run aborted", zap.Error(err))
		return nil, err
	}

	raw := ExtractThinking(result.Thinking)
	out := &Outcome{
		RunID:           runID,
		Question:        req.Question,
		SystemPrompt:    req.SystemPrompt,
		CoTPrompt:       req.CoTPrompt,
		Model:           req.Model,
		InitialResponse: placeholder(baseline, NoInitialResponse),
		Thinking:        placeholder(raw, NoThinking),
		RawThinking:     result.Thinking,
		Reflection:      placeholder(result.Reflection, NoReflection),
		FinalOutput:     placeholder(result.Output, NoFinalOutput),
		UsedFallback:    result.UsedFallback,
		Duration:        time.Since(start),
	}
	for _, se := range result.StageErrors {
		out.StageErrors = append(out.StageErrors, string(se.Stage)+": "+se.Err.Error())
	}

	metrics.PipelineTotal.WithLabelValues("success").Inc()
	log.Info("Reflection run completed",
		zap.Duration("duration", out.Duration),
		zap.Bool("used_fallback", out.UsedFallback),
		zap.Int("stage_errors", len(out.StageErrors)),
	)

	return out, nil
}

func (p *Pipeline) baseline(ctx context.Context, req Request, ro *runOptions) (string, error) {
	text, err := p.engine.invoke(ctx, StageInitialResponse, req, InitialResponsePrompt(req.SystemPrompt, req.Question, req.DocumentContent))
	if err != nil {
		perr, ok := apperr.AsProvider(err)
		if !ok || p.engine.cfg.AbortOnError {
			return "", err
		}
		metrics.StageErrors.WithLabelValues(string(StageInitialResponse)).Inc()
		text = perr.Error()
	}
	ro.notify(StageInitialResponse, text)
	return text, nil
}

func placeholder(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
