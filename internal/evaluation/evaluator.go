package evaluation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/metrics"
	"github.com/cot-reflect/backend/internal/provider"
	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/logger"
)

type SnapshotReader interface {
	Get(ctx context.Context, id int64) (*models.Snapshot, error)
}

type Store interface {
	CreateEvaluation(ctx context.Context, eval *models.Evaluation) (int64, error)
	GetEvaluation(ctx context.Context, id int64) (*models.Evaluation, error)
	ListEvaluationsForSnapshot(ctx context.Context, snapshotID int64) ([]models.Evaluation, error)
}

type Request struct {
	Snapshot1ID    int64     `json:"snapshot1_id"`
	Snapshot2ID    int64     `json:"snapshot2_id"`
	Aspects        []Aspect  `json:"aspects"`
	JudgeModel     string    `json:"judge_model"`
	Metrics        []string  `json:"metrics"`
	CustomCriteria string    `json:"custom_criteria"`
	Temperature    *float64  `json:"temperature,omitempty"`
	TopP           *float64  `json:"top_p,omitempty"`
	Labels         [2]string `json:"labels"`
	Persist        *bool     `json:"persist,omitempty"`
}

type Result struct {
	EvaluationID int64                     `json:"evaluation_id,omitempty"`
	JudgeModel   string                    `json:"judge_model"`
	Labels       [2]string                 `json:"labels"`
	Aspects      []Aspect                  `json:"aspects"`
	Metrics      []string                  `json:"metrics"`
	Verdict      string                    `json:"verdict"`
	Scores       map[string]map[string]int `json:"scores"`
	Duration     time.Duration             `json:"duration_ns"`
}

type Config struct {
	JudgeModel  string
	Temperature float64
	TopP        float64
	Persist     bool
}

type Evaluator struct {
	snapshots SnapshotReader
	invoker   provider.Invoker
	store     Store
	cfg       Config
}

func NewEvaluator(snapshots SnapshotReader, invoker provider.Invoker, store Store, cfg Config) *Evaluator {
	return &Evaluator{
		snapshots: snapshots,
		invoker:   invoker,
		store:     store,
		cfg:       cfg,
	}
}

// Evaluate asks the judge model to compare two snapshots. A judge failure is
// returned as an error; missing or malformed scores are not.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	req, err := e.normalize(req)
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	var snaps [2]*models.Snapshot
	for i, id := range []int64{req.Snapshot1ID, req.Snapshot2ID} {
		snaps[i], err = e.snapshots.Get(ctx, id)
		if err != nil {
			metrics.EvaluationsTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
	}

	allMetrics := mergeMetrics(req.Metrics)
	prompt := BuildPrompt(
		req.Labels,
		[2]string{BuildContent(snaps[0], req.Aspects), BuildContent(snaps[1], req.Aspects)},
		allMetrics,
		req.CustomCriteria,
	)

	log := logger.With(
		zap.Int64("snapshot1_id", req.Snapshot1ID),
		zap.Int64("snapshot2_id", req.Snapshot2ID),
		logger.Model(req.JudgeModel),
	)
	log.Info("Evaluating snapshots", zap.Int("prompt_length", len(prompt)))

	verdict, err := e.invoker.Invoke(ctx, req.JudgeModel, prompt, *req.Temperature, *req.TopP)
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		log.Warn("Judge call failed", zap.Error(err))
		return nil, err
	}

	scores := ParseLabeledScores(verdict, req.Labels, allMetrics)
	recordScores(scores, allMetrics)

	result := &Result{
		JudgeModel: req.JudgeModel,
		Labels:     req.Labels,
		Aspects:    req.Aspects,
		Metrics:    allMetrics,
		Verdict:    verdict,
		Scores:     scores,
	}

	if *req.Persist {
		id, err := e.store.CreateEvaluation(ctx, &models.Evaluation{
			Snapshot1ID:    req.Snapshot1ID,
			Snapshot2ID:    req.Snapshot2ID,
			JudgeModel:     req.JudgeModel,
			Aspects:        aspectNames(req.Aspects),
			Metrics:        allMetrics,
			CustomCriteria: req.CustomCriteria,
			Labels:         req.Labels[:],
			Verdict:        verdict,
			Scores:         scores,
		})
		if err != nil {
			metrics.EvaluationsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to save evaluation: %w", err)
		}
		result.EvaluationID = id
	}

	result.Duration = time.Since(start)
	metrics.EvaluationsTotal.WithLabelValues("success").Inc()
	log.Info("Evaluation completed",
		logger.EvaluationID(result.EvaluationID),
		zap.Int("verdict_length", len(verdict)),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

func (e *Evaluator) Get(ctx context.Context, id int64) (*models.Evaluation, error) {
	return e.store.GetEvaluation(ctx, id)
}

func (e *Evaluator) ListForSnapshot(ctx context.Context, snapshotID int64) ([]models.Evaluation, error) {
	return e.store.ListEvaluationsForSnapshot(ctx, snapshotID)
}

// normalize applies configured defaults and rejects malformed requests
// before anything is read or invoked.
func (e *Evaluator) normalize(req Request) (Request, error) {
	if req.JudgeModel = strings.TrimSpace(req.JudgeModel); req.JudgeModel == "" {
		req.JudgeModel = e.cfg.JudgeModel
	}
	if req.JudgeModel == "" {
		return req, apperr.Invalid("judge_model", "no judge model given and none configured")
	}
	if _, err := e.invoker.Describe(req.JudgeModel); err != nil {
		return req, err
	}

	if len(req.Aspects) == 0 {
		req.Aspects = append([]Aspect(nil), AllAspects...)
	}
	seen := make(map[Aspect]bool, len(req.Aspects))
	aspects := req.Aspects[:0:0]
	for _, a := range req.Aspects {
		parsed, err := ParseAspect(string(a))
		if err != nil {
			return req, err
		}
		if !seen[parsed] {
			seen[parsed] = true
			aspects = append(aspects, parsed)
		}
	}
	req.Aspects = aspects

	for i := range req.Labels {
		req.Labels[i] = strings.TrimSpace(req.Labels[i])
		if req.Labels[i] == "" {
			req.Labels[i] = DefaultLabels[i]
		}
	}
	if strings.EqualFold(req.Labels[0], req.Labels[1]) {
		return req, apperr.Invalid("labels", "both responses are labeled %q", req.Labels[0])
	}

	if req.Temperature == nil {
		t := e.cfg.Temperature
		req.Temperature = &t
	}
	if req.TopP == nil {
		p := e.cfg.TopP
		req.TopP = &p
	}
	if req.Persist == nil {
		persist := e.cfg.Persist && e.store != nil
		req.Persist = &persist
	}
	if *req.Persist && e.store == nil {
		return req, apperr.Invalid("persist", "no evaluation store configured")
	}

	return req, nil
}

// mergeMetrics puts the standard metrics first and appends custom ones,
// dropping blanks and case-insensitive duplicates.
func mergeMetrics(custom []string) []string {
	out := append([]string(nil), StandardMetrics...)
	seen := make(map[string]bool, len(out)+len(custom))
	for _, m := range out {
		seen[strings.ToLower(m)] = true
	}
	for _, m := range custom {
		m = strings.TrimSpace(m)
		if m == "" || seen[strings.ToLower(m)] {
			continue
		}
		seen[strings.ToLower(m)] = true
		out = append(out, m)
	}
	return out
}

func aspectNames(aspects []Aspect) []string {
	names := make([]string, len(aspects))
	for i, a := range aspects {
		names[i] = string(a)
	}
	return names
}

// recordScores folds custom metric names into one "custom" label to keep
// series cardinality bounded.
func recordScores(scores map[string]map[string]int, allMetrics []string) {
	for _, perLabel := range scores {
		for i, m := range allMetrics {
			label := m
			if i >= len(StandardMetrics) {
				label = "custom"
			}
			if v, ok := perLabel[m]; ok {
				metrics.EvaluationScore.WithLabelValues(label).Observe(float64(v))
			} else {
				metrics.ScoreParseMisses.WithLabelValues(label).Inc()
			}
		}
	}
}
