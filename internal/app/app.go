// Package app wires every component from configuration. Both the API
// server and the CLI start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/api"
	"github.com/cot-reflect/backend/internal/api/handlers"
	"github.com/cot-reflect/backend/internal/cache/redis"
	"github.com/cot-reflect/backend/internal/document"
	"github.com/cot-reflect/backend/internal/evaluation"
	"github.com/cot-reflect/backend/internal/metrics"
	"github.com/cot-reflect/backend/internal/middleware/ratelimit"
	"github.com/cot-reflect/backend/internal/middleware/validation"
	"github.com/cot-reflect/backend/internal/provider"
	"github.com/cot-reflect/backend/internal/reflection"
	"github.com/cot-reflect/backend/internal/snapshot"
	"github.com/cot-reflect/backend/internal/storage/sqlite"
	"github.com/cot-reflect/backend/pkg/config"
	"github.com/cot-reflect/backend/pkg/logger"
)

type App struct {
	Config    *config.Config
	Provider  *provider.Provider
	Invoker   provider.Invoker
	Store     *sqlite.Client
	Cache     *redis.Client
	Snapshots *snapshot.Service
	Pipeline  *reflection.Pipeline
	Evaluator *evaluation.Evaluator
	Extractor *document.Extractor
}

// Options let callers swap the model provider, mainly for tests.
type Options struct {
	Invoker provider.Invoker
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	metrics.Init()

	p, err := provider.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build model provider: %w", err)
	}

	a, err := build(ctx, cfg, p)
	if err != nil {
		return nil, err
	}
	a.Provider = p
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, inv provider.Invoker) (*App, error) {
	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := sqlite.NewClient(cfg.SQLite.Path, cfg.SQLite.Driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	a := &App{Config: cfg, Store: store, Invoker: inv}

	// The service takes an interface; a nil *redis.Client must not reach it.
	var cache snapshot.Cache
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second)
		if err != nil {
			logger.Warn("Snapshot cache disabled", zap.Error(err))
		} else {
			a.Cache = rc
			cache = rc
		}
	}

	a.Snapshots = snapshot.NewService(store, cache)

	engine := reflection.NewEngine(inv, reflection.Config{
		AbortOnError: cfg.Reflection.AbortOnError,
		SystemPrompt: cfg.Reflection.SystemPrompt,
		CoTPrompt:    cfg.Reflection.CoTPrompt,
	})
	a.Pipeline = reflection.NewPipeline(engine, cfg.Reflection.ParallelBaseline)

	a.Evaluator = evaluation.NewEvaluator(a.Snapshots, inv, store, evaluation.Config{
		JudgeModel:  cfg.Evaluation.JudgeModel,
		Temperature: cfg.Evaluation.Temperature,
		TopP:        cfg.Evaluation.TopP,
		Persist:     cfg.Evaluation.Persist,
	})

	a.Extractor = document.NewExtractor(cfg.Validation.MaxDocumentLength)

	return a, nil
}

// NewWithOptions is New with an injected invoker in place of the configured
// provider.
func NewWithOptions(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Invoker == nil {
		return New(ctx, cfg)
	}
	metrics.Init()
	return build(ctx, cfg, opts.Invoker)
}

// APIDeps collects what the HTTP layer needs. The returned limiter must be
// stopped by the caller.
func (a *App) APIDeps() (api.Deps, *ratelimit.RateLimiter) {
	rl := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: a.Config.RateLimit.RequestsPerMinute,
		Logger:            logger.GetLogger(),
	})

	checks := map[string]handlers.Pinger{"sqlite": a.Store}
	if a.Cache != nil {
		checks["redis"] = a.Cache
	}

	var models handlers.ModelLister = staticModels{}
	if ml, ok := a.Invoker.(handlers.ModelLister); ok {
		models = ml
	}

	return api.Deps{
		Runner:    a.Pipeline,
		Snapshots: a.Snapshots,
		Evaluator: a.Evaluator,
		Models:    models,
		Extractor: a.Extractor,
		Checks:    checks,
		Sampling: handlers.Sampling{
			Temperature: a.Config.Reflection.Temperature,
			TopP:        a.Config.Reflection.TopP,
		},
		Validation: validation.Config{
			MaxPromptLength:   a.Config.Validation.MaxPromptLength,
			MaxDocumentLength: a.Config.Validation.MaxDocumentLength,
			Logger:            logger.GetLogger(),
		},
		RateLimiter:    rl,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		RequestLog:     a.Config.Server.RequestLog,
	}, rl
}

type staticModels struct{}

func (staticModels) Models() []provider.Descriptor { return nil }

func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
