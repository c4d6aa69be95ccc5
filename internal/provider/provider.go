package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/metrics"
	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/circuitbreaker"
	"github.com/cot-reflect/backend/pkg/config"
	"github.com/cot-reflect/backend/pkg/logger"
	"github.com/cot-reflect/backend/pkg/retry"
)

// Invoker is what the reflection engine and the evaluator need from the
// model layer.
type Invoker interface {
	Invoke(ctx context.Context, model, prompt string, temperature, topP float64) (string, error)
	Describe(name string) (Descriptor, error)
}

// Backend talks to one family of hosted endpoints. The prompt is sent as a
// single user message.
type Backend interface {
	Generate(ctx context.Context, d Descriptor, prompt string, temperature, topP float64) (string, error)
}

type Options struct {
	Timeout        time.Duration
	StrictSampling bool
	Retry          retry.Config
	Breaker        circuitbreaker.Config
}

func DefaultOptions() Options {
	r := retry.DefaultConfig()
	r.Logger = logger.GetLogger()

	return Options{
		Timeout: 120 * time.Second,
		Retry:   r,
		Breaker: circuitbreaker.Config{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Logger:           logger.GetLogger(),
		},
	}
}

// OptionsFromConfig applies the llm section on top of DefaultOptions.
func OptionsFromConfig(cfg config.LLMConfig) Options {
	opts := DefaultOptions()
	if cfg.TimeoutSec > 0 {
		opts.Timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	if cfg.MaxAttempts > 0 {
		opts.Retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BreakerFailures > 0 {
		opts.Breaker.FailureThreshold = uint32(cfg.BreakerFailures)
	}
	if cfg.BreakerTimeoutSec > 0 {
		opts.Breaker.Timeout = time.Duration(cfg.BreakerTimeoutSec) * time.Second
	}
	opts.StrictSampling = cfg.StrictSampling
	return opts
}

type Provider struct {
	registry *Registry
	backends map[Kind]Backend
	breakers *circuitbreaker.Group
	opts     Options
}

func New(registry *Registry, backends map[Kind]Backend, opts Options) *Provider {
	opts.Retry.ShouldRetry = IsTransient

	breakerCfg := opts.Breaker
	breakerCfg.IsFailure = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	return &Provider{
		registry: registry,
		backends: backends,
		breakers: circuitbreaker.NewGroup(breakerCfg),
		opts:     opts,
	}
}

// NewFromConfig builds the registry and the two backend families from the
// loaded configuration. No network connection is made here.
func NewFromConfig(cfg *config.Config) (*Provider, error) {
	registry, err := RegistryFromConfig(cfg.Models)
	if err != nil {
		return nil, err
	}

	oa := NewOpenAIBackend(nil)
	ga := NewGenAIBackend()

	backends := map[Kind]Backend{
		KindOpenAI:      oa,
		KindAzureAI:     oa,
		KindAzureOpenAI: oa,
		KindVertexAI:    ga,
		KindGemini:      ga,
	}

	logger.Info("Model provider initialized",
		zap.Strings("models", registry.Names()),
		zap.Duration("timeout", time.Duration(cfg.LLM.TimeoutSec)*time.Second),
	)

	return New(registry, backends, OptionsFromConfig(cfg.LLM)), nil
}

func (p *Provider) Models() []Descriptor {
	return p.registry.List()
}

func (p *Provider) Describe(name string) (Descriptor, error) {
	return p.registry.Lookup(name)
}

// BreakerStates reports the circuit state of every model called so far.
// Models never invoked are absent.
func (p *Provider) BreakerStates() map[string]string {
	states := p.breakers.States()
	out := make(map[string]string, len(states))
	for name, s := range states {
		out[name] = s.String()
	}
	return out
}

// Invoke sends prompt to the named model. Transport and backend failures
// come back as *apperr.ProviderError; unknown models and, in strict mode,
// out-of-range sampling values are validation errors. An empty completion
// is returned as "" with no error.
func (p *Provider) Invoke(ctx context.Context, model, prompt string, temperature, topP float64) (string, error) {
	d, err := p.registry.Lookup(model)
	if err != nil {
		return "", err
	}

	temperature, topP, err = p.sampling(d, temperature, topP)
	if err != nil {
		return "", err
	}

	backend, ok := p.backends[d.Kind]
	if !ok {
		return "", &apperr.ProviderError{Model: d.Name, Err: fmt.Errorf("no backend registered for provider %s", d.Kind)}
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()
	var text string

	err = p.breakers.Get(d.Name).Execute(ctx, func() error {
		return retry.Do(ctx, p.opts.Retry, func() error {
			out, err := backend.Generate(ctx, d, prompt, temperature, topP)
			if err != nil {
				return err
			}
			text = out
			return nil
		})
	})

	metrics.ProviderLatency.WithLabelValues(d.Name).Observe(time.Since(start).Seconds())
	metrics.ProviderCalls.WithLabelValues(d.Name, metrics.Status(err)).Inc()

	if err != nil {
		logger.Warn("Model invocation failed",
			logger.Model(d.Name),
			zap.Int("prompt_length", len(prompt)),
			zap.Error(err),
		)
		return "", &apperr.ProviderError{Model: d.Name, Err: err}
	}

	logger.Debug("Model invocation completed",
		logger.Model(d.Name),
		zap.Int("prompt_length", len(prompt)),
		zap.Int("response_length", len(text)),
		zap.Duration("duration", time.Since(start)),
	)

	return text, nil
}

func (p *Provider) sampling(d Descriptor, temperature, topP float64) (float64, float64, error) {
	if p.opts.StrictSampling {
		if !d.TemperatureRange.Contains(temperature) {
			return 0, 0, apperr.Invalid("temperature", "%g outside [%g, %g] for %s",
				temperature, d.TemperatureRange.Min, d.TemperatureRange.Max, d.Name)
		}
		if !d.TopPRange.Contains(topP) {
			return 0, 0, apperr.Invalid("top_p", "%g outside [%g, %g] for %s",
				topP, d.TopPRange.Min, d.TopPRange.Max, d.Name)
		}
		return temperature, topP, nil
	}

	t := d.TemperatureRange.Clamp(temperature)
	tp := d.TopPRange.Clamp(topP)
	if t != temperature || tp != topP {
		logger.Debug("Sampling parameters clamped",
			logger.Model(d.Name),
			zap.Float64("temperature", t),
			zap.Float64("top_p", tp),
		)
	}
	return t, tp, nil
}
