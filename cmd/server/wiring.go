package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/intakeflow/internal/compose"
	"github.com/ashureev/intakeflow/internal/config"
	"github.com/ashureev/intakeflow/internal/engine"
	"github.com/ashureev/intakeflow/internal/extract"
	"github.com/ashureev/intakeflow/internal/flow"
	"github.com/ashureev/intakeflow/internal/inference"
	"github.com/ashureev/intakeflow/internal/limiter"
	"github.com/ashureev/intakeflow/internal/metrics"
	"github.com/ashureev/intakeflow/internal/resilience"
)

// newInferenceClient picks the model backend named by the configuration.
func newInferenceClient(ctx context.Context, cfg *config.Config) (inference.Client, string, error) {
	switch provider := cfg.ResolvedProvider(); provider {
	case config.ProviderGemini:
		c, err := inference.NewGeminiClient(ctx, cfg.Inference.GeminiAPIKey, cfg.Inference.GeminiModel)
		if err != nil {
			return nil, "", err
		}
		return c, c.Name(), nil
	case config.ProviderOpenAI:
		c, err := inference.NewOpenAIClient(cfg.Inference.OpenAIAPIKey, cfg.Inference.OpenAIBaseURL, cfg.Inference.OpenAIModel)
		if err != nil {
			return nil, "", err
		}
		return c, c.Name(), nil
	case config.ProviderOffline:
		return inference.Offline{}, "offline", nil
	default:
		return nil, "", fmt.Errorf("unknown inference provider %q", provider)
	}
}

// newProcessor wires the turn engine: inference behind the limiter and the
// retry policy, extraction, composition and the phase table.
func newProcessor(ctx context.Context, cfg *config.Config, m *metrics.Metrics, persister engine.Persister, logger *slog.Logger) (*engine.Processor, error) {
	registry := flow.Default()
	if cfg.PhasesFile != "" {
		loaded, err := flow.LoadFile(cfg.PhasesFile)
		if err != nil {
			return nil, fmt.Errorf("load phases: %w", err)
		}
		registry = loaded
	}

	client, name, err := newInferenceClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create inference client: %w", err)
	}
	logger.Info("Inference backend ready", "backend", name)

	lim := limiter.New(cfg.Limits.GlobalConcurrency, cfg.Limits.PerConversation, limiter.WithObserver(m.SetLimiter))
	guarded := inference.NewGuarded(client, lim,
		inference.WithPolicy(resilience.Policy{
			MaxAttempts:    cfg.Retry.InferenceMaxAttempts,
			Backoff:        resilience.Exponential(cfg.Retry.InferenceBaseDelay, cfg.Retry.InferenceMaxDelay, cfg.Retry.InferenceJitter),
			AttemptTimeout: cfg.Retry.InferenceAttemptTimeout,
		}),
		inference.WithMetrics(m),
		inference.WithLogger(logger),
	)

	opts := []engine.Option{engine.WithMetrics(m), engine.WithLogger(logger)}
	if persister != nil {
		opts = append(opts, engine.WithPersister(persister))
	}
	return engine.NewProcessor(registry, extract.New(guarded, logger), compose.New(guarded, logger), opts...), nil
}
