package inference

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/intakeflow/internal/limiter"
	"github.com/ashureev/intakeflow/internal/metrics"
	"github.com/ashureev/intakeflow/internal/resilience"
)

// Guarded wraps a Client with the concurrency limiter and the retry policy.
// Every attempt holds one limiter slot; the slot is released during backoff.
type Guarded struct {
	client  Client
	limiter *limiter.Limiter
	policy  resilience.Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// GuardedOption configures a Guarded client.
type GuardedOption func(*Guarded)

// WithPolicy overrides the retry policy. A nil Retryable predicate is
// replaced by IsRateLimited.
func WithPolicy(p resilience.Policy) GuardedOption {
	return func(g *Guarded) {
		if p.Retryable == nil {
			p.Retryable = IsRateLimited
		}
		g.policy = p
	}
}

// WithMetrics records attempts and outcomes.
func WithMetrics(m *metrics.Metrics) GuardedOption {
	return func(g *Guarded) {
		g.metrics = m
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) GuardedOption {
	return func(g *Guarded) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGuarded creates a guarded client. A nil limiter gets a default one.
func NewGuarded(client Client, lim *limiter.Limiter, opts ...GuardedOption) *Guarded {
	if client == nil {
		client = Offline{}
	}
	if lim == nil {
		lim = limiter.New(limiter.DefaultGlobal, limiter.DefaultPerConversation)
	}
	policy := resilience.DefaultPolicy(IsRateLimited)
	policy.AttemptTimeout = 20 * time.Second

	g := &Guarded{
		client:  client,
		limiter: lim,
		policy:  policy,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs the request under the limiter with retries.
func (g *Guarded) Generate(ctx context.Context, req Request) (map[string]any, error) {
	p := g.policy
	timeout := p.AttemptTimeout
	// The deadline is applied after a slot is granted so queueing does not eat it.
	p.AttemptTimeout = 0
	userRetry := p.OnRetry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		g.metrics.IncRetry(req.Operation)
		g.logger.Warn("inference attempt failed, retrying",
			"operation", req.Operation,
			"session_id", req.ConversationID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if userRetry != nil {
			userRetry(attempt, err, delay)
		}
	}

	out, err := resilience.Do(ctx, p, func(ctx context.Context) (map[string]any, error) {
		release, err := g.limiter.Acquire(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		defer release()

		actx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		res, err := g.client.Generate(actx, req)
		g.metrics.ObserveAttempt(req.Operation, time.Since(start))
		return res, err
	})

	g.metrics.ObserveInference(req.Operation, outcome(err))
	return out, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, resilience.ErrExhausted):
		return "exhausted"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}
