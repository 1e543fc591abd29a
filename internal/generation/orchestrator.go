package generation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tutorloop/tutorloop/config"
	"github.com/tutorloop/tutorloop/internal/credentials"
	"github.com/tutorloop/tutorloop/internal/llm"
	"github.com/tutorloop/tutorloop/internal/telemetry"
	"github.com/tutorloop/tutorloop/models"
)

// Origin says how an explanation was produced.
type Origin string

const (
	// OriginModel marks text synthesized by the generation provider.
	OriginModel Origin = "llm"
	// OriginFallback marks the deterministic formatter's degraded output.
	OriginFallback Origin = "fallback"
)

// ErrAllCredentialsExhausted is returned by generateOnce when every
// pool slot was tried without a successful completion.
var ErrAllCredentialsExhausted = errors.New("all credentials exhausted")

// Orchestrator turns a generation request into an explanation: it
// builds the prompt, cycles the credential pool through provider
// calls, and degrades to the deterministic formatter when the provider
// cannot be reached on any credential.
type Orchestrator struct {
	provider llm.Provider
	pool     *credentials.Pool
	cfg      config.RetrievalConfig
	timeout  time.Duration
	logger   *log.Logger
}

func NewOrchestrator(provider llm.Provider, pool *credentials.Pool, cfg config.RetrievalConfig, attemptTimeout time.Duration, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[GEN] ", log.LstdFlags)
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 8 * time.Second
	}
	return &Orchestrator{provider: provider, pool: pool, cfg: cfg, timeout: attemptTimeout, logger: logger}
}

// Generate produces the raw explanation text for the request. The
// returned Origin tells the caller whether the text was synthesized or
// is the labeled fallback view; only a request that cannot even be
// formatted fails.
func (o *Orchestrator) Generate(ctx context.Context, req models.GenerationRequest) (string, Origin, error) {
	prompt := BuildPrompt(req, o.cfg.ContextBudget, o.cfg.HistoryWindow)

	text, err := o.generateOnce(ctx, prompt)
	if err == nil {
		telemetry.GenerationsTotal.WithLabelValues(string(OriginModel)).Inc()
		return text, OriginModel, nil
	}
	if ctx.Err() != nil {
		return "", "", ctx.Err()
	}
	o.logger.Printf("generation degraded to fallback: %v", err)
	telemetry.GenerationsTotal.WithLabelValues(string(OriginFallback)).Inc()
	return FallbackFormat(req.Candidates, o.cfg.FallbackTopN), OriginFallback, nil
}

// generateOnce tries the provider once per remaining credential,
// rotating on rate limits and provider outages.
func (o *Orchestrator) generateOnce(ctx context.Context, prompt string) (string, error) {
	attempts := o.pool.Size()
	if attempts == 0 {
		return "", credentials.ErrNoCredentials
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		cred, err := o.pool.NextSlot(ctx)
		if err != nil {
			return "", err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
		text, err := o.provider.Generate(attemptCtx, cred.Key, prompt)
		cancel()
		if err == nil {
			o.pool.MarkSuccess(ctx, cred.SlotID)
			return text, nil
		}
		lastErr = err
		if retryAfter, ok := llm.IsRateLimit(err); ok {
			telemetry.RateLimitTripsTotal.Inc()
			o.pool.MarkRateLimited(ctx, cred.SlotID, retryAfter)
			continue
		}
		if errors.Is(err, llm.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			// Same recovery as a rate limit: cool the slot down for the
			// default window and move on.
			o.pool.MarkRateLimited(ctx, cred.SlotID, 0)
			continue
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("provider call: %w", err)
	}
	return "", fmt.Errorf("%w: %v", ErrAllCredentialsExhausted, lastErr)
}
