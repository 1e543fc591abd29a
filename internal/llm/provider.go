package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider is the contract for the external generation provider. The
// credential is supplied per call so that the rotation pool, not the
// client, owns key selection.
type Provider interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, apiKey, prompt string) (string, error)

	// Embed generates vector embeddings for the provided inputs.
	Embed(ctx context.Context, apiKey string, input []string) ([][]float32, error)
}

// ErrUnavailable marks provider-side failures (network errors, 5xx)
// that are recoverable by rotating to another credential.
var ErrUnavailable = errors.New("provider unavailable")

// RateLimitError is returned when the provider rejects a call with a
// quota/rate-limit status. RetryAfter is zero when the provider did
// not say when to come back.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited (retry after %s)", e.RetryAfter)
	}
	return "provider rate limited"
}

// IsRateLimit reports whether err is a rate-limit rejection and the
// provider-suggested cool-down, if any.
func IsRateLimit(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
