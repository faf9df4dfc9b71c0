package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/crmindex/pkg/types"
)

// DefaultTimeout bounds every provider call.
const DefaultTimeout = 30 * time.Second

// guard applies the shared call policy to a provider: input validation,
// client-side rate limiting, a circuit breaker and a hard per-call timeout.
// Every error it returns is either types.ErrInvalidInput or a
// *types.ProviderError.
type guard struct {
	provider string
	timeout  time.Duration
	limiter  *rate.Limiter
	breaker  *CircuitBreaker
}

// newGuard builds a guard. requestsPerSecond <= 0 disables rate limiting.
func newGuard(provider string, timeout time.Duration, requestsPerSecond float64, burst int) *guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g := &guard{
		provider: provider,
		timeout:  timeout,
		breaker:  NewCircuitBreaker(provider + "-embeddings"),
	}
	if requestsPerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return g
}

func (g *guard) embed(ctx context.Context, text string, call func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text to embed is empty", types.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, g.wrap(fmt.Errorf("rate limiter: %w", err))
		}
	}

	result, err := g.breaker.Execute(ctx, func() (interface{}, error) {
		return call(ctx)
	})
	if err != nil {
		return nil, g.wrap(err)
	}

	vec, _ := result.([]float32)
	if len(vec) == 0 {
		return nil, &types.ProviderError{Provider: g.provider, Message: "empty embedding returned"}
	}
	return vec, nil
}

// wrap converts any failure into a *types.ProviderError, keeping one that is
// already typed.
func (g *guard) wrap(err error) error {
	var pe *types.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	msg := err.Error()
	switch {
	case errors.Is(err, ErrCircuitOpen):
		msg = "circuit breaker open"
	case errors.Is(err, context.DeadlineExceeded):
		msg = fmt.Sprintf("request timed out after %s", g.timeout)
	}
	return &types.ProviderError{Provider: g.provider, Message: msg, Err: err}
}

// Metrics exposes the breaker metrics for status reporting.
func (g *guard) Metrics() CircuitBreakerMetrics {
	return g.breaker.Metrics()
}

// CircuitState exposes the breaker state for status reporting.
func (g *guard) CircuitState() string {
	return g.breaker.State()
}
