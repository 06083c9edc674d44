package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/architect-cli/architect/internal/domain/service"
)

// RetryConfig controls the exponential backoff applied around a single
// provider's call, before the Router falls over to the next provider.
// Matches the transient-only retry contract: auth and malformed-request
// errors are never retried, only rate-limit/unavailable/connection/timeout.
type RetryConfig struct {
	MaxRetries  int           // attempts beyond the first; 0 disables retry
	BaseDelay   time.Duration // initial backoff interval
	MaxDelay    time.Duration // backoff ceiling
}

// DefaultRetryConfig is spec's base-2s/cap-60s schedule.
func DefaultRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{MaxRetries: maxRetries, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second}
}

// withRetry runs op, retrying on transient LLMError classifications with
// exponential backoff up to cfg.MaxRetries additional attempts. op is called
// at least once. providerName/model feed error classification only.
func withRetry[T any](ctx context.Context, cfg RetryConfig, logger *zap.Logger, providerName, model string, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.MaxElapsedTime = 0 // bounded by attempt count below, not wall-clock
	bo.Multiplier = 2.0

	var result T
	attempt := 0
	for {
		var err error
		result, err = op()
		if err == nil {
			return result, nil
		}

		classified := service.ClassifyError(err, providerName, model)
		if !classified.IsRetryable() || attempt >= cfg.MaxRetries {
			return result, classified
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return result, classified
		}

		logger.Warn("retrying transient LLM error",
			zap.String("provider", providerName),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(classified),
		)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}
}
