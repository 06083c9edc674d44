package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/architect-cli/architect/internal/domain/service"
)

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	result, err := withRetry(context.Background(), cfg, zap.NewNop(), "test", "model", func() (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %d", result)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestWithRetry_RetriesTransientThenSucceeds(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	result, err := withRetry(context.Background(), cfg, zap.NewNop(), "test", "model", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("503 service unavailable")
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 7 {
		t.Fatalf("expected 7, got %d", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	_, err := withRetry(context.Background(), cfg, zap.NewNop(), "test", "model", func() (int, error) {
		calls++
		return 0, errors.New("connection reset")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// First attempt + MaxRetries retries.
	if calls != cfg.MaxRetries+1 {
		t.Fatalf("expected %d calls, got %d", cfg.MaxRetries+1, calls)
	}
}

func TestWithRetry_AuthErrorNeverRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	_, err := withRetry(context.Background(), cfg, zap.NewNop(), "test", "model", func() (int, error) {
		calls++
		return 0, errors.New("401 unauthorized: invalid api key")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("auth errors should never retry, got %d calls", calls)
	}
	var llmErr *service.LLMError
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected classified *service.LLMError, got %T", err)
	}
	if llmErr.Kind != service.ErrKindAuth {
		t.Fatalf("expected ErrKindAuth, got %v", llmErr.Kind)
	}
}

func TestWithRetry_BadRequestNeverRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	_, err := withRetry(context.Background(), cfg, zap.NewNop(), "test", "model", func() (int, error) {
		calls++
		return 0, errors.New("400 bad request: invalid_request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("bad request errors should never retry, got %d calls", calls)
	}
}

func TestWithRetry_MaxRetriesZeroDisablesRetry(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	_, err := withRetry(context.Background(), cfg, zap.NewNop(), "test", "model", func() (int, error) {
		calls++
		return 0, errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected single call with MaxRetries=0, got %d", calls)
	}
}

func TestWithRetry_ContextCancelledDuringBackoffStopsEarly(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := withRetry(ctx, cfg, zap.NewNop(), "test", "model", func() (int, error) {
		calls++
		return 0, errors.New("rate limit exceeded")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls >= cfg.MaxRetries+1 {
		t.Fatalf("expected early exit before exhausting retries, got %d calls", calls)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig(2)
	if cfg.MaxRetries != 2 {
		t.Fatalf("expected MaxRetries=2, got %d", cfg.MaxRetries)
	}
	if cfg.BaseDelay != 2*time.Second {
		t.Fatalf("expected BaseDelay=2s, got %v", cfg.BaseDelay)
	}
	if cfg.MaxDelay != 60*time.Second {
		t.Fatalf("expected MaxDelay=60s, got %v", cfg.MaxDelay)
	}
}
