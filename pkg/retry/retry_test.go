package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 5 {
		t.Errorf("expected MaxRetries=5, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 200*time.Millisecond {
		t.Errorf("expected InitialDelay=200ms, got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 5*time.Second {
		t.Errorf("expected MaxDelay=5s, got %v", cfg.MaxDelay)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("dial tcp 127.0.0.1:5432: connection refused")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		callCount++
		return errors.New("i/o timeout")
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", callCount)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		callCount++
		return errors.New("password authentication failed for user \"chorus\"")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if callCount != 1 {
		t.Errorf("expected a single attempt for a permanent error, got %d", callCount)
	}
}

func TestDoWithResult_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 10, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	callCount := 0
	_, err := DoWithResult(ctx, cfg, func() (int, error) {
		callCount++
		cancel()
		return 0, errors.New("connection reset by peer")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("FATAL: the database system is starting up"), true},
		{errors.New("syntax error at or near \"SELEC\""), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
