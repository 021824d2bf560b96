package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "EAGAIN",
			err:      syscall.EAGAIN,
			expected: true,
		},
		{
			name:     "ETIMEDOUT",
			err:      syscall.ETIMEDOUT,
			expected: true,
		},
		{
			name:     "ECONNRESET",
			err:      syscall.ECONNRESET,
			expected: true,
		},
		{
			name:     "EIO",
			err:      syscall.EIO,
			expected: true,
		},
		{
			name:     "ENOENT (not retryable)",
			err:      syscall.ENOENT,
			expected: false,
		},
		{
			name:     "EPERM (not retryable)",
			err:      syscall.EPERM,
			expected: false,
		},
		{
			name:     "timeout in error message",
			err:      errors.New("connection timeout"),
			expected: true,
		},
		{
			name:     "connection reset in message",
			err:      errors.New("connection reset by peer"),
			expected: true,
		},
		{
			name:     "broken pipe in message",
			err:      errors.New("write: broken pipe"),
			expected: true,
		},
		{
			name:     "network unreachable",
			err:      errors.New("network is unreachable"),
			expected: true,
		},
		{
			name:     "generic error (not retryable)",
			err:      errors.New("invalid argument"),
			expected: false,
		},
		{
			name:     "PathError with ETIMEDOUT",
			err:      &os.PathError{Op: "open", Path: "/test", Err: syscall.ETIMEDOUT},
			expected: true,
		},
		{
			name:     "PathError with ENOENT (not retryable)",
			err:      &os.PathError{Op: "open", Path: "/test", Err: syscall.ENOENT},
			expected: false,
		},
		{
			name:     "unexpected EOF",
			err:      io.ErrUnexpectedEOF,
			expected: true,
		},
		{
			name:     "wrapped unexpected EOF",
			err:      fmt.Errorf("read row: %w", io.ErrUnexpectedEOF),
			expected: true,
		},
		{
			name:     "plain EOF (not retryable)",
			err:      io.EOF,
			expected: false,
		},
		{
			name:     "EPIPE",
			err:      syscall.EPIPE,
			expected: true,
		},
		{
			name:     "ECONNREFUSED",
			err:      syscall.ECONNREFUSED,
			expected: true,
		},
		{
			name:     "EHOSTUNREACH",
			err:      syscall.EHOSTUNREACH,
			expected: true,
		},
		{
			name:     "LinkError with EIO",
			err:      &os.LinkError{Op: "rename", Old: "/a", New: "/b", Err: syscall.EIO},
			expected: true,
		},
		{
			name:     "closed network connection",
			err:      errors.New("read tcp 127.0.0.1:5432: use of closed network connection"),
			expected: true,
		},
		{
			name:     "temporary failure in name resolution",
			err:      errors.New("dial tcp: lookup db: Temporary failure in name resolution"),
			expected: true,
		},
		{
			name:     "constraint violation (not retryable)",
			err:      errors.New("FOREIGN KEY constraint failed"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryableError(%v) = %v, expected %v",
					tt.err, result, tt.expected)
			}
		})
	}
}

func TestRetryWithBackoff_ImmediateSuccess(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 10 * time.Millisecond,
		MaxWait:     100 * time.Millisecond,
	}

	result, err := RetryWithBackoff(context.Background(), cfg, func(context.Context) (int, error) {
		attempts++
		return 42, nil
	}, "test operation", nil)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if result != 42 {
		t.Errorf("Expected result 42, got: %d", result)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 10 * time.Millisecond,
		MaxWait:     100 * time.Millisecond,
	}

	result, err := RetryWithBackoff(context.Background(), cfg, func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", syscall.ETIMEDOUT // Retryable error
		}
		return "success", nil
	}, "test operation", nil)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if result != "success" {
		t.Errorf("Expected result 'success', got: %s", result)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetryWithBackoff_FailureAfterMaxRetries(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 10 * time.Millisecond,
		MaxWait:     100 * time.Millisecond,
	}

	result, err := RetryWithBackoff(context.Background(), cfg, func(context.Context) (int, error) {
		attempts++
		return 0, syscall.ETIMEDOUT // Always fail with retryable error
	}, "test operation", nil)

	if err == nil {
		t.Error("Expected error after max retries, got nil")
	}
	if result != 0 {
		t.Errorf("Expected result 0, got: %d", result)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts (max), got: %d", attempts)
	}
}

func TestRetryWithBackoff_NonRetryableError(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 10 * time.Millisecond,
		MaxWait:     100 * time.Millisecond,
	}

	result, err := RetryWithBackoff(context.Background(), cfg, func(context.Context) (int, error) {
		attempts++
		return 0, syscall.ENOENT // Non-retryable error
	}, "test operation", nil)

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if result != 0 {
		t.Errorf("Expected result 0, got: %d", result)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry for non-retryable), got: %d", attempts)
	}
}

func TestRetryWithBackoff_ExponentialBackoff(t *testing.T) {
	attempts := 0
	startTimes := []time.Time{}
	cfg := &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 50 * time.Millisecond,
		MaxWait:     500 * time.Millisecond,
	}

	start := time.Now()

	_, err := RetryWithBackoff(context.Background(), cfg, func(context.Context) (int, error) {
		attempts++
		startTimes = append(startTimes, time.Now())
		if attempts < 3 {
			return 0, syscall.ETIMEDOUT
		}
		return 42, nil
	}, "test operation", nil)

	totalDuration := time.Since(start)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}

	// Check that total duration is approximately: 50ms + 100ms = 150ms
	// Allow some tolerance for test execution overhead
	expectedMin := 150 * time.Millisecond
	expectedMax := 300 * time.Millisecond

	if totalDuration < expectedMin || totalDuration > expectedMax {
		t.Errorf("Expected total duration between %v and %v, got: %v",
			expectedMin, expectedMax, totalDuration)
	}

	// Verify exponential backoff: second wait should be ~2x first wait
	if len(startTimes) >= 2 {
		firstWait := startTimes[1].Sub(startTimes[0])
		t.Logf("First wait: %v", firstWait)
		// Should be approximately 50ms (initial wait)
		if firstWait < 40*time.Millisecond || firstWait > 150*time.Millisecond {
			t.Logf("Warning: First wait time %v not close to expected 50ms", firstWait)
		}
	}
}

func TestRetry_NoReturnValue(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 10 * time.Millisecond,
		MaxWait:     100 * time.Millisecond,
	}

	err := Retry(context.Background(), cfg, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return syscall.ETIMEDOUT
		}
		return nil
	}, "test operation", nil)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got: %d", attempts)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts=3, got: %d", cfg.MaxAttempts)
	}
	if cfg.InitialWait != 100*time.Millisecond {
		t.Errorf("Expected InitialWait=100ms, got: %v", cfg.InitialWait)
	}
	if cfg.MaxWait != 5*time.Second {
		t.Errorf("Expected MaxWait=5s, got: %v", cfg.MaxWait)
	}
}

func TestRetryWithBackoff_CustomPredicate(t *testing.T) {
	errBusy := errors.New("database is locked")
	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 4, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

	_, err := RetryWithBackoff(context.Background(), cfg, func(context.Context) (int, error) {
		attempts++
		return 0, errBusy
	}, "custom", func(err error) bool { return errors.Is(err, errBusy) })

	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("Expected ErrRetriesExhausted, got: %v", err)
	}
	if !errors.Is(err, errBusy) {
		t.Errorf("Expected wrapped cause, got: %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got: %d", attempts)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 5, InitialWait: time.Second, MaxWait: time.Second}

	_, err := RetryWithBackoff(ctx, cfg, func(context.Context) (int, error) {
		attempts++
		cancel()
		return 0, syscall.ETIMEDOUT
	}, "cancelled", nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got: %d", attempts)
	}
}

func TestRetryableRemove_MissingIsNotAnError(t *testing.T) {
	if err := RetryableRemove(filepath.Join(t.TempDir(), "absent"), nil); err != nil {
		t.Errorf("Expected nil for missing file, got: %v", err)
	}
}
