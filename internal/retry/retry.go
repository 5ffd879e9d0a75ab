package retry

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Do invokes op up to maxAttempts times, retrying only timeout-class
// failures. Non-timeout errors propagate immediately; on exhaustion the
// last error is returned unchanged. Each attempt is logged.
func Do(ctx context.Context, logger *zap.Logger, name string, maxAttempts int, op func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		logger.Info("Attempting operation",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
		)

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !IsTimeout(lastErr) {
			return lastErr
		}

		logger.Warn("Timeout during operation",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(lastErr),
		)

		if err := ctx.Err(); err != nil {
			return lastErr
		}
	}

	return lastErr
}

// IsTimeout reports whether err is a timeout-class failure: a deadline
// expiry or a navigation/load timeout surfaced by the browser driver.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
