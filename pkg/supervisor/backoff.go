package supervisor

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig defines the delay before reconnect attempt N. A zero InitialDelay reconnects
// immediately.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.Jitter {
		delay = delay * (0.5 + rand.Float64())
	}
	return clampDelay(delay, cfg.MaxDelay)
}

// clampDelay caps delay at maxDelay (when set) and at the largest Duration.
func clampDelay(delay float64, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && delay > float64(maxDelay) {
		return maxDelay
	}
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// sleepContext waits for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
