package pipeline

import (
	"context"
	"errors"
	"log"
	"math"
	"time"
)

var errEmptyPrompt = errors.New("prompt synthesizer returned an empty prompt")

// RetryPolicy bounds retries of an idempotent stage
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is 3 attempts with 1s then 2s between them
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
	}
}

// Delay returns the wait after failed attempt n (1-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return p.BaseDelay
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// retry runs fn until it succeeds, fails permanently or attempts run out.
// The last error is returned.
func retry(ctx context.Context, p RetryPolicy, label string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.attempts(); attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !isTransient(err) || attempt == p.attempts() {
			return err
		}

		delay := p.Delay(attempt)
		log.Printf("[pipeline] %s attempt %d/%d failed: %v (retrying in %s)", label, attempt, p.attempts(), err, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
