package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mindtune/api/internal/client"
)

func TestRetryPolicy_DelayDoubles(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
}

func TestRetryPolicy_MaxDelayCaps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, Multiplier: 10, MaxDelay: 3 * time.Second}
	assert.Equal(t, 3*time.Second, p.Delay(3))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"empty prompt", errEmptyPrompt, true},
		{"timeout", context.DeadlineExceeded, true},
		{"transport", errors.New("connection reset by peer"), true},
		{"408", &client.APIError{StatusCode: http.StatusRequestTimeout}, true},
		{"429", &client.APIError{StatusCode: http.StatusTooManyRequests}, true},
		{"503", &client.APIError{StatusCode: http.StatusServiceUnavailable}, true},
		{"400", &client.APIError{StatusCode: http.StatusBadRequest}, false},
		{"401", &client.APIError{StatusCode: http.StatusUnauthorized}, false},
		{"malformed", fmt.Errorf("%w: bad json", client.ErrMalformedResponse), false},
		{"cancelled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := retry(context.Background(), fastRetry(), "test", func(context.Context) error {
		calls++
		return &client.APIError{StatusCode: http.StatusBadRequest}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ReturnsLastError(t *testing.T) {
	calls := 0
	err := retry(context.Background(), fastRetry(), "test", func(context.Context) error {
		calls++
		return fmt.Errorf("attempt %d: %w", calls, errEmptyPrompt)
	})
	assert.EqualError(t, err, "attempt 3: "+errEmptyPrompt.Error())
	assert.Equal(t, 3, calls)
}

func TestRetry_HonoursCancellationWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, Multiplier: 2}

	calls := 0
	err := retry(ctx, p, "test", func(context.Context) error {
		calls++
		cancel()
		return errEmptyPrompt
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
