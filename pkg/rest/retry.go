package rest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig controls retry behavior for transient failures.
type RetryConfig struct {
	MaxRetries        int           // max retry attempts (default: 3)
	InitialBackoff    time.Duration // initial backoff (default: 500ms)
	MaxBackoff        time.Duration // backoff cap (default: 10s)
	BackoffFactor     float64       // multiplier per retry (default: 2.0)
	JitterFraction    float64       // random jitter as fraction of backoff (default: 0.1)
	RetryableStatuses []int         // HTTP codes to retry (default: 429, 500, 502, 503)
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffFactor:     2.0,
		JitterFraction:    0.1,
		RetryableStatuses: []int{429, 500, 502, 503},
	}
}

// NoRetry disables retries entirely.
func NoRetry() RetryConfig {
	return RetryConfig{MaxRetries: 0}
}

func isRetryable(statusCode int, retryableStatuses []int) bool {
	for _, s := range retryableStatuses {
		if statusCode == s {
			return true
		}
	}
	return false
}

// doWithRetry executes makeRequest with backoff for transient
// failures. Non-retryable responses are returned for the caller to
// classify.
func doWithRetry(ctx context.Context, config RetryConfig, makeRequest func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffFactor, float64(attempt-1))
			if backoff > float64(config.MaxBackoff) {
				backoff = float64(config.MaxBackoff)
			}
			jitter := backoff * config.JitterFraction * rand.Float64()

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(backoff + jitter)):
			}
		}

		resp, err := makeRequest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Network-level errors are retryable.
			lastErr = err
			lastStatus = 0
			continue
		}

		if !isRetryable(resp.StatusCode, config.RetryableStatuses) {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		lastErr = nil
		resp.Body.Close()
	}

	if lastErr != nil {
		return nil, fmt.Errorf("rest: request failed after %d attempts: %w", config.MaxRetries+1, lastErr)
	}
	return nil, fmt.Errorf("rest: request failed after %d attempts, last HTTP %d", config.MaxRetries+1, lastStatus)
}
