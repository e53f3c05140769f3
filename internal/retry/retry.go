// Package retry classifies provider-call failures and computes exponential
// backoff. It never performs a call or a wait itself; callers own the attempt
// counter and the sleep between attempts.
package retry

import (
	"fmt"
	"math"
	"net/http"
	"time"
)

// Kind is the class of a provider-call failure.
type Kind string

const (
	KindNetworkError  Kind = "NETWORK_ERROR"
	KindRateLimit     Kind = "RATE_LIMIT"
	KindAPIDown       Kind = "API_DOWN"
	KindInvalidParams Kind = "INVALID_PARAMS"
)

// ProviderError describes a failed provider call. It is raised to the caller,
// unlike shape violations which are reported as data.
type ProviderError struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Provider   string `json:"provider"`
	Err        error  `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindForStatus maps an HTTP status code to a failure kind. A zero status
// means no response was received.
func KindForStatus(status int) Kind {
	switch {
	case status == 0:
		return KindNetworkError
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindAPIDown
	case status == http.StatusRequestTimeout:
		return KindNetworkError
	default:
		return KindInvalidParams
	}
}

// IsRetryable reports whether a failure of kind k with statusCode is worth
// retrying: only network and availability failures without a status or with a
// 5xx status. Rate limits need a caller-chosen cooldown and invalid parameters
// will not succeed on retry.
func IsRetryable(k Kind, statusCode int) bool {
	if k != KindNetworkError && k != KindAPIDown {
		return false
	}
	return statusCode == 0 || statusCode >= 500
}

// Config is the backoff configuration. Callers may override any field.
type Config struct {
	MaxAttempts       int
	BackoffMultiplier float64
	BaseDelay         time.Duration
}

// DefaultConfig returns maxAttempts=3, backoffMultiplier=2, baseDelay=1s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BackoffMultiplier: 2,
		BaseDelay:         time.Second,
	}
}

// Delay returns baseDelay * backoffMultiplier^(attempt-1) for a 1-based
// attempt. Attempts below 1 yield 0.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(c.BaseDelay) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	// float64(math.MaxInt64) rounds up to 2^63, which no Duration can hold.
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Decision is the outcome of Decide.
type Decision struct {
	ShouldRetry bool
	Delay       time.Duration
	// Reason explains a terminal decision.
	Reason string
}

// Decide tells the caller what to do after attempt (1-based) failed with err.
// A retry is allowed only for a retryable failure while attempt < MaxAttempts.
func (c Config) Decide(err *ProviderError, attempt int) Decision {
	if err == nil {
		return Decision{Reason: "no failure"}
	}
	if !IsRetryable(err.Kind, err.StatusCode) {
		return Decision{Reason: fmt.Sprintf("%s is not retryable", err.Kind)}
	}
	if attempt >= c.MaxAttempts {
		return Decision{Reason: fmt.Sprintf("attempts exhausted (%d/%d)", attempt, c.MaxAttempts)}
	}
	return Decision{ShouldRetry: true, Delay: c.Delay(attempt)}
}
