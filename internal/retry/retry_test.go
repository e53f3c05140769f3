package retry

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay_Defaults(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 1000*time.Millisecond, c.Delay(1))
	assert.Equal(t, 2000*time.Millisecond, c.Delay(2))
	assert.Equal(t, 4000*time.Millisecond, c.Delay(3))
	assert.Equal(t, time.Duration(0), c.Delay(0))
}

func TestDelay_StrictlyIncreasing(t *testing.T) {
	c := Config{MaxAttempts: 10, BackoffMultiplier: 1.5, BaseDelay: 100 * time.Millisecond}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := c.Delay(attempt)
		assert.Greater(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestDelay_Overflow(t *testing.T) {
	c := Config{BackoffMultiplier: 10, BaseDelay: time.Hour}
	assert.Greater(t, c.Delay(40), time.Duration(0))

	// 2^62 * 2 lands exactly on 2^63.
	c = Config{BackoffMultiplier: 2, BaseDelay: 1 << 62}
	assert.Equal(t, time.Duration(math.MaxInt64), c.Delay(2))
	assert.Equal(t, time.Duration(1<<62), c.Delay(1))
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
		want   bool
	}{
		{KindNetworkError, 503, true},
		{KindNetworkError, 0, true},
		{KindNetworkError, 400, false},
		{KindAPIDown, 500, true},
		{KindAPIDown, 0, true},
		{KindAPIDown, 404, false},
		{KindRateLimit, 429, false},
		{KindRateLimit, 0, false},
		{KindInvalidParams, 400, false},
		{KindInvalidParams, 500, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, IsRetryable(c.kind, c.status), "IsRetryable(%s, %d)", c.kind, c.status)
	}
}

func TestKindForStatus(t *testing.T) {
	cases := map[int]Kind{
		0:   KindNetworkError,
		400: KindInvalidParams,
		401: KindInvalidParams,
		404: KindInvalidParams,
		408: KindNetworkError,
		429: KindRateLimit,
		500: KindAPIDown,
		503: KindAPIDown,
	}
	for status, want := range cases {
		assert.Equal(t, want, KindForStatus(status), "status %d", status)
	}
}

func TestDecide(t *testing.T) {
	c := DefaultConfig()
	netErr := &ProviderError{Kind: KindNetworkError, Provider: "flights", Message: "reset"}

	d := c.Decide(netErr, 1)
	assert.True(t, d.ShouldRetry)
	assert.Equal(t, time.Second, d.Delay)

	d = c.Decide(netErr, 2)
	assert.True(t, d.ShouldRetry)
	assert.Equal(t, 2*time.Second, d.Delay)

	d = c.Decide(netErr, 3)
	assert.False(t, d.ShouldRetry)
	assert.Contains(t, d.Reason, "exhausted")

	d = c.Decide(&ProviderError{Kind: KindRateLimit, StatusCode: 429}, 1)
	assert.False(t, d.ShouldRetry)
	assert.Contains(t, d.Reason, "RATE_LIMIT")

	assert.False(t, c.Decide(nil, 1).ShouldRetry)
}

func TestProviderError_Wrapping(t *testing.T) {
	cause := errors.New("connection refused")
	var err error = fmt.Errorf("translate: %w", &ProviderError{
		Kind: KindAPIDown, StatusCode: 502, Provider: "openai", Message: "bad gateway", Err: cause,
	})

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindAPIDown, pe.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "status 502")

	plain := &ProviderError{Kind: KindNetworkError, Provider: "places", Message: "timeout"}
	assert.Equal(t, "places: NETWORK_ERROR: timeout", plain.Error())
}
