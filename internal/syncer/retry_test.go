package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_NextDelay(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}

	assert.Equal(t, 2*time.Second, policy.NextDelay(1))
	assert.Equal(t, 4*time.Second, policy.NextDelay(2))
	assert.Equal(t, 8*time.Second, policy.NextDelay(3))
	assert.Equal(t, 16*time.Second, policy.NextDelay(4))

	// Clamped to MaxDelay
	assert.Equal(t, time.Minute, policy.NextDelay(10))

	// Attempt below 1 behaves like the first
	assert.Equal(t, 2*time.Second, policy.NextDelay(0))
}

func TestRetryPolicy_Defaults(t *testing.T) {
	var policy RetryPolicy

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
}
