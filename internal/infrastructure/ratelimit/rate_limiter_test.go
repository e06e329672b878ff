package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < SendMessagePolicy.Burst; i++ {
		ok, _ := rl.Allow("u1", "send_message")
		assert.True(t, ok, "request %d should pass", i)
	}

	ok, wait := rl.Allow("u1", "send_message")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	ok, _ = rl.Allow("u2", "send_message")
	assert.True(t, ok, "buckets are per user")
}

func TestRateLimiter_Status(t *testing.T) {
	rl := NewRateLimiter()

	tokens, max := rl.GetStatus("u1", "typing")
	assert.Zero(t, tokens)
	assert.Zero(t, max)

	rl.Allow("u1", "typing")
	tokens, max = rl.GetStatus("u1", "typing")
	assert.Equal(t, TypingPolicy.Burst, max)
	assert.Equal(t, TypingPolicy.Burst-1, tokens)
}

func TestRateLimiter_UniformAndCleanup(t *testing.T) {
	rl := NewUniformLimiter(2)

	ok, _ := rl.Allow("ip", "http")
	assert.True(t, ok)
	ok, _ = rl.Allow("ip", "http")
	assert.True(t, ok)
	ok, _ = rl.Allow("ip", "http")
	assert.False(t, ok)

	rl.buckets["ip:http"].lastSeen = time.Now().Add(-2 * time.Hour)
	rl.Cleanup(time.Hour)
	_, max := rl.GetStatus("ip", "http")
	assert.Zero(t, max)
}

func TestRateLimiter_SetDefaultKeepsActionPolicies(t *testing.T) {
	rl := NewRateLimiter()
	rl.SetDefault(2)

	ok, _ := rl.Allow("u1", "api")
	assert.True(t, ok)
	ok, _ = rl.Allow("u1", "api")
	assert.True(t, ok)
	ok, _ = rl.Allow("u1", "api")
	assert.False(t, ok)

	rl.Allow("u1", "send_message")
	_, max := rl.GetStatus("u1", "send_message")
	assert.Equal(t, SendMessagePolicy.Burst, max)
}
