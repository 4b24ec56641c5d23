package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSendRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewSendRateLimiter(2, 10*time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("!a:server"))
	assert.True(t, rl.Allow("!a:server"))
	assert.False(t, rl.Allow("!a:server"))
	assert.True(t, rl.Allow("!b:server"), "rooms are limited independently")

	now = now.Add(11 * time.Second)
	assert.True(t, rl.Allow("!a:server"))
}

func TestSendRateLimiterDisabled(t *testing.T) {
	rl := NewSendRateLimiter(0, time.Second)
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("!a:server"))
	}
	var nilLimiter *SendRateLimiter
	assert.True(t, nilLimiter.Allow("!a:server"))
}
