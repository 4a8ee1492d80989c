package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func newTestLimiter(now *time.Time) *RateLimiter {
	rl := NewRateLimiter(map[string]Policy{
		ActionSendMessage: {Rate: rate.Every(time.Second), Burst: 2},
	}, Policy{Rate: rate.Every(time.Minute), Burst: 1})
	rl.now = func() time.Time { return *now }
	return rl
}

func TestAllowConsumesBurstThenWaits(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newTestLimiter(&now)

	ok, _ := rl.Allow("alice", ActionSendMessage)
	assert.True(t, ok)
	ok, _ = rl.Allow("alice", ActionSendMessage)
	assert.True(t, ok)

	ok, wait := rl.Allow("alice", ActionSendMessage)
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	// a rejected request does not push the next token further out
	ok, wait = rl.Allow("alice", ActionSendMessage)
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	now = now.Add(time.Second)
	ok, _ = rl.Allow("alice", ActionSendMessage)
	assert.True(t, ok)
}

func TestBucketsAreIndependent(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newTestLimiter(&now)

	ok, _ := rl.Allow("alice", "anything")
	assert.True(t, ok)
	ok, wait := rl.Allow("alice", "anything")
	assert.False(t, ok)
	assert.InDelta(t, float64(time.Minute), float64(wait), float64(time.Millisecond))

	ok, _ = rl.Allow("bob", "anything")
	assert.True(t, ok)
	ok, _ = rl.Allow("alice", ActionSendMessage)
	assert.True(t, ok)
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newTestLimiter(&now)

	rl.Allow("alice", ActionSendMessage)
	now = now.Add(30 * time.Minute)
	rl.Allow("bob", ActionSendMessage)
	assert.Equal(t, 2, rl.Size())

	now = now.Add(45 * time.Minute)
	rl.Cleanup(time.Hour)
	assert.Equal(t, 1, rl.Size())
}
