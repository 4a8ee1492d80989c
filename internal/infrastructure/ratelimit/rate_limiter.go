package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage        = "send_message"
	ActionCreateConversation = "create_conversation"
	ActionSubscribe          = "subscribe"
	ActionDefault            = "default"
)

// Policy is a token bucket: Burst tokens, refilled at Rate per second.
type Policy struct {
	Rate  rate.Limit
	Burst int
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one bucket per key and action.
type RateLimiter struct {
	policies map[string]Policy
	fallback Policy
	buckets  map[string]*entry
	mutex    sync.Mutex
	now      func() time.Time
}

// DefaultPolicies are the per-action limits used unless overridden.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		// 10 messages per minute, bursts of 10
		ActionSendMessage: {Rate: rate.Every(6 * time.Second), Burst: 10},
		// 5 new conversations per hour
		ActionCreateConversation: {Rate: rate.Every(12 * time.Minute), Burst: 5},
		// 30 live subscriptions per minute
		ActionSubscribe: {Rate: rate.Every(2 * time.Second), Burst: 30},
	}
}

// NewRateLimiter applies policies per action and fallback to anything else.
func NewRateLimiter(policies map[string]Policy, fallback Policy) *RateLimiter {
	return &RateLimiter{
		policies: policies,
		fallback: fallback,
		buckets:  make(map[string]*entry),
		now:      time.Now,
	}
}

// Allow consumes a token for key and action. When none is available it
// reports how long until one is.
func (rl *RateLimiter) Allow(key, action string) (bool, time.Duration) {
	now := rl.now()
	limiter := rl.bucket(key, action, now)

	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, 0
	}
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	reservation.CancelAt(now)
	return false, delay
}

func (rl *RateLimiter) bucket(key, action string, now time.Time) *rate.Limiter {
	id := key + ":" + action

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	e, ok := rl.buckets[id]
	if !ok {
		policy, known := rl.policies[action]
		if !known {
			policy = rl.fallback
		}
		e = &entry{limiter: rate.NewLimiter(policy.Rate, policy.Burst)}
		rl.buckets[id] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Cleanup drops buckets idle for longer than idle.
func (rl *RateLimiter) Cleanup(idle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for id, e := range rl.buckets {
		if now.Sub(e.lastSeen) > idle {
			delete(rl.buckets, id)
		}
	}
}

func (rl *RateLimiter) Size() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.buckets)
}

// StartCleanupRoutine runs Cleanup every interval until stop is closed.
func (rl *RateLimiter) StartCleanupRoutine(interval, idle time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(idle)
			case <-stop:
				return
			}
		}
	}()
}
