package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy is a sustained rate plus a burst allowance.
type Policy struct {
	Every time.Duration
	Burst int
}

// Actions with their own budgets; anything else falls back to DefaultPolicy.
var (
	SendMessagePolicy = Policy{Every: 6 * time.Second, Burst: 10}
	CreateRoomPolicy  = Policy{Every: 12 * time.Minute, Burst: 5}
	TypingPolicy      = Policy{Every: 2 * time.Second, Burst: 30}
	DefaultPolicy     = Policy{Every: 3 * time.Second, Burst: 20}
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user and action.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	policies map[string]Policy
	fallback Policy
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		policies: map[string]Policy{
			"send_message": SendMessagePolicy,
			"create_room":  CreateRoomPolicy,
			"typing":       TypingPolicy,
		},
		fallback: DefaultPolicy,
	}
}

// NewUniformLimiter applies perMinute requests per minute to every action.
func NewUniformLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	rl := NewRateLimiter()
	rl.policies = map[string]Policy{}
	rl.fallback = Policy{Every: time.Minute / time.Duration(perMinute), Burst: perMinute}
	return rl
}

// SetDefault sets the budget for actions without their own policy.
func (rl *RateLimiter) SetDefault(perMinute int) {
	if perMinute <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.fallback = Policy{Every: time.Minute / time.Duration(perMinute), Burst: perMinute}
}

func (rl *RateLimiter) policy(action string) Policy {
	if p, ok := rl.policies[action]; ok {
		return p
	}
	return rl.fallback
}

// Allow consumes a token for the user's action. When denied it reports how
// long until the next token is available.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action
	now := time.Now()

	rl.mu.Lock()
	p := rl.policy(action)
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(p.Every), p.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, p.Every
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// GetStatus reports the tokens left and the burst size for a user's action.
func (rl *RateLimiter) GetStatus(userID, action string) (tokens int, maxTokens int) {
	rl.mu.Lock()
	b, ok := rl.buckets[userID+":"+action]
	rl.mu.Unlock()
	if !ok {
		return 0, 0
	}
	return int(b.limiter.Tokens()), b.limiter.Burst()
}

// Cleanup drops buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			}
		}
	}()
}
