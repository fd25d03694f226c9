package github

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/time/rate"
)

const headerRateReset = "X-RateLimit-Reset"

// RateLimiterStats provides statistics about rate limiter usage
type RateLimiterStats struct {
	RemainingRequests int           `json:"remaining_requests"`
	ResetTime         time.Time     `json:"reset_time"`
	CurrentDelay      time.Duration `json:"current_delay"`
	TotalWaits        int64         `json:"total_waits"`
	TotalDelayTime    time.Duration `json:"total_delay_time"`
}

// RateLimiterConfig configures the rate limiter behavior
type RateLimiterConfig struct {
	// RequestsPerSecond paces every call. Zero or less disables pacing.
	RequestsPerSecond float64
	Burst             int

	// MaxDelay caps the throttling delay applied while requests remain
	MaxDelay time.Duration

	// Jitter adds randomness to delays to avoid thundering herd
	Jitter float64

	// MinRemainingRequests is the threshold below which we start aggressive throttling
	MinRemainingRequests int

	// AggressiveThrottleDelay is the delay when remaining requests are low
	AggressiveThrottleDelay time.Duration
}

// DefaultRateLimiterConfig returns a default rate limiter configuration
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond:       10,
		Burst:                   10,
		MaxDelay:                30 * time.Second,
		Jitter:                  0.1,
		MinRemainingRequests:    100,
		AggressiveThrottleDelay: 2 * time.Second,
	}
}

// RateLimiter guards the shared API budget of one token. It paces calls with
// a token bucket and slows down as X-RateLimit-Remaining approaches zero.
// At zero it blocks until the announced reset.
type RateLimiter struct {
	config RateLimiterConfig
	pacer  *rate.Limiter

	mu        sync.Mutex
	remaining int
	resetTime time.Time
	stats     RateLimiterStats
	rand      *rand.Rand
}

// NewRateLimiter creates a rate limiter for one token
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	pacer := rate.NewLimiter(rate.Inf, 0)
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &RateLimiter{
		config:    config,
		pacer:     pacer,
		remaining: 5000, // GitHub's default rate limit
		resetTime: time.Now().Add(time.Hour),
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until it's safe to make an API call
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.pacer.Wait(ctx); err != nil {
		return err
	}

	rl.mu.Lock()
	delay := rl.calculateDelay()
	if delay > 0 {
		rl.stats.TotalWaits++
		rl.stats.TotalDelayTime += delay
	}
	rl.mu.Unlock()

	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// UpdateLimits records the budget GitHub reported on the last response
func (rl *RateLimiter) UpdateLimits(remaining int, resetTime time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.remaining = remaining
	rl.resetTime = resetTime
	rl.stats.RemainingRequests = remaining
	rl.stats.ResetTime = resetTime
}

// Observe updates the limits from the rate headers of a response
func (rl *RateLimiter) Observe(resp *github.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	rl.UpdateLimits(resp.Rate.Remaining, resp.Rate.Reset.Time)
}

// Delay returns the current delay before the next API call
func (rl *RateLimiter) Delay() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.calculateDelay()
}

// Stats returns current rate limiter statistics
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := rl.stats
	stats.CurrentDelay = rl.calculateDelay()
	return stats
}

// calculateDelay calculates the delay needed before the next API call
func (rl *RateLimiter) calculateDelay() time.Duration {
	now := time.Now()

	if now.After(rl.resetTime) {
		return 0
	}

	// exhausted: wait for the reset regardless of MaxDelay
	if rl.remaining <= 0 {
		return rl.resetTime.Sub(now)
	}

	if rl.remaining >= rl.config.MinRemainingRequests {
		return 0
	}

	delay := rl.calculateAggressiveDelay()

	if rl.config.Jitter > 0 && delay > 0 {
		jitterAmount := float64(delay) * rl.config.Jitter
		delay += time.Duration(rl.rand.Float64() * jitterAmount)
	}

	if rl.config.MaxDelay > 0 && delay > rl.config.MaxDelay {
		delay = rl.config.MaxDelay
	}
	return delay
}

// calculateAggressiveDelay calculates delay when remaining requests are low
func (rl *RateLimiter) calculateAggressiveDelay() time.Duration {
	if rl.config.MinRemainingRequests <= 0 {
		return 0
	}

	remainingRatio := float64(rl.remaining) / float64(rl.config.MinRemainingRequests)
	if remainingRatio >= 1.0 {
		return 0
	}

	// fewer remaining requests means a longer delay
	delayMultiplier := 1.0 - remainingRatio
	return time.Duration(float64(rl.config.AggressiveThrottleDelay) * delayMultiplier)
}

// parseResetHeader reads an X-RateLimit-Reset value given in epoch seconds
func parseResetHeader(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
