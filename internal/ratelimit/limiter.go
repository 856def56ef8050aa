package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

// Limiter manages rate limits for external login launches, one bucket per service
type Limiter struct {
	limiters map[models.ServiceID]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a new rate limiter
// requestsPerHour: launches allowed per hour per service (e.g., 30)
// burst: max launches in a burst (e.g., 5)
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	r := rate.Limit(float64(requestsPerHour) / 3600.0)

	return &Limiter{
		limiters: make(map[models.ServiceID]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// GetLimiter returns the rate limiter for a specific service
func (l *Limiter) GetLimiter(service models.ServiceID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[service]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[service] = limiter
	}

	return limiter
}

// Allow checks if a launch is allowed for the given service
func (l *Limiter) Allow(service models.ServiceID) bool {
	return l.GetLimiter(service).Allow()
}

// Tokens returns the current number of available tokens for a service
func (l *Limiter) Tokens(service models.ServiceID) float64 {
	return l.GetLimiter(service).Tokens()
}

// RetryAfter returns how long until the next launch would be allowed
func (l *Limiter) RetryAfter(service models.ServiceID) time.Duration {
	r := l.GetLimiter(service).Reserve()
	defer r.Cancel()
	if !r.OK() {
		return 0
	}
	return r.Delay()
}
