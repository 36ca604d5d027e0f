package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter counts session creations and submissions per client in fixed
// minute, hour and day windows.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int

	now     func() time.Time
	clients map[string]*Usage
}

// Usage is the request count of one client in each window.
type Usage struct {
	Minute int
	Hour   int
	Day    int

	minuteStart time.Time
	hourStart   time.Time
	dayStart    time.Time
}

// NewRateLimiter creates a rate limiter. A limit of zero disables that window.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		now:               time.Now,
		clients:           make(map[string]*Usage),
	}
}

// Allow records a request from clientID, or returns a *RateLimitError or
// *QuotaExceededError without recording it.
func (rl *RateLimiter) Allow(clientID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.clients[clientID]
	if !ok {
		u = &Usage{minuteStart: now, hourStart: now, dayStart: startOfDay(now)}
		rl.clients[clientID] = u
	}
	u.roll(now)

	if rl.requestsPerMinute > 0 && u.Minute >= rl.requestsPerMinute {
		return &RateLimitError{Type: "minute", Limit: rl.requestsPerMinute, RetryAfter: u.minuteStart.Add(time.Minute).Sub(now)}
	}
	if rl.requestsPerHour > 0 && u.Hour >= rl.requestsPerHour {
		return &RateLimitError{Type: "hour", Limit: rl.requestsPerHour, RetryAfter: u.hourStart.Add(time.Hour).Sub(now)}
	}
	if rl.maxRequestsPerDay > 0 && u.Day >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.maxRequestsPerDay),
			Used:   int64(u.Day),
			Resets: u.dayStart.AddDate(0, 0, 1),
		}
	}

	u.Minute++
	u.Hour++
	u.Day++
	return nil
}

func (u *Usage) roll(now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.Minute = 0
		u.minuteStart = now
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.Hour = 0
		u.hourStart = now
	}
	if day := startOfDay(now); !day.Equal(u.dayStart) {
		u.Day = 0
		u.dayStart = day
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Usage returns a copy of the counters for clientID.
func (rl *RateLimiter) Usage(clientID string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if u, ok := rl.clients[clientID]; ok {
		return *u
	}
	return Usage{}
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Type   string
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
