package notifier

import (
	"sync"
	"time"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	MaxPerWindow int           // Maximum notifications per window (default: 10)
	Window       time.Duration // Time window (default: 1 minute)
	Enabled      bool          // Whether rate limiting is enabled (default: true)
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 10,
		Window:       time.Minute,
		Enabled:      true,
	}
}

// RateLimiter bounds alert notifications to MaxPerWindow within any sliding
// window. Every slot handed out is a Reservation that can be cancelled when
// the alert it was taken for never reached anyone.
type RateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	enabled bool
	now     func() time.Time

	seq     uint64
	slots   []slot // oldest first
	dropped int64
}

type slot struct {
	id uint64
	at time.Time
}

// Reservation is one slot taken from a RateLimiter.
type Reservation struct {
	limiter *RateLimiter
	id      uint64
}

// Cancel returns the slot to the limiter. Cancelling twice, or cancelling the
// zero Reservation, does nothing.
func (res Reservation) Cancel() {
	if res.limiter == nil || res.id == 0 {
		return
	}
	res.limiter.cancel(res.id)
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	return &RateLimiter{
		max:     config.MaxPerWindow,
		window:  config.Window,
		enabled: config.Enabled,
		now:     time.Now,
		slots:   make([]slot, 0, config.MaxPerWindow),
	}
}

// Reserve takes a slot if one is free. When the window is full it counts a
// drop and reports how long until the oldest slot expires.
func (r *RateLimiter) Reserve() (Reservation, time.Duration, bool) {
	if !r.enabled {
		return Reservation{}, 0, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.expire(now)

	if len(r.slots) >= r.max {
		r.dropped++
		return Reservation{}, r.slots[0].at.Add(r.window).Sub(now), false
	}

	r.seq++
	r.slots = append(r.slots, slot{id: r.seq, at: now})
	return Reservation{limiter: r, id: r.seq}, 0, true
}

// Allow reports whether a notification may be sent now, keeping the slot.
func (r *RateLimiter) Allow() bool {
	_, _, ok := r.Reserve()
	return ok
}

func (r *RateLimiter) cancel(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.slots {
		if s.id == id {
			r.slots = append(r.slots[:i], r.slots[i+1:]...)
			return
		}
	}
}

// expire drops slots that left the window. Must be called with r.mu held.
func (r *RateLimiter) expire(now time.Time) {
	cutoff := now.Add(-r.window)
	n := 0
	for n < len(r.slots) && r.slots[n].at.Before(cutoff) {
		n++
	}
	if n > 0 {
		r.slots = append(r.slots[:0], r.slots[n:]...)
	}
}

// Dropped returns the number of notifications dropped due to rate limiting.
func (r *RateLimiter) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Dropped      int64         `json:"dropped"`
	CurrentCount int           `json:"current_count"`
	MaxPerWindow int           `json:"max_per_window"`
	Window       time.Duration `json:"window"`
	Enabled      bool          `json:"enabled"`
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expire(r.now())
	return RateLimitStats{
		Dropped:      r.dropped,
		CurrentCount: len(r.slots),
		MaxPerWindow: r.max,
		Window:       r.window,
		Enabled:      r.enabled,
	}
}

// Reset clears the rate limiter state.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots = r.slots[:0]
	r.dropped = 0
}
