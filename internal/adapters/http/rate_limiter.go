package http

import (
	"sync"
	"time"

	"github.com/dkeye/chatcall/internal/domain"
)

// SendRateLimiter is a sliding-window limit on outgoing messages per room.
type SendRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.RoomID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewSendRateLimiter(limit int, interval time.Duration) *SendRateLimiter {
	return &SendRateLimiter{
		history:  make(map[domain.RoomID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt for room and reports whether it fits the window.
// A non-positive limit disables limiting.
func (rl *SendRateLimiter) Allow(room domain.RoomID) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[room]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[room] = fresh
		return false
	}
	rl.history[room] = append(fresh, now)
	return true
}
