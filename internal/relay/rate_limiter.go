package relay

import (
	"sync"
	"time"

	"chatlink/pkg/types"
)

// RateLimiter allows each client a fixed number of posts per window.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[types.ClientID]*clientLimit
	limit   int
	window  time.Duration
	now     func() time.Time
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit posts per client per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		clients: make(map[types.ClientID]*clientLimit),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow counts one post for clientID and reports whether it is within the
// limit.
func (rl *RateLimiter) Allow(clientID types.ClientID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, exists := rl.clients[clientID]
	if !exists || now.Sub(cl.windowStart) >= rl.window {
		rl.clients[clientID] = &clientLimit{count: 1, windowStart: now}
		return true
	}

	if cl.count >= rl.limit {
		return false
	}
	cl.count++
	return true
}

// Cleanup drops clients whose window ended more than five windows ago.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for id, cl := range rl.clients {
		if now.Sub(cl.windowStart) > 5*rl.window {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
