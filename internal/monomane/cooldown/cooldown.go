// Package cooldown implements the per-participant anti-flood gate that keeps
// the auto-reply engine from answering the same sender in rapid succession.
package cooldown

import (
	"sync"
	"time"
)

// DefaultWindow is the minimum gap between two auto-replies to one sender.
const DefaultWindow = 3 * time.Second

// Gate tracks the last auto-reply time per participant. State lives only in
// memory — a restart clears all cooldowns, which is acceptable for a window
// measured in seconds.
//
// Gate is safe for concurrent use; the check-then-set in Allow is atomic per
// call under the gate's mutex.
type Gate struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time // participantID → last allowed reply
}

// New returns a Gate with the given window. Non-positive windows fall back
// to DefaultWindow.
func New(window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Allow reports whether the participant may receive another auto-reply at
// time now, and records now as the new last-reply time when it may. A denied
// call leaves the recorded timestamp untouched, so a flood of messages does
// not push the window forward.
func (g *Gate) Allow(participantID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, seen := g.last[participantID]
	if seen && now.Sub(last) < g.window {
		return false
	}
	g.last[participantID] = now
	return true
}
