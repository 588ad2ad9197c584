package lock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultDuration is how long a misclick blocks further answers
const DefaultDuration = 3000 * time.Millisecond

// State is a player's lock as seen by the presentation layer
type State struct {
	Locked    bool
	ExpiresAt time.Time
	Remaining time.Duration
}

// Manager tracks per-player answer lockouts.
// Expiry is evaluated lazily against the clock on every query, no timers run.
// It is not safe for concurrent use; the owning group serializes access.
type Manager struct {
	clock     clockwork.Clock
	expiresAt map[string]time.Time
}

// NewManager creates a lock manager. A nil clock means the real clock.
func NewManager(clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		clock:     clock,
		expiresAt: make(map[string]time.Time),
	}
}

// Lock blocks a player until now+d and returns the expiry
func (m *Manager) Lock(name string, d time.Duration) time.Time {
	until := m.clock.Now().Add(d)
	m.expiresAt[name] = until
	return until
}

// Locked reports whether the player is still locked, clearing an expired lock
func (m *Manager) Locked(name string) bool {
	until, ok := m.expiresAt[name]
	if !ok {
		return false
	}
	if m.clock.Now().Before(until) {
		return true
	}
	delete(m.expiresAt, name)
	return false
}

// Remaining returns how long the player stays locked, zero when unlocked
func (m *Manager) Remaining(name string) time.Duration {
	until, ok := m.expiresAt[name]
	if !ok {
		return 0
	}
	remaining := until.Sub(m.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// State returns the player's lock state without mutating it
func (m *Manager) State(name string) State {
	remaining := m.Remaining(name)
	if remaining == 0 {
		return State{}
	}
	return State{
		Locked:    true,
		ExpiresAt: m.expiresAt[name],
		Remaining: remaining,
	}
}

// Clear unlocks a single player
func (m *Manager) Clear(name string) {
	delete(m.expiresAt, name)
}

// ClearAll unlocks every player
func (m *Manager) ClearAll() {
	clear(m.expiresAt)
}
