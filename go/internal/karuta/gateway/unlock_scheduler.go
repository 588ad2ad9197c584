package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/karuta/go/internal/karuta/events"
	"github.com/mcdev12/karuta/go/internal/karuta/session"
	"github.com/rs/zerolog/log"
)

// UnlockScheduler pushes a group snapshot when a misclick lock runs out.
// Locks expire lazily in the engine, so without it the locked flag would stay stale until the next event.
type UnlockScheduler struct {
	clock   clockwork.Clock
	groups  StateProvider
	deliver func(ctx context.Context, msgs []session.Outbound)

	mu     sync.Mutex
	timers map[lockKey]*unlockTimer
}

type lockKey struct {
	groupID string
	name    string
}

type unlockTimer struct {
	timer clockwork.Timer
	stop  chan struct{}
}

// NewUnlockScheduler creates a scheduler; a nil clock means the real clock
func NewUnlockScheduler(clock clockwork.Clock, groups StateProvider, deliver func(ctx context.Context, msgs []session.Outbound)) *UnlockScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &UnlockScheduler{
		clock:   clock,
		groups:  groups,
		deliver: deliver,
		timers:  make(map[lockKey]*unlockTimer),
	}
}

// Schedule arranges a snapshot for groupID at expiresAt, replacing any pending one for the player
func (s *UnlockScheduler) Schedule(ctx context.Context, groupID, name string, expiresAt time.Time) {
	duration := expiresAt.Sub(s.clock.Now())
	if duration <= 0 {
		return
	}

	key := lockKey{groupID: groupID, name: name}
	entry := &unlockTimer{timer: s.clock.NewTimer(duration), stop: make(chan struct{})}
	s.replaceTimer(key, entry)

	go func() {
		select {
		case <-entry.timer.Chan():
			if !s.removeTimer(key, entry) {
				return
			}
			s.fire(ctx, key)
		case <-entry.stop:
		case <-ctx.Done():
			stopAndDrainTimer(entry.timer)
			s.removeTimer(key, entry)
		}
	}()

	log.Debug().
		Str("group_id", groupID).
		Str("player", name).
		Dur("duration", duration).
		Msg("scheduled unlock")
}

// Pending reports how many unlocks are waiting
func (s *UnlockScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *UnlockScheduler) fire(ctx context.Context, key lockKey) {
	g, ok := s.groups.Group(key.groupID)
	if !ok {
		return
	}
	s.deliver(ctx, []session.Outbound{{
		Scope:   session.ScopeGroup,
		GroupID: key.groupID,
		Type:    events.TypeState,
		Payload: g.Snapshot(),
	}})
	log.Debug().Str("group_id", key.groupID).Str("player", key.name).Msg("lock expired")
}

func (s *UnlockScheduler) replaceTimer(key lockKey, entry *unlockTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[key]; ok {
		stopAndDrainTimer(existing.timer)
		close(existing.stop)
	}
	s.timers[key] = entry
}

// removeTimer drops entry if it is still the current one for key
func (s *UnlockScheduler) removeTimer(key lockKey, entry *unlockTimer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timers[key] != entry {
		return false
	}
	delete(s.timers, key)
	return true
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
