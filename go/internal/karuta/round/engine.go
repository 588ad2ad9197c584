package round

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/karuta/go/internal/karuta/deck"
	"github.com/mcdev12/karuta/go/internal/karuta/lock"
	"github.com/mcdev12/karuta/go/internal/karuta/score"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownPlayer    = errors.New("unknown player")
	ErrRoundInactive    = errors.New("round inactive")
	ErrPlayerLocked     = errors.New("player locked")
	ErrPlayerEliminated = errors.New("player eliminated")
	ErrNotEnoughCards   = errors.New("not enough cards")
	ErrInvalidNumCards  = errors.New("invalid number of cards")
)

// OutcomeKind says how an accepted submission changed the round
type OutcomeKind string

const (
	OutcomeResolved OutcomeKind = "RESOLVED"
	OutcomeMisclick OutcomeKind = "MISCLICK"
)

// Submission is an answer attempt as received by the server
type Submission struct {
	PlayerName string
	CardNumber string
	// RoundID pins the answer to a round; zero means the active round
	RoundID int64
}

// Outcome is the result of an accepted submission
type Outcome struct {
	Kind          OutcomeKind
	PlayerName    string
	CardNumber    string
	Health        int
	LockDuration  time.Duration
	LockExpiresAt time.Time
}

// Engine builds rounds and arbitrates answers for one group.
// It is not safe for concurrent use; the owning group serializes access.
type Engine struct {
	rng          *rand.Rand
	clock        clockwork.Clock
	scores       *score.Keeper
	locks        *lock.Manager
	lockDuration time.Duration
}

// NewEngine wires an engine to a group's score keeper and lock manager
func NewEngine(rng *rand.Rand, clock clockwork.Clock, scores *score.Keeper, locks *lock.Manager, lockDuration time.Duration) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if lockDuration <= 0 {
		lockDuration = lock.DefaultDuration
	}
	return &Engine{
		rng:          rng,
		clock:        clock,
		scores:       scores,
		locks:        locks,
		lockDuration: lockDuration,
	}
}

// Build picks an unused prompt and numCards-1 distinct distractors, then shuffles them.
// Once every card has been a prompt the history starts over.
func (e *Engine) Build(d deck.Deck, numCards int, history History, id int64) (*Round, error) {
	if numCards < MinCards || numCards > MaxCards {
		return nil, fmt.Errorf("numCards %d outside [%d,%d]: %w", numCards, MinCards, MaxCards, ErrInvalidNumCards)
	}
	if d.Len() < numCards {
		return nil, fmt.Errorf("deck has %d cards, need %d: %w", d.Len(), numCards, ErrNotEnoughCards)
	}

	unused := make([]int, 0, d.Len())
	for i := 0; i < d.Len(); i++ {
		if !history.Used(d.Card(i).Number) {
			unused = append(unused, i)
		}
	}
	if len(unused) == 0 {
		history.Reset()
		for i := 0; i < d.Len(); i++ {
			unused = append(unused, i)
		}
	}

	promptIdx := unused[e.rng.IntN(len(unused))]
	prompt := d.Card(promptIdx)
	history.Mark(prompt.Number)

	others := make([]int, 0, d.Len()-1)
	for i := 0; i < d.Len(); i++ {
		if i != promptIdx {
			others = append(others, i)
		}
	}
	e.rng.Shuffle(len(others), func(i, j int) {
		others[i], others[j] = others[j], others[i]
	})

	displayed := make([]deck.Card, 0, numCards)
	displayed = append(displayed, prompt)
	for _, i := range others[:numCards-1] {
		displayed = append(displayed, d.Card(i))
	}
	e.rng.Shuffle(len(displayed), func(i, j int) {
		displayed[i], displayed[j] = displayed[j], displayed[i]
	})

	return &Round{
		ID:            id,
		Prompt:        prompt,
		Displayed:     displayed,
		CorrectNumber: prompt.Number,
		OpenedAt:      e.clock.Now(),
	}, nil
}

// Submit arbitrates one answer against the round.
// Errors are expected rejections and leave every player's state untouched.
func (e *Engine) Submit(r *Round, sub Submission) (Outcome, error) {
	name := sub.PlayerName
	if _, ok := e.scores.Health(name); !ok {
		return Outcome{}, ErrUnknownPlayer
	}
	if r == nil || r.Resolved {
		return Outcome{}, ErrRoundInactive
	}
	if sub.RoundID != 0 && sub.RoundID != r.ID {
		return Outcome{}, ErrRoundInactive
	}
	if e.locks.Locked(name) {
		return Outcome{}, ErrPlayerLocked
	}
	if e.scores.Eliminated(name) {
		return Outcome{}, ErrPlayerEliminated
	}

	number := strings.TrimSpace(sub.CardNumber)
	if number == r.CorrectNumber {
		r.Resolved = true
		r.ResolvedBy = name
		r.ResolvedAt = e.clock.Now()
		health := e.scores.Award(name)

		log.Info().
			Int64("round", r.ID).
			Str("player", name).
			Str("card", number).
			Msg("round resolved")

		return Outcome{
			Kind:       OutcomeResolved,
			PlayerName: name,
			CardNumber: number,
			Health:     health,
		}, nil
	}

	r.Misclicks = append(r.Misclicks, Misclick{PlayerName: name, CardNumber: number})
	health := e.scores.Penalize(name)
	expires := e.locks.Lock(name, e.lockDuration)

	log.Debug().
		Int64("round", r.ID).
		Str("player", name).
		Str("card", number).
		Int("health", health).
		Msg("misclick")

	return Outcome{
		Kind:          OutcomeMisclick,
		PlayerName:    name,
		CardNumber:    number,
		Health:        health,
		LockDuration:  e.lockDuration,
		LockExpiresAt: expires,
	}, nil
}

// LockDuration returns the lockout applied on a misclick
func (e *Engine) LockDuration() time.Duration {
	return e.lockDuration
}
