package session

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/karuta/go/internal/karuta/deck"
	"github.com/mcdev12/karuta/go/internal/karuta/events"
	"github.com/mcdev12/karuta/go/internal/karuta/lock"
	"github.com/mcdev12/karuta/go/internal/karuta/round"
	"github.com/mcdev12/karuta/go/internal/karuta/score"
	"github.com/rs/zerolog/log"
)

// RankingSize is how many players the end message lists
const RankingSize = 5

// Player is a named member of a group
type Player struct {
	Name         string
	ConnectionID string
	joinSeq      int
}

// Group is one isolated play session. Every method takes the group lock,
// so concurrent submissions are arbitrated in arrival order.
type Group struct {
	mu sync.Mutex

	id       string
	clock    clockwork.Clock
	scores   *score.Keeper
	locks    *lock.Manager
	engine   *round.Engine
	deck     deck.Deck
	settings Settings

	players     map[string]*Player
	connections map[string]string // connection id -> player name, "" until named
	joinSeq     int

	history       round.History
	active        *round.Round
	roundSeq      int64
	questionCount int
	ended         bool
}

// GroupOptions carries the per-group collaborators
type GroupOptions struct {
	Clock        clockwork.Clock
	Rand         *rand.Rand
	Score        score.Config
	LockDuration time.Duration
}

// NewGroup creates an empty group
func NewGroup(id string, d deck.Deck, settings Settings, opts GroupOptions) *Group {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	scores := score.NewKeeper(opts.Score)
	locks := lock.NewManager(opts.Clock)
	return &Group{
		id:          id,
		clock:       opts.Clock,
		scores:      scores,
		locks:       locks,
		engine:      round.NewEngine(opts.Rand, opts.Clock, scores, locks, opts.LockDuration),
		deck:        d,
		settings:    settings,
		players:     make(map[string]*Player),
		connections: make(map[string]string),
		history:     round.History{},
	}
}

// ID returns the group identifier
func (g *Group) ID() string {
	return g.id
}

// Configure replaces the deck and settings used by the next start.
// A session in progress is abandoned: its question count was checked against the old settings.
func (g *Group) Configure(d deck.Deck, settings Settings) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active != nil || g.ended || g.questionCount > 0 {
		log.Info().
			Str("group_id", g.id).
			Int("questions", g.questionCount).
			Msg("session abandoned by new configuration")
	}
	g.deck = d
	g.settings = settings
	g.resetLocked()
}

// AddConnection gives a connection a placeholder slot in the group
func (g *Group) AddConnection(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.connections[connID]; !ok {
		g.connections[connID] = ""
	}
}

// RegisterPlayer names the connection's slot. Names are unique per group.
func (g *Group) RegisterPlayer(connID, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, ok := g.connections[connID]
	if !ok {
		return ErrNotJoined
	}
	if current == name {
		return nil
	}
	if current != "" && g.active != nil {
		return fmt.Errorf("cannot rename %q during a session: %w", current, ErrBadRequest)
	}
	if p, taken := g.players[name]; taken {
		// A seat left by a lost connection is reclaimed with its health and lock.
		if p.ConnectionID != "" {
			return fmt.Errorf("name %q is taken: %w", name, ErrDuplicateName)
		}
		if current != "" {
			g.removePlayerLocked(current)
		}
		p.ConnectionID = connID
		g.connections[connID] = name
		log.Info().Str("group_id", g.id).Str("player", name).Msg("player reclaimed seat")
		return nil
	}

	if current != "" {
		g.removePlayerLocked(current)
	}
	g.joinSeq++
	g.players[name] = &Player{Name: name, ConnectionID: connID, joinSeq: g.joinSeq}
	g.connections[connID] = name
	g.scores.Add(name)

	log.Info().Str("group_id", g.id).Str("player", name).Msg("player joined")
	return nil
}

// PlayerName returns the name registered by a connection
func (g *Group) PlayerName(connID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name, ok := g.connections[connID]
	return name, ok && name != ""
}

// RemoveConnection drops a connection. While a round is open its player keeps
// health and lock until the next reset; otherwise the player is removed.
// It reports whether the group has no connections left.
func (g *Group) RemoveConnection(connID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if name := g.connections[connID]; name != "" {
		if p, ok := g.players[name]; ok && g.active != nil {
			p.ConnectionID = ""
			log.Info().Str("group_id", g.id).Str("player", name).Msg("player disconnected, seat kept")
		} else {
			g.removePlayerLocked(name)
		}
	}
	delete(g.connections, connID)
	return len(g.connections) == 0
}

func (g *Group) removePlayerLocked(name string) {
	delete(g.players, name)
	g.scores.Remove(name)
	g.locks.Clear(name)
	log.Info().Str("group_id", g.id).Str("player", name).Msg("player left")
}

// Start validates the configuration and opens the first round of a new session.
// Zero arguments fall back to the group's settings.
func (g *Group) Start(numCards, maxQuestions int) ([]Outbound, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	settings := g.settings
	if numCards != 0 {
		settings.NumCards = numCards
	}
	if maxQuestions != 0 {
		settings.MaxQuestions = maxQuestions
	}
	if err := settings.Validate(g.deck.Len()); err != nil {
		return nil, err
	}

	g.settings = settings
	g.resetLocked()

	r, err := g.buildRoundLocked()
	if err != nil {
		return nil, fmt.Errorf("build first round: %w: %w", err, ErrInvalidConfig)
	}
	g.active = r

	log.Info().
		Str("group_id", g.id).
		Int("num_cards", settings.NumCards).
		Int("max_questions", settings.MaxQuestions).
		Msg("session started")

	return []Outbound{toGroup(g.id, events.TypeState, g.snapshotLocked(r))}, nil
}

// Submit arbitrates one answer. Rejections are returned as round errors and produce no messages.
func (g *Group) Submit(sub round.Submission) ([]Outbound, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.active
	out, err := g.engine.Submit(r, sub)
	if err != nil {
		return nil, err
	}

	switch out.Kind {
	case round.OutcomeMisclick:
		msgs := make([]Outbound, 0, 4)
		if p, ok := g.players[out.PlayerName]; ok && p.ConnectionID != "" {
			msgs = append(msgs, toConnection(g.id, p.ConnectionID, events.TypeLock, events.LockPayload{
				Name:       out.PlayerName,
				Number:     out.CardNumber,
				DurationMs: out.LockDuration.Milliseconds(),
				ExpiresAt:  out.LockExpiresAt,
			}))
		}
		msgs = append(msgs, toGroup(g.id, events.TypeState, g.snapshotLocked(r)))
		if g.everyoneEliminatedLocked() {
			// Nobody is left to resolve the round.
			log.Info().Str("group_id", g.id).Int64("round", r.ID).Msg("every player eliminated")
			msgs = append(msgs, g.endLocked()...)
		}
		return msgs, nil
	case round.OutcomeResolved:
		return g.onRoundResolvedLocked(r), nil
	default:
		return nil, nil
	}
}

// onRoundResolvedLocked publishes the resolved round then advances or ends the session
func (g *Group) onRoundResolvedLocked(resolved *round.Round) []Outbound {
	msgs := []Outbound{toGroup(g.id, events.TypeState, g.snapshotLocked(resolved))}

	g.questionCount++
	if g.questionCount >= g.settings.MaxQuestions {
		return append(msgs, g.endLocked()...)
	}

	next, err := g.buildRoundLocked()
	if err != nil {
		log.Error().Err(err).Str("group_id", g.id).Msg("failed to build next round, ending session")
		return append(msgs, g.endLocked()...)
	}
	g.active = next
	return append(msgs, toGroup(g.id, events.TypeState, g.snapshotLocked(next)))
}

func (g *Group) endLocked() []Outbound {
	g.active = nil
	g.ended = true

	ranking := g.rankingLocked()
	top := ranking
	if len(top) > RankingSize {
		top = top[:RankingSize]
	}

	log.Info().
		Str("group_id", g.id).
		Int("questions", g.questionCount).
		Msg("session ended")

	return []Outbound{
		toGroup(g.id, events.TypeState, g.snapshotLocked(nil)),
		toGroup(g.id, events.TypeEnd, events.EndPayload{GroupID: g.id, Players: top}),
	}
}

func (g *Group) everyoneEliminatedLocked() bool {
	if len(g.players) == 0 {
		return false
	}
	for name := range g.players {
		if !g.scores.Eliminated(name) {
			return false
		}
	}
	return true
}

func (g *Group) buildRoundLocked() (*round.Round, error) {
	g.roundSeq++
	return g.engine.Build(g.deck, g.settings.NumCards, g.history, g.roundSeq)
}

// Reset returns the group to its pre-start state, keeping connected players.
// The in-flight round is abandoned and answers to it become stale.
func (g *Group) Reset() []Outbound {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetLocked()
	log.Info().Str("group_id", g.id).Msg("session reset")
	return []Outbound{toGroup(g.id, events.TypeState, g.snapshotLocked(nil))}
}

func (g *Group) resetLocked() {
	for name, p := range g.players {
		if p.ConnectionID == "" {
			g.removePlayerLocked(name)
		}
	}
	g.active = nil
	g.questionCount = 0
	g.ended = false
	g.history.Reset()
	g.scores.Reset()
	g.locks.ClearAll()
}

// Snapshot returns the current state payload
func (g *Group) Snapshot() events.StatePayload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked(g.active)
}

// Ranking returns every player sorted by health, ties broken by join order
func (g *Group) Ranking() []events.Standing {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rankingLocked()
}

// Ended reports whether the session has played all its questions
func (g *Group) Ended() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ended
}

// ActiveRoundID returns the open round's id, zero when none
func (g *Group) ActiveRoundID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return 0
	}
	return g.active.ID
}

// ConnectionCount returns how many connections joined the group
func (g *Group) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.connections)
}

func (g *Group) orderedPlayersLocked() []*Player {
	players := make([]*Player, 0, len(g.players))
	for _, p := range g.players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].joinSeq < players[j].joinSeq
	})
	return players
}

func (g *Group) rankingLocked() []events.Standing {
	players := g.orderedPlayersLocked()
	ranking := make([]events.Standing, 0, len(players))
	for _, p := range players {
		h, _ := g.scores.Health(p.Name)
		ranking = append(ranking, events.Standing{Name: p.Name, Health: h})
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].Health > ranking[j].Health
	})
	return ranking
}

// snapshotLocked renders the group with r as the current round
func (g *Group) snapshotLocked(r *round.Round) events.StatePayload {
	state := events.StatePayload{
		GroupID:       g.id,
		QuestionCount: g.questionCount,
		MaxQuestions:  g.settings.MaxQuestions,
		RevealPaceMs:  g.settings.RevealPaceMs,
		Ended:         g.ended,
		Players:       []events.PlayerView{},
		Misclicks:     []events.MisclickView{},
	}

	for _, p := range g.orderedPlayersLocked() {
		h, _ := g.scores.Health(p.Name)
		lockState := g.locks.State(p.Name)
		state.Players = append(state.Players, events.PlayerView{
			Name:            p.Name,
			Health:          h,
			Locked:          lockState.Locked,
			LockRemainingMs: lockState.Remaining.Milliseconds(),
			Eliminated:      g.scores.Eliminated(p.Name),
			Away:            p.ConnectionID == "",
		})
	}

	if r == nil {
		return state
	}

	state.Round = r.ID
	view := &events.RoundView{
		Text:       r.Prompt.Text,
		Cards:      make([]events.CardView, 0, len(r.Displayed)),
		Resolved:   r.Resolved,
		ResolvedBy: r.ResolvedBy,
	}
	for _, c := range r.Displayed {
		view.Cards = append(view.Cards, events.CardView{
			Number:  c.Number,
			Term:    c.Term,
			Correct: r.Resolved && r.IsCorrect(c),
		})
	}
	state.Current = view

	for _, m := range r.Misclicks {
		state.Misclicks = append(state.Misclicks, events.MisclickView{Name: m.PlayerName, Number: m.CardNumber})
	}
	return state
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}
