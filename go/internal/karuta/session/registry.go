package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/karuta/go/internal/karuta/deck"
	"github.com/mcdev12/karuta/go/internal/karuta/events"
	"github.com/mcdev12/karuta/go/internal/karuta/round"
	"github.com/mcdev12/karuta/go/internal/karuta/score"
	"github.com/rs/zerolog/log"
)

const (
	maxGroupIDLen = 64
	maxNameLen    = 32
)

// Options configures the registry and every group it creates
type Options struct {
	Clock        clockwork.Clock
	Score        score.Config
	LockDuration time.Duration
	Settings     Settings
	Deck         deck.Deck
	// NewRand returns the random source of a new group; nil means a randomly seeded PCG
	NewRand func() *rand.Rand
}

// GroupSummary describes a group for listings
type GroupSummary struct {
	GroupID       string `json:"groupId"`
	Connections   int    `json:"connections"`
	Players       int    `json:"players"`
	QuestionCount int    `json:"questionCount"`
	MaxQuestions  int    `json:"maxQuestions"`
	Round         int64  `json:"round"`
	Ended         bool   `json:"ended"`
}

// Registry owns every group of the process
type Registry struct {
	mu         sync.RWMutex
	groups     map[string]*Group
	connGroups map[string]string // connection id -> group id

	deck     deck.Deck
	settings Settings
	opts     Options

	connections atomic.Int64
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Settings == (Settings{}) {
		opts.Settings = DefaultSettings()
	}
	if opts.Score == (score.Config{}) {
		opts.Score = score.DefaultConfig()
	}
	if opts.NewRand == nil {
		opts.NewRand = func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
	}
	return &Registry{
		groups:     make(map[string]*Group),
		connGroups: make(map[string]string),
		deck:       opts.Deck,
		settings:   opts.Settings,
		opts:       opts,
	}
}

// Dispatch applies one inbound message and returns the messages to deliver.
// Expected rejections never surface as errors: configuration and name problems
// become an error message to the sender, stale or locked answers are dropped.
func (r *Registry) Dispatch(ctx context.Context, in Inbound) []Outbound {
	if ctx.Err() != nil {
		return nil
	}
	logger := log.With().
		Str("connection_id", in.ConnectionID).
		Str("kind", in.Kind.String()).
		Logger()

	if in.missingPayload() {
		logger.Debug().Msg("message without payload")
		return []Outbound{rejection(in.ConnectionID, events.ErrorBadRequest, fmt.Errorf("%s without payload: %w", in.Kind, ErrBadRequest))}
	}

	msgs, err := r.route(in)
	if err == nil {
		return msgs
	}

	switch {
	case errors.Is(err, ErrInvalidConfig):
		logger.Info().Err(err).Msg("rejected configuration")
		return []Outbound{rejection(in.ConnectionID, events.ErrorInvalidConfig, err)}
	case errors.Is(err, ErrDuplicateName):
		logger.Info().Err(err).Msg("rejected name")
		return []Outbound{rejection(in.ConnectionID, events.ErrorDuplicateName, err)}
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrUnknownGroup), errors.Is(err, ErrNotJoined):
		logger.Debug().Err(err).Msg("bad request")
		return []Outbound{rejection(in.ConnectionID, events.ErrorBadRequest, err)}
	default:
		// round.ErrRoundInactive, ErrPlayerLocked, ErrUnknownPlayer, ErrPlayerEliminated
		logger.Debug().Err(err).Msg("submission ignored")
		return nil
	}
}

func (r *Registry) route(in Inbound) ([]Outbound, error) {
	switch in.Kind {
	case KindConnect:
		return r.connect(), nil
	case KindDisconnect, KindLeave:
		return r.disconnect(in.ConnectionID, in.Kind == KindDisconnect), nil
	case KindJoin:
		return r.join(in.ConnectionID, in.Join)
	case KindSetName:
		return r.setName(in.ConnectionID, in.SetName)
	case KindSetCardsAndSettings:
		return r.setCardsAndSettings(in.CardsAndSettings)
	case KindStart:
		return r.start(in.Start)
	case KindAnswer:
		return r.answer(in.ConnectionID, in.Answer)
	case KindReset:
		return r.reset(in.Reset)
	default:
		return nil, fmt.Errorf("unhandled kind %s: %w", in.Kind, ErrBadRequest)
	}
}

func rejection(connID string, code events.ErrorCode, err error) Outbound {
	return toConnection("", connID, events.TypeError, events.ErrorPayload{Code: code, Message: err.Error()})
}

func (r *Registry) userCount() Outbound {
	return Outbound{
		Scope:   ScopeAll,
		Type:    events.TypeUserCount,
		Payload: events.UserCountPayload{Count: r.connections.Load()},
	}
}

func (r *Registry) connect() []Outbound {
	r.connections.Add(1)
	return []Outbound{r.userCount()}
}

func (r *Registry) disconnect(connID string, closed bool) []Outbound {
	var msgs []Outbound
	if g := r.leaveGroup(connID); g != nil {
		msgs = append(msgs, toGroup(g.ID(), events.TypeState, g.Snapshot()))
	}
	if closed {
		r.connections.Add(-1)
		msgs = append(msgs, r.userCount())
	}
	return msgs
}

// leaveGroup removes the connection from its group and returns the group if it survives
func (r *Registry) leaveGroup(connID string) *Group {
	r.mu.Lock()
	defer r.mu.Unlock()

	groupID, ok := r.connGroups[connID]
	if !ok {
		return nil
	}
	delete(r.connGroups, connID)

	g := r.groups[groupID]
	if g == nil {
		return nil
	}
	if g.RemoveConnection(connID) {
		delete(r.groups, groupID)
		log.Info().Str("group_id", groupID).Msg("group removed")
		return nil
	}
	return g
}

func (r *Registry) join(connID string, p *events.JoinPayload) ([]Outbound, error) {
	groupID, err := validGroupID(p.GroupID)
	if err != nil {
		return nil, err
	}

	var msgs []Outbound
	if current, ok := r.GroupOf(connID); ok && current != groupID {
		if old := r.leaveGroup(connID); old != nil {
			msgs = append(msgs, toGroup(old.ID(), events.TypeState, old.Snapshot()))
		}
	}

	r.mu.Lock()
	g, ok := r.groups[groupID]
	if !ok {
		g = NewGroup(groupID, r.deck, r.settings, GroupOptions{
			Clock:        r.opts.Clock,
			Rand:         r.opts.NewRand(),
			Score:        r.opts.Score,
			LockDuration: r.opts.LockDuration,
		})
		r.groups[groupID] = g
		log.Info().Str("group_id", groupID).Msg("group created")
	}
	r.connGroups[connID] = groupID
	g.AddConnection(connID)
	r.mu.Unlock()

	return append(msgs, toConnection(groupID, connID, events.TypeState, g.Snapshot())), nil
}

func (r *Registry) setName(connID string, p *events.SetNamePayload) ([]Outbound, error) {
	name := normalizeName(p.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		return nil, fmt.Errorf("name must be 1-%d characters: %w", maxNameLen, ErrBadRequest)
	}
	g, err := r.memberGroup(connID, p.GroupID)
	if err != nil {
		return nil, err
	}
	if err := g.RegisterPlayer(connID, name); err != nil {
		return nil, err
	}
	return []Outbound{toGroup(g.ID(), events.TypeState, g.Snapshot())}, nil
}

func (r *Registry) setCardsAndSettings(p *events.CardsAndSettingsPayload) ([]Outbound, error) {
	rows := make([]deck.Row, 0, len(p.Cards))
	for _, c := range p.Cards {
		rows = append(rows, deck.Row{Number: c.Number, Term: c.Term, Text: c.Text})
	}
	d, err := deck.Build(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, ErrInvalidConfig)
	}

	r.mu.RLock()
	fallback := r.settings
	r.mu.RUnlock()

	settings := settingsFromWire(p.Settings, fallback)
	if err := settings.Validate(d.Len()); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.deck = d
	r.settings = settings
	groups := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.Unlock()

	msgs := make([]Outbound, 0, len(groups))
	for _, g := range groups {
		g.Configure(d, settings)
		msgs = append(msgs, toGroup(g.ID(), events.TypeState, g.Snapshot()))
	}

	log.Info().
		Int("cards", d.Len()).
		Int("groups", len(groups)).
		Int("num_cards", settings.NumCards).
		Int("max_questions", settings.MaxQuestions).
		Msg("deck and settings distributed")
	return msgs, nil
}

func (r *Registry) start(p *events.StartPayload) ([]Outbound, error) {
	g, err := r.existingGroup(p.GroupID)
	if err != nil {
		return nil, err
	}
	return g.Start(p.NumCards, p.MaxQuestions)
}

func (r *Registry) answer(connID string, p *events.AnswerPayload) ([]Outbound, error) {
	g, err := r.memberGroup(connID, p.GroupID)
	if err != nil {
		return nil, err
	}
	registered, ok := g.PlayerName(connID)
	name := normalizeName(p.Name)
	if name == "" {
		name = registered
	}
	if !ok || name != registered {
		return nil, fmt.Errorf("%q is not this connection's player: %w", name, round.ErrUnknownPlayer)
	}
	return g.Submit(round.Submission{
		PlayerName: name,
		CardNumber: p.Number,
		RoundID:    p.Round,
	})
}

func (r *Registry) reset(p *events.ResetPayload) ([]Outbound, error) {
	g, err := r.existingGroup(p.GroupID)
	if err != nil {
		return nil, err
	}
	return g.Reset(), nil
}

// Group returns a group by id
func (r *Registry) Group(groupID string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	return g, ok
}

// GroupOf returns the group a connection joined
func (r *Registry) GroupOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.connGroups[connID]
	return id, ok
}

// Connections returns the live connection count
func (r *Registry) Connections() int64 {
	return r.connections.Load()
}

// Groups summarizes every group sorted by id
func (r *Registry) Groups() []GroupSummary {
	r.mu.RLock()
	groups := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()

	summaries := make([]GroupSummary, 0, len(groups))
	for _, g := range groups {
		snap := g.Snapshot()
		summaries = append(summaries, GroupSummary{
			GroupID:       g.ID(),
			Connections:   g.ConnectionCount(),
			Players:       len(snap.Players),
			QuestionCount: snap.QuestionCount,
			MaxQuestions:  snap.MaxQuestions,
			Round:         snap.Round,
			Ended:         snap.Ended,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].GroupID < summaries[j].GroupID
	})
	return summaries
}

func (r *Registry) existingGroup(groupID string) (*Group, error) {
	id, err := validGroupID(groupID)
	if err != nil {
		return nil, err
	}
	g, ok := r.Group(id)
	if !ok {
		return nil, fmt.Errorf("group %q: %w", id, ErrUnknownGroup)
	}
	return g, nil
}

func (r *Registry) memberGroup(connID, groupID string) (*Group, error) {
	g, err := r.existingGroup(groupID)
	if err != nil {
		return nil, err
	}
	if joined, ok := r.GroupOf(connID); !ok || joined != g.ID() {
		return nil, fmt.Errorf("group %q: %w", g.ID(), ErrNotJoined)
	}
	return g, nil
}

func validGroupID(groupID string) (string, error) {
	id := strings.TrimSpace(groupID)
	if id == "" || len(id) > maxGroupIDLen {
		return "", fmt.Errorf("groupId must be 1-%d bytes: %w", maxGroupIDLen, ErrBadRequest)
	}
	return id, nil
}
