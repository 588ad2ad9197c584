package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/karuta/go/internal/karuta/deck"
	"github.com/mcdev12/karuta/go/internal/karuta/events"
	"github.com/mcdev12/karuta/go/internal/karuta/lock"
	"github.com/mcdev12/karuta/go/internal/karuta/score"
)

const groupID = "room-1"

func cardRows(n int) []events.CardRow {
	rows := make([]events.CardRow, n)
	for i := range rows {
		rows[i] = events.CardRow{
			Number: fmt.Sprintf("%d", i+1),
			Term:   fmt.Sprintf("term-%d", i+1),
			Text:   fmt.Sprintf("definition %d", i+1),
		}
	}
	return rows
}

type harness struct {
	t     *testing.T
	clock *clockwork.FakeClock
	reg   *Registry
	ctx   context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	var seed uint64
	reg := NewRegistry(Options{
		Clock:        clock,
		Score:        score.DefaultConfig(),
		LockDuration: lock.DefaultDuration,
		NewRand: func() *rand.Rand {
			seed++
			return rand.New(rand.NewPCG(seed, seed))
		},
	})
	return &harness{t: t, clock: clock, reg: reg, ctx: context.Background()}
}

func (h *harness) send(connID string, t events.MessageType, payload any) []Outbound {
	h.t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		h.t.Fatalf("marshal %s: %v", t, err)
	}
	in, err := Decode(connID, events.Envelope{Type: t, Data: data})
	if err != nil {
		h.t.Fatalf("decode %s: %v", t, err)
	}
	return h.reg.Dispatch(h.ctx, in)
}

// player connects, joins groupID and registers name
func (h *harness) player(connID, name string) {
	h.t.Helper()
	h.reg.Dispatch(h.ctx, Inbound{Kind: KindConnect, ConnectionID: connID})
	h.send(connID, events.TypeJoin, events.JoinPayload{GroupID: groupID})
	msgs := h.send(connID, events.TypeSetName, events.SetNamePayload{GroupID: groupID, Name: name})
	if hasError(msgs) {
		h.t.Fatalf("set_name %s rejected: %+v", name, msgs)
	}
}

func (h *harness) upload(n int, settings events.Settings) []Outbound {
	h.t.Helper()
	return h.send("uploader", events.TypeSetCardsAndSettings, events.CardsAndSettingsPayload{
		Cards:    cardRows(n),
		Settings: settings,
	})
}

func (h *harness) start(numCards, maxQuestions int) []Outbound {
	h.t.Helper()
	return h.send("c-a", events.TypeStart, events.StartPayload{GroupID: groupID, NumCards: numCards, MaxQuestions: maxQuestions})
}

func (h *harness) answer(connID, name, number string, roundID int64) []Outbound {
	h.t.Helper()
	return h.send(connID, events.TypeAnswer, events.AnswerPayload{GroupID: groupID, Name: name, Number: number, Round: roundID})
}

func (h *harness) group() *Group {
	h.t.Helper()
	g, ok := h.reg.Group(groupID)
	if !ok {
		h.t.Fatalf("group %s not found", groupID)
	}
	return g
}

func (h *harness) correct() string {
	h.t.Helper()
	g := h.group()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		h.t.Fatal("no active round")
	}
	return g.active.CorrectNumber
}

func (h *harness) wrong() string {
	h.t.Helper()
	g := h.group()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.active.Displayed {
		if c.Number != g.active.CorrectNumber {
			return c.Number
		}
	}
	h.t.Fatal("no distractor")
	return ""
}

func hasError(msgs []Outbound) bool {
	for _, m := range msgs {
		if m.Type == events.TypeError {
			return true
		}
	}
	return false
}

func ofType(msgs []Outbound, t events.MessageType) []Outbound {
	var out []Outbound
	for _, m := range msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func playerView(t *testing.T, s events.StatePayload, name string) events.PlayerView {
	t.Helper()
	for _, p := range s.Players {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("player %s missing from snapshot", name)
	return events.PlayerView{}
}

func TestCorrectAnswerResolvesRound(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.player("c-b", "B")
	h.upload(8, events.Settings{MaxQuestions: 3, NumCards: 5})

	started := h.start(5, 3)
	states := ofType(started, events.TypeState)
	if len(states) != 1 {
		t.Fatalf("start produced %d state messages, want 1", len(states))
	}
	open := states[0].Payload.(events.StatePayload)
	if len(open.Current.Cards) != 5 {
		t.Fatalf("displayed %d cards, want 5", len(open.Current.Cards))
	}
	for _, c := range open.Current.Cards {
		if c.Correct {
			t.Fatal("correct flag leaked on an open round")
		}
	}

	msgs := h.answer("c-a", "A", h.correct(), open.Round)
	states = ofType(msgs, events.TypeState)
	if len(states) != 2 {
		t.Fatalf("resolution produced %d state messages, want resolved + next", len(states))
	}

	resolved := states[0].Payload.(events.StatePayload)
	if !resolved.Current.Resolved || resolved.Current.ResolvedBy != "A" {
		t.Fatalf("resolved view = %+v, want resolved by A", resolved.Current)
	}
	correct := 0
	for _, c := range resolved.Current.Cards {
		if c.Correct {
			correct++
		}
	}
	if correct != 1 {
		t.Fatalf("%d cards flagged correct, want exactly 1", correct)
	}
	if resolved.Round != open.Round {
		t.Fatalf("resolved snapshot round = %d, want %d", resolved.Round, open.Round)
	}

	next := states[1].Payload.(events.StatePayload)
	if next.QuestionCount != 1 || next.Round == open.Round || next.Current.Resolved {
		t.Fatalf("next snapshot = %+v, want fresh open round after 1 question", next)
	}

	// A late answer to the resolved round is a no-op.
	if msgs := h.answer("c-b", "B", "nope", open.Round); len(msgs) != 0 {
		t.Fatalf("late answer produced %+v, want nothing", msgs)
	}
	if p := playerView(t, h.group().Snapshot(), "B"); p.Health != score.DefaultHealth || p.Locked {
		t.Fatalf("B = %+v, late answer must not touch health or lock", p)
	}
}

func TestWrongAnswerLocksOnlySubmitter(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.player("c-b", "B")
	h.upload(8, events.Settings{MaxQuestions: 3, NumCards: 5})
	h.start(0, 0)

	wrong := h.wrong()
	msgs := h.answer("c-b", "B", wrong, 0)

	locks := ofType(msgs, events.TypeLock)
	if len(locks) != 1 {
		t.Fatalf("got %d lock messages, want 1", len(locks))
	}
	if locks[0].Scope != ScopeConnection || locks[0].ConnectionID != "c-b" {
		t.Fatalf("lock delivered to %+v, want only connection c-b", locks[0])
	}
	lp := locks[0].Payload.(events.LockPayload)
	if lp.Name != "B" || lp.Number != wrong || lp.DurationMs != lock.DefaultDuration.Milliseconds() {
		t.Fatalf("lock payload = %+v", lp)
	}

	states := ofType(msgs, events.TypeState)
	if len(states) != 1 {
		t.Fatalf("got %d state messages, want 1", len(states))
	}
	snap := states[0].Payload.(events.StatePayload)
	if snap.Current.Resolved {
		t.Fatal("round must stay open after a misclick")
	}
	if len(snap.Misclicks) != 1 || snap.Misclicks[0] != (events.MisclickView{Name: "B", Number: wrong}) {
		t.Fatalf("misclicks = %+v", snap.Misclicks)
	}
	b := playerView(t, snap, "B")
	if b.Health != score.DefaultHealth-score.DefaultMisclickPenalty || !b.Locked {
		t.Fatalf("B = %+v, want penalized and locked", b)
	}
	if a := playerView(t, snap, "A"); a.Health != score.DefaultHealth || a.Locked {
		t.Fatalf("A = %+v, want untouched", a)
	}
}

func TestLockedAnswerIgnoredUntilExpiry(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.upload(8, events.Settings{MaxQuestions: 3, NumCards: 5})
	h.start(0, 0)

	h.answer("c-a", "A", h.wrong(), 0)
	correct := h.correct()

	h.clock.Advance(lock.DefaultDuration / 2)
	if msgs := h.answer("c-a", "A", correct, 0); len(msgs) != 0 {
		t.Fatalf("locked answer produced %+v, want nothing", msgs)
	}

	h.clock.Advance(lock.DefaultDuration / 2)
	msgs := h.answer("c-a", "A", correct, 0)
	if len(ofType(msgs, events.TypeState)) != 2 {
		t.Fatalf("answer after expiry produced %+v, want resolution", msgs)
	}
}

func TestResetMakesOldRoundStale(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.upload(8, events.Settings{MaxQuestions: 3, NumCards: 5})
	h.start(0, 0)

	g := h.group()
	oldRound := g.ActiveRoundID()
	oldCorrect := h.correct()
	h.answer("c-a", "A", h.wrong(), 0)

	msgs := h.send("c-a", events.TypeReset, events.ResetPayload{GroupID: groupID})
	snap := ofType(msgs, events.TypeState)[0].Payload.(events.StatePayload)
	if snap.Current != nil || snap.QuestionCount != 0 || snap.Ended {
		t.Fatalf("reset snapshot = %+v, want pre-start state", snap)
	}
	if a := playerView(t, snap, "A"); a.Health != score.DefaultHealth || a.Locked {
		t.Fatalf("A = %+v, reset must restore health and clear locks", a)
	}

	if msgs := h.answer("c-a", "A", oldCorrect, oldRound); len(msgs) != 0 {
		t.Fatalf("answer after reset produced %+v, want nothing", msgs)
	}

	h.start(0, 0)
	if msgs := h.answer("c-a", "A", h.correct(), oldRound); len(msgs) != 0 {
		t.Fatalf("answer pinned to the superseded round produced %+v, want nothing", msgs)
	}
	if g.ActiveRoundID() == oldRound {
		t.Fatal("restarted session must use a new round id")
	}
}

func TestSessionEndsAfterMaxQuestions(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.player("c-b", "B")
	h.player("c-c", "C")
	h.upload(8, events.Settings{MaxQuestions: 2, NumCards: 5})
	h.start(0, 0)

	// B misclicks twice, C once, A never.
	h.answer("c-b", "B", h.wrong(), 0)
	h.answer("c-c", "C", h.wrong(), 0)
	h.answer("c-a", "A", h.correct(), 0)
	h.clock.Advance(lock.DefaultDuration)
	h.answer("c-b", "B", h.wrong(), 0)

	msgs := h.answer("c-a", "A", h.correct(), 0)
	ends := ofType(msgs, events.TypeEnd)
	if len(ends) != 1 {
		t.Fatalf("got %d end messages, want 1: %+v", len(ends), msgs)
	}
	end := ends[0].Payload.(events.EndPayload)
	want := []events.Standing{
		{Name: "A", Health: score.DefaultHealth},
		{Name: "C", Health: score.DefaultHealth - 1},
		{Name: "B", Health: score.DefaultHealth - 2},
	}
	if len(end.Players) != len(want) {
		t.Fatalf("ranking = %+v, want %+v", end.Players, want)
	}
	for i := range want {
		if end.Players[i] != want[i] {
			t.Fatalf("ranking[%d] = %+v, want %+v", i, end.Players[i], want[i])
		}
	}

	g := h.group()
	if !g.Ended() || g.ActiveRoundID() != 0 {
		t.Fatal("session should be ended with no active round")
	}
	snap := g.Snapshot()
	if snap.QuestionCount != 2 || snap.MaxQuestions != 2 || !snap.Ended {
		t.Fatalf("final snapshot = %+v", snap)
	}
	if msgs := h.answer("c-a", "A", "1", 0); len(msgs) != 0 {
		t.Fatalf("answer after end produced %+v", msgs)
	}
}

func TestRankingTiesKeepJoinOrderAndTopFive(t *testing.T) {
	h := newHarness(t)
	names := []string{"F", "E", "D", "C", "B", "A"}
	for _, n := range names {
		h.player("c-"+n, n)
	}
	h.upload(8, events.Settings{MaxQuestions: 1, NumCards: 5})
	h.send("c-F", events.TypeStart, events.StartPayload{GroupID: groupID})
	h.answer("c-D", "D", h.wrong(), 0)

	msgs := h.answer("c-A", "A", h.correct(), 0)
	end := ofType(msgs, events.TypeEnd)[0].Payload.(events.EndPayload)
	got := make([]string, 0, len(end.Players))
	for _, s := range end.Players {
		got = append(got, s.Name)
	}
	want := []string{"F", "E", "C", "B", "A"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("ranking = %v, want %v", got, want)
	}
	if full := h.group().Ranking(); len(full) != 6 || full[5].Name != "D" {
		t.Fatalf("full ranking = %+v, want D last", full)
	}
}

func TestConcurrentCorrectAnswersResolveOnce(t *testing.T) {
	h := newHarness(t)
	const players = 16
	for i := 0; i < players; i++ {
		h.player(fmt.Sprintf("c-%d", i), fmt.Sprintf("P%d", i))
	}
	h.upload(10, events.Settings{MaxQuestions: 5, NumCards: 5})
	h.send("c-0", events.TypeStart, events.StartPayload{GroupID: groupID})

	roundID := h.group().ActiveRoundID()
	correct := h.correct()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		resolved int
	)
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msgs := h.reg.Dispatch(h.ctx, Inbound{
				Kind:         KindAnswer,
				ConnectionID: fmt.Sprintf("c-%d", i),
				Answer: &events.AnswerPayload{
					GroupID: groupID,
					Name:    fmt.Sprintf("P%d", i),
					Number:  correct,
					Round:   roundID,
				},
			})
			if len(msgs) > 0 {
				mu.Lock()
				resolved++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if resolved != 1 {
		t.Fatalf("round resolved %d times, want exactly once", resolved)
	}
	if snap := h.group().Snapshot(); snap.QuestionCount != 1 {
		t.Fatalf("questionCount = %d, want 1", snap.QuestionCount)
	}
}

func TestInvalidConfigRejectedBeforeMutation(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.upload(8, events.Settings{MaxQuestions: 3, NumCards: 5})

	tests := []struct {
		name         string
		numCards     int
		maxQuestions int
	}{
		{name: "too few cards", numCards: 4, maxQuestions: 3},
		{name: "too many cards", numCards: 11, maxQuestions: 3},
		{name: "deck smaller than numCards", numCards: 9, maxQuestions: 3},
		{name: "negative questions", numCards: 5, maxQuestions: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := h.start(tt.numCards, tt.maxQuestions)
			if len(msgs) != 1 || msgs[0].Type != events.TypeError || msgs[0].ConnectionID != "c-a" {
				t.Fatalf("msgs = %+v, want one error to c-a", msgs)
			}
			if p := msgs[0].Payload.(events.ErrorPayload); p.Code != events.ErrorInvalidConfig {
				t.Fatalf("code = %s, want invalid_config", p.Code)
			}
			if h.group().ActiveRoundID() != 0 {
				t.Fatal("rejected start must not open a round")
			}
		})
	}

	msgs := h.upload(4, events.Settings{MaxQuestions: 3, NumCards: 5})
	if len(msgs) != 1 || msgs[0].Payload.(events.ErrorPayload).Code != events.ErrorInvalidConfig {
		t.Fatalf("undersized upload = %+v, want invalid_config", msgs)
	}
}

func TestStartWithoutDeckIsInvalidConfig(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")

	msgs := h.start(5, 3)
	if len(msgs) != 1 || msgs[0].Payload.(events.ErrorPayload).Code != events.ErrorInvalidConfig {
		t.Fatalf("msgs = %+v, want invalid_config", msgs)
	}
}

func TestDuplicateName(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.reg.Dispatch(h.ctx, Inbound{Kind: KindConnect, ConnectionID: "c-x"})
	h.send("c-x", events.TypeJoin, events.JoinPayload{GroupID: groupID})

	msgs := h.send("c-x", events.TypeSetName, events.SetNamePayload{GroupID: groupID, Name: " A "})
	if len(msgs) != 1 || msgs[0].ConnectionID != "c-x" {
		t.Fatalf("msgs = %+v, want one rejection to c-x", msgs)
	}
	if p := msgs[0].Payload.(events.ErrorPayload); p.Code != events.ErrorDuplicateName {
		t.Fatalf("code = %s, want duplicate_name", p.Code)
	}

	// The same name in another group is fine.
	h.send("c-x", events.TypeJoin, events.JoinPayload{GroupID: "room-2"})
	msgs = h.send("c-x", events.TypeSetName, events.SetNamePayload{GroupID: "room-2", Name: "A"})
	if hasError(msgs) {
		t.Fatalf("name in another group rejected: %+v", msgs)
	}
}

func TestAnswerAsAnotherPlayerIgnored(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.player("c-b", "B")
	h.upload(8, events.Settings{MaxQuestions: 3, NumCards: 5})
	h.start(0, 0)

	if msgs := h.answer("c-b", "A", h.wrong(), 0); len(msgs) != 0 {
		t.Fatalf("spoofed answer produced %+v", msgs)
	}
	if a := playerView(t, h.group().Snapshot(), "A"); a.Health != score.DefaultHealth {
		t.Fatalf("A health = %d, spoofed answer must not count", a.Health)
	}
}

func TestUserCountAndGroupCleanup(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	msgs := h.reg.Dispatch(h.ctx, Inbound{Kind: KindConnect, ConnectionID: "c-b"})
	counts := ofType(msgs, events.TypeUserCount)
	if len(counts) != 1 || counts[0].Scope != ScopeAll {
		t.Fatalf("connect produced %+v, want user_count to all", msgs)
	}
	if c := counts[0].Payload.(events.UserCountPayload).Count; c != 2 {
		t.Fatalf("count = %d, want 2", c)
	}

	h.reg.Dispatch(h.ctx, Inbound{Kind: KindDisconnect, ConnectionID: "c-b"})
	msgs = h.reg.Dispatch(h.ctx, Inbound{Kind: KindDisconnect, ConnectionID: "c-a"})
	counts = ofType(msgs, events.TypeUserCount)
	if c := counts[0].Payload.(events.UserCountPayload).Count; c != 0 {
		t.Fatalf("count = %d, want 0", c)
	}
	if _, ok := h.reg.Group(groupID); ok {
		t.Fatal("empty group should be removed")
	}
}

func TestSetCardsAndSettingsReachesEveryGroup(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"g1", "g2"} {
		conn := "c-" + id
		h.reg.Dispatch(h.ctx, Inbound{Kind: KindConnect, ConnectionID: conn})
		h.send(conn, events.TypeJoin, events.JoinPayload{GroupID: id})
	}

	msgs := h.upload(12, events.Settings{MaxQuestions: 4, NumCards: 6, RevealPaceMs: 50})
	if len(ofType(msgs, events.TypeState)) != 2 {
		t.Fatalf("upload produced %+v, want a snapshot per group", msgs)
	}
	for _, id := range []string{"g1", "g2"} {
		g, _ := h.reg.Group(id)
		if snap := g.Snapshot(); snap.MaxQuestions != 4 || snap.RevealPaceMs != 50 {
			t.Fatalf("group %s snapshot = %+v, want uploaded settings", id, snap)
		}
		if _, err := g.Start(0, 0); err != nil {
			t.Fatalf("group %s start: %v", id, err)
		}
		if n := len(g.Snapshot().Current.Cards); n != 6 {
			t.Fatalf("group %s displays %d cards, want 6", id, n)
		}
	}

	// Groups created after the upload inherit it.
	h.reg.Dispatch(h.ctx, Inbound{Kind: KindConnect, ConnectionID: "late"})
	h.send("late", events.TypeJoin, events.JoinPayload{GroupID: "g3"})
	g3, _ := h.reg.Group("g3")
	if _, err := g3.Start(0, 0); err != nil {
		t.Fatalf("late group start: %v", err)
	}
	if summaries := h.reg.Groups(); len(summaries) != 3 || summaries[0].GroupID != "g1" {
		t.Fatalf("groups = %+v", summaries)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		env  events.Envelope
	}{
		{name: "unknown type", env: events.Envelope{Type: "dance", Data: json.RawMessage(`{}`)}},
		{name: "missing data", env: events.Envelope{Type: events.TypeJoin}},
		{name: "bad json", env: events.Envelope{Type: events.TypeAnswer, Data: json.RawMessage(`{"number": 5}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode("c", tt.env); !errors.Is(err, ErrBadRequest) {
				t.Fatalf("err = %v, want ErrBadRequest", err)
			}
		})
	}

	in, err := Decode("c", events.Envelope{Type: events.TypeLeave})
	if err != nil || in.Kind != KindLeave {
		t.Fatalf("leave decoded to %+v, %v", in, err)
	}
}

func TestGroupStartUsesDeckFromOptions(t *testing.T) {
	rows := make([]deck.Row, 0, 6)
	for _, r := range cardRows(6) {
		rows = append(rows, deck.Row{Number: r.Number, Term: r.Term, Text: r.Text})
	}
	d, err := deck.Build(rows)
	if err != nil {
		t.Fatalf("build deck: %v", err)
	}
	g := NewGroup("solo", d, DefaultSettings(), GroupOptions{Clock: clockwork.NewFakeClock()})

	if _, err := g.Start(0, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig for 6 cards with default numCards %d", err, DefaultNumCards)
	}
	if _, err := g.Start(5, 1); err != nil {
		t.Fatalf("Start(5,1): %v", err)
	}
}

func TestDispatchWithoutPayloadIsBadRequest(t *testing.T) {
	h := newHarness(t)
	msgs := h.reg.Dispatch(h.ctx, Inbound{Kind: KindAnswer, ConnectionID: "c-a"})
	if len(msgs) != 1 || msgs[0].Payload.(events.ErrorPayload).Code != events.ErrorBadRequest {
		t.Fatalf("msgs = %+v, want bad_request", msgs)
	}
}

func TestDisconnectedPlayerKeepsSeat(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.player("c-b", "B")
	h.upload(8, events.Settings{MaxQuestions: 3, NumCards: 5})
	h.start(0, 0)
	h.answer("c-b", "B", h.wrong(), 0)

	msgs := h.send("c-b", events.TypeLeave, struct{}{})
	states := ofType(msgs, events.TypeState)
	if len(states) != 1 {
		t.Fatalf("leave produced %+v, want a group snapshot", msgs)
	}
	if b := playerView(t, states[0].Payload.(events.StatePayload), "B"); !b.Away || !b.Locked {
		t.Fatalf("B = %+v, want away and still locked", b)
	}

	// Rejoining under the same name over the same socket restores the seat.
	h.send("c-b", events.TypeJoin, events.JoinPayload{GroupID: groupID})
	if msgs := h.send("c-b", events.TypeSetName, events.SetNamePayload{GroupID: groupID, Name: "B"}); hasError(msgs) {
		t.Fatalf("reclaim rejected: %+v", msgs)
	}
	b := playerView(t, h.group().Snapshot(), "B")
	if b.Health != score.DefaultHealth-score.DefaultMisclickPenalty || !b.Locked || b.Away {
		t.Fatalf("B = %+v, want health and lock kept", b)
	}
	if msgs := h.answer("c-b", "B", h.correct(), 0); len(msgs) != 0 {
		t.Fatalf("locked answer after rejoin produced %+v", msgs)
	}

	msgs = h.send("c-b", events.TypeSetName, events.SetNamePayload{GroupID: groupID, Name: "C"})
	if len(msgs) != 1 || msgs[0].Payload.(events.ErrorPayload).Code != events.ErrorBadRequest {
		t.Fatalf("rename mid-session = %+v, want bad_request", msgs)
	}

	// A seat still held by a live connection cannot be taken.
	h.reg.Dispatch(h.ctx, Inbound{Kind: KindConnect, ConnectionID: "c-x"})
	h.send("c-x", events.TypeJoin, events.JoinPayload{GroupID: groupID})
	msgs = h.send("c-x", events.TypeSetName, events.SetNamePayload{GroupID: groupID, Name: "B"})
	if len(msgs) != 1 || msgs[0].Payload.(events.ErrorPayload).Code != events.ErrorDuplicateName {
		t.Fatalf("msgs = %+v, want duplicate_name", msgs)
	}

	// Seats of players who never came back are dropped by the next reset.
	h.reg.Dispatch(h.ctx, Inbound{Kind: KindDisconnect, ConnectionID: "c-b"})
	msgs = h.send("c-a", events.TypeReset, events.ResetPayload{GroupID: groupID})
	snap := ofType(msgs, events.TypeState)[0].Payload.(events.StatePayload)
	if len(snap.Players) != 1 || snap.Players[0].Name != "A" {
		t.Fatalf("players after reset = %+v, want only A", snap.Players)
	}
}

func TestLeavingWithoutSessionRemovesPlayer(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.player("c-b", "B")

	msgs := h.send("c-b", events.TypeLeave, struct{}{})
	snap := ofType(msgs, events.TypeState)[0].Payload.(events.StatePayload)
	if len(snap.Players) != 1 || snap.Players[0].Name != "A" {
		t.Fatalf("players = %+v, want only A", snap.Players)
	}
}

func TestNewConfigurationAbandonsRunningSession(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.upload(8, events.Settings{MaxQuestions: 5, NumCards: 5})
	h.start(0, 0)
	for i := 0; i < 3; i++ {
		h.answer("c-a", "A", h.correct(), 0)
	}
	oldRound := h.group().ActiveRoundID()
	oldCorrect := h.correct()

	msgs := h.upload(8, events.Settings{MaxQuestions: 1, NumCards: 5})
	states := ofType(msgs, events.TypeState)
	if len(states) != 1 {
		t.Fatalf("upload produced %+v, want one snapshot", msgs)
	}
	snap := states[0].Payload.(events.StatePayload)
	if snap.QuestionCount != 0 || snap.MaxQuestions != 1 || snap.Current != nil || snap.Ended {
		t.Fatalf("snapshot = %+v, want pre-start state under the new settings", snap)
	}
	if msgs := h.answer("c-a", "A", oldCorrect, oldRound); len(msgs) != 0 {
		t.Fatalf("answer to the abandoned round produced %+v", msgs)
	}

	h.start(0, 0)
	msgs = h.answer("c-a", "A", h.correct(), 0)
	if len(ofType(msgs, events.TypeEnd)) != 1 {
		t.Fatalf("msgs = %+v, want the session to end after the new single question", msgs)
	}

	// An ended session is cleared the same way.
	h.upload(8, events.Settings{MaxQuestions: 2, NumCards: 5})
	if snap := h.group().Snapshot(); snap.Ended || snap.QuestionCount != 0 || snap.MaxQuestions != 2 {
		t.Fatalf("snapshot = %+v, want ended flag cleared", snap)
	}
}

func TestLastPlayerEliminatedEndsSession(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.upload(8, events.Settings{MaxQuestions: 3, NumCards: 5})
	h.start(0, 0)

	misclicks := score.DefaultHealth / score.DefaultMisclickPenalty
	for i := 1; i < misclicks; i++ {
		if msgs := h.answer("c-a", "A", h.wrong(), 0); len(ofType(msgs, events.TypeEnd)) != 0 {
			t.Fatalf("session ended after %d misclicks", i)
		}
		h.clock.Advance(lock.DefaultDuration)
	}

	msgs := h.answer("c-a", "A", h.wrong(), 0)
	ends := ofType(msgs, events.TypeEnd)
	if len(ends) != 1 {
		t.Fatalf("final misclick produced %+v, want end", msgs)
	}
	if end := ends[0].Payload.(events.EndPayload); len(end.Players) != 1 || end.Players[0].Health != 0 {
		t.Fatalf("ranking = %+v", end.Players)
	}
	if g := h.group(); !g.Ended() || g.ActiveRoundID() != 0 {
		t.Fatal("session should be ended with no active round")
	}
}

func TestEliminationEndsOnlyWhenNobodyIsLeft(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.player("c-b", "B")
	h.upload(8, events.Settings{MaxQuestions: 3, NumCards: 5})
	h.start(0, 0)

	for i := 0; i < score.DefaultHealth/score.DefaultMisclickPenalty; i++ {
		if msgs := h.answer("c-b", "B", h.wrong(), 0); len(ofType(msgs, events.TypeEnd)) != 0 {
			t.Fatalf("session ended while A can still play: %+v", msgs)
		}
		h.clock.Advance(lock.DefaultDuration)
	}
	if b := playerView(t, h.group().Snapshot(), "B"); !b.Eliminated {
		t.Fatalf("B = %+v, want eliminated", b)
	}
	if msgs := h.answer("c-a", "A", h.correct(), 0); len(ofType(msgs, events.TypeState)) != 2 {
		t.Fatalf("A's answer produced %+v, want resolution", msgs)
	}
}

func TestJoiningAnotherGroupRefreshesOldGroup(t *testing.T) {
	h := newHarness(t)
	h.player("c-a", "A")
	h.player("c-b", "B")

	msgs := h.send("c-b", events.TypeJoin, events.JoinPayload{GroupID: "room-2"})
	var old, joined *events.StatePayload
	for _, m := range ofType(msgs, events.TypeState) {
		s := m.Payload.(events.StatePayload)
		switch {
		case m.Scope == ScopeGroup && m.GroupID == groupID:
			old = &s
		case m.Scope == ScopeConnection && m.ConnectionID == "c-b":
			joined = &s
		}
	}
	if old == nil || len(old.Players) != 1 || old.Players[0].Name != "A" {
		t.Fatalf("old group snapshot = %+v, want only A", old)
	}
	if joined == nil || joined.GroupID != "room-2" {
		t.Fatalf("joined snapshot = %+v, want room-2", joined)
	}
}
