package round

import (
	"time"

	"github.com/mcdev12/karuta/go/internal/karuta/deck"
)

// State is the lifecycle position of a round
type State string

const (
	StateBuilding State = "BUILDING"
	StateOpen     State = "OPEN"
	StateResolved State = "RESOLVED"
)

const (
	MinCards = 5
	MaxCards = 10
)

// Misclick records one wrong answer
type Misclick struct {
	PlayerName string `json:"name"`
	CardNumber string `json:"number"`
}

// Round is one prompt and its displayed candidate cards
type Round struct {
	ID            int64
	Prompt        deck.Card
	Displayed     []deck.Card
	CorrectNumber string
	Resolved      bool
	ResolvedBy    string
	Misclicks     []Misclick
	OpenedAt      time.Time
	ResolvedAt    time.Time
}

// State returns where the round is in its lifecycle
func (r *Round) State() State {
	switch {
	case r == nil || len(r.Displayed) == 0:
		return StateBuilding
	case r.Resolved:
		return StateResolved
	default:
		return StateOpen
	}
}

// IsCorrect reports whether a displayed card is the answer
func (r *Round) IsCorrect(c deck.Card) bool {
	return c.Number == r.CorrectNumber
}

// History remembers which prompts a session has already used
type History map[string]struct{}

// Used reports whether the card has been a prompt
func (h History) Used(number string) bool {
	_, ok := h[number]
	return ok
}

// Mark records a card as used
func (h History) Mark(number string) {
	h[number] = struct{}{}
}

// Reset forgets every used prompt
func (h History) Reset() {
	clear(h)
}
