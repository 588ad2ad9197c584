package deck

import (
	"errors"
	"strings"
)

// ErrEmpty is returned when no usable card survives row filtering
var ErrEmpty = errors.New("deck has no usable cards")

// Card is a single karuta card. Number identifies the card and is what answers are compared against.
type Card struct {
	Number string `json:"number" yaml:"number"`
	Term   string `json:"term" yaml:"term"`
	Text   string `json:"text" yaml:"text"`
}

// Row is one uploaded tabular row before validation
type Row struct {
	Number string `json:"number" yaml:"number"`
	Term   string `json:"term" yaml:"term"`
	Text   string `json:"text" yaml:"text"`
}

// Complete reports whether number, term and text are all non-blank
func (r Row) Complete() bool {
	c := r.card()
	return c.Number != "" && c.Term != "" && c.Text != ""
}

func (r Row) card() Card {
	return Card{
		Number: strings.TrimSpace(r.Number),
		Term:   strings.TrimSpace(r.Term),
		Text:   strings.TrimSpace(r.Text),
	}
}

// Deck is an ordered, deduplicated, read-only card list
type Deck struct {
	cards []Card
	index map[string]int
}

// Build validates rows into a Deck.
// Fields are trimmed, rows missing number, term or text are dropped and
// duplicate numbers keep their first occurrence.
func Build(rows []Row) (Deck, error) {
	d := Deck{index: make(map[string]int, len(rows))}
	for _, r := range rows {
		if !r.Complete() {
			continue
		}
		c := r.card()
		if _, dup := d.index[c.Number]; dup {
			continue
		}
		d.index[c.Number] = len(d.cards)
		d.cards = append(d.cards, c)
	}
	if len(d.cards) == 0 {
		return Deck{}, ErrEmpty
	}
	return d, nil
}

// Len returns the number of cards
func (d Deck) Len() int {
	return len(d.cards)
}

// Card returns the i-th card in load order
func (d Deck) Card(i int) Card {
	return d.cards[i]
}

// Cards returns a copy of the cards in load order
func (d Deck) Cards() []Card {
	out := make([]Card, len(d.cards))
	copy(out, d.cards)
	return out
}

// Lookup finds a card by its number
func (d Deck) Lookup(number string) (Card, bool) {
	i, ok := d.index[strings.TrimSpace(number)]
	if !ok {
		return Card{}, false
	}
	return d.cards[i], true
}
