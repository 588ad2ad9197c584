package session

import (
	"fmt"

	"github.com/mcdev12/karuta/go/internal/karuta/events"
	"github.com/mcdev12/karuta/go/internal/karuta/round"
)

const (
	DefaultMaxQuestions = 10
	DefaultNumCards     = 7
	DefaultRevealPaceMs = 80
)

// Settings configures a group's game
type Settings struct {
	MaxQuestions int `yaml:"max_questions"`
	NumCards     int `yaml:"num_cards"`
	RevealPaceMs int `yaml:"reveal_pace_ms"`
}

// DefaultSettings returns the settings used before any upload
func DefaultSettings() Settings {
	return Settings{
		MaxQuestions: DefaultMaxQuestions,
		NumCards:     DefaultNumCards,
		RevealPaceMs: DefaultRevealPaceMs,
	}
}

// Validate checks the bounds, and the deck size when deckLen >= 0
func (s Settings) Validate(deckLen int) error {
	if s.NumCards < round.MinCards || s.NumCards > round.MaxCards {
		return fmt.Errorf("numCards must be between %d and %d, got %d: %w", round.MinCards, round.MaxCards, s.NumCards, ErrInvalidConfig)
	}
	if s.MaxQuestions < 1 {
		return fmt.Errorf("maxQuestions must be at least 1, got %d: %w", s.MaxQuestions, ErrInvalidConfig)
	}
	if s.RevealPaceMs < 0 {
		return fmt.Errorf("revealPaceMs must not be negative: %w", ErrInvalidConfig)
	}
	if deckLen >= 0 && deckLen < s.NumCards {
		return fmt.Errorf("deck has %d cards, need at least %d: %w", deckLen, s.NumCards, ErrInvalidConfig)
	}
	return nil
}

func settingsFromWire(w events.Settings, fallback Settings) Settings {
	s := Settings{
		MaxQuestions: w.MaxQuestions,
		NumCards:     w.NumCards,
		RevealPaceMs: w.RevealPaceMs,
	}
	if s.MaxQuestions == 0 {
		s.MaxQuestions = fallback.MaxQuestions
	}
	if s.NumCards == 0 {
		s.NumCards = fallback.NumCards
	}
	return s
}
