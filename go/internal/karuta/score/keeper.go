package score

import (
	"github.com/rs/zerolog/log"
)

const (
	// DefaultHealth is the health every player starts a session with
	DefaultHealth = 20
	// DefaultMisclickPenalty is the health lost per wrong answer
	DefaultMisclickPenalty = 1
	// DefaultWinnerBonus is the health gained by resolving a round
	DefaultWinnerBonus = 0
)

// Config holds the tunable scoring rules
type Config struct {
	StartingHealth int
	Penalty        int
	WinnerBonus    int
}

// DefaultConfig returns the standard scoring rules
func DefaultConfig() Config {
	return Config{
		StartingHealth: DefaultHealth,
		Penalty:        DefaultMisclickPenalty,
		WinnerBonus:    DefaultWinnerBonus,
	}
}

// Keeper owns the health of every player in a group.
// It is not safe for concurrent use; the owning group serializes access.
type Keeper struct {
	config Config
	health map[string]int
}

// NewKeeper creates an empty keeper
func NewKeeper(config Config) *Keeper {
	if config.StartingHealth <= 0 {
		config.StartingHealth = DefaultHealth
	}
	if config.Penalty < 0 {
		config.Penalty = 0
	}
	if config.WinnerBonus < 0 {
		config.WinnerBonus = 0
	}
	return &Keeper{
		config: config,
		health: make(map[string]int),
	}
}

// Add registers a player at starting health. Existing players are left alone.
func (k *Keeper) Add(name string) {
	if _, ok := k.health[name]; ok {
		return
	}
	k.health[name] = k.config.StartingHealth
}

// Remove forgets a player
func (k *Keeper) Remove(name string) {
	delete(k.health, name)
}

// Health returns a player's current health
func (k *Keeper) Health(name string) (int, bool) {
	h, ok := k.health[name]
	return h, ok
}

// Eliminated reports whether a player's health has hit the floor
func (k *Keeper) Eliminated(name string) bool {
	h, ok := k.health[name]
	return ok && h <= 0
}

// Penalize charges a misclick against a player and returns the new health
func (k *Keeper) Penalize(name string) int {
	h, ok := k.health[name]
	if !ok {
		return 0
	}
	h -= k.config.Penalty
	if h < 0 {
		h = 0
	}
	k.health[name] = h

	if h == 0 {
		log.Info().Str("player", name).Msg("player eliminated")
	}
	return h
}

// Award credits a round win and returns the new health
func (k *Keeper) Award(name string) int {
	h, ok := k.health[name]
	if !ok {
		return 0
	}
	h += k.config.WinnerBonus
	k.health[name] = h
	return h
}

// Reset restores every player to starting health
func (k *Keeper) Reset() {
	for name := range k.health {
		k.health[name] = k.config.StartingHealth
	}
}

// StartingHealth returns the configured starting health
func (k *Keeper) StartingHealth() int {
	return k.config.StartingHealth
}
