package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mcdev12/karuta/go/internal/karuta/deck"
	"github.com/mcdev12/karuta/go/internal/karuta/session"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds the process settings read from the environment
type Config struct {
	Port       string `env:"KARUTA_PORT" envDefault:"8080"`
	ConfigFile string `env:"KARUTA_CONFIG_FILE"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// NATS relay, disabled when NATSURL is empty
	NATSURL           string `env:"NATS_URL"`
	NATSStream        string `env:"NATS_STREAM" envDefault:"KARUTA_GROUPS"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"karuta.groups"`
	// NATSMirror serves spectators from the relay without running games
	NATSMirror bool `env:"NATS_MIRROR" envDefault:"false"`

	LockDuration    time.Duration `env:"LOCK_DURATION" envDefault:"3s"`
	MisclickPenalty int           `env:"MISCLICK_PENALTY" envDefault:"1"`
	DefaultHealth   int           `env:"DEFAULT_HEALTH" envDefault:"20"`
	WinnerBonus     int           `env:"WINNER_BONUS" envDefault:"0"`
}

// Game is the optional YAML game file
type Game struct {
	Settings session.Settings `yaml:"settings"`
	// Deck is a YAML or CSV deck path, relative to the game file
	Deck string `yaml:"deck"`
}

// ParseEnv loads configuration from environment variables
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads Config from the environment and validates it
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with
func (c Config) Validate() error {
	if c.LockDuration <= 0 {
		return fmt.Errorf("LOCK_DURATION must be positive, got %s", c.LockDuration)
	}
	if c.MisclickPenalty < 0 {
		return fmt.Errorf("MISCLICK_PENALTY must not be negative, got %d", c.MisclickPenalty)
	}
	if c.DefaultHealth <= 0 {
		return fmt.Errorf("DEFAULT_HEALTH must be positive, got %d", c.DefaultHealth)
	}
	if c.WinnerBonus < 0 {
		return fmt.Errorf("WINNER_BONUS must not be negative, got %d", c.WinnerBonus)
	}
	if c.NATSMirror && c.NATSURL == "" {
		return fmt.Errorf("NATS_MIRROR needs NATS_URL")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Level returns the zerolog level for LOG_LEVEL
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// LoadGame reads the game file. Missing settings fall back to the defaults and the deck,
// when named, must satisfy them.
func LoadGame(path string) (session.Settings, deck.Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Settings{}, deck.Deck{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var game Game
	if err := yaml.Unmarshal(data, &game); err != nil {
		return session.Settings{}, deck.Deck{}, fmt.Errorf("failed to parse config: %w", err)
	}

	settings := session.DefaultSettings()
	if game.Settings.MaxQuestions != 0 {
		settings.MaxQuestions = game.Settings.MaxQuestions
	}
	if game.Settings.NumCards != 0 {
		settings.NumCards = game.Settings.NumCards
	}
	if game.Settings.RevealPaceMs != 0 {
		settings.RevealPaceMs = game.Settings.RevealPaceMs
	}

	if game.Deck == "" {
		return settings, deck.Deck{}, settings.Validate(-1)
	}

	deckPath := game.Deck
	if !filepath.IsAbs(deckPath) {
		deckPath = filepath.Join(filepath.Dir(path), deckPath)
	}
	d, err := deck.Load(deckPath)
	if err != nil {
		return session.Settings{}, deck.Deck{}, err
	}
	if err := settings.Validate(d.Len()); err != nil {
		return session.Settings{}, deck.Deck{}, err
	}
	return settings, d, nil
}
