package main

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/karuta/go/internal/config"
	"github.com/mcdev12/karuta/go/internal/karuta/admin"
	"github.com/mcdev12/karuta/go/internal/karuta/deck"
	"github.com/mcdev12/karuta/go/internal/karuta/gateway"
	"github.com/mcdev12/karuta/go/internal/karuta/score"
	"github.com/mcdev12/karuta/go/internal/karuta/session"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Registry *session.Registry
	Gateway  *gateway.Service
	Admin    *admin.Service
}

func setupServices(cfg config.Config) (*Services, error) {
	// Game file → Registry → Gateway → Admin
	settings := session.DefaultSettings()
	var defaultDeck deck.Deck
	if cfg.ConfigFile != "" {
		var err error
		settings, defaultDeck, err = config.LoadGame(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load game file: %w", err)
		}
		log.Info().
			Str("file", cfg.ConfigFile).
			Int("cards", defaultDeck.Len()).
			Msg("loaded game file")
	}

	clock := clockwork.NewRealClock()
	registry := session.NewRegistry(session.Options{
		Clock: clock,
		Score: score.Config{
			StartingHealth: cfg.DefaultHealth,
			Penalty:        cfg.MisclickPenalty,
			WinnerBonus:    cfg.WinnerBonus,
		},
		LockDuration: cfg.LockDuration,
		Settings:     settings,
		Deck:         defaultDeck,
	})

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.Clock = clock
	gatewayConfig.JetStreamConfig.URL = cfg.NATSURL
	gatewayConfig.JetStreamConfig.StreamName = cfg.NATSStream
	gatewayConfig.JetStreamConfig.SubjectPrefix = cfg.NATSSubjectPrefix
	gatewayConfig.JetStreamConfig.Mirror = cfg.NATSMirror

	gatewayService, err := gateway.NewService(gatewayConfig, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &Services{
		Registry: registry,
		Gateway:  gatewayService,
		Admin:    admin.NewService(registry, gatewayService),
	}, nil
}
