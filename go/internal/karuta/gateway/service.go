package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/karuta/go/internal/karuta/session"
	"github.com/rs/zerolog/log"
)

// Service is the karuta gateway: websocket connections, state endpoints and the optional NATS relay
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	relay             *Relay
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConfig
	// Clock drives unlock notifications; nil means the real clock
	Clock clockwork.Clock
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConfig(),
	}
}

// NewService wires the gateway to the registry. The relay is only created when a NATS URL is set.
func NewService(config Config, registry *session.Registry) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, registry)
	connectionManager.SetUnlockScheduler(NewUnlockScheduler(config.Clock, registry, connectionManager.Deliver))

	s := &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		stateHandler:      NewStateHandler(registry),
	}

	if config.JetStreamConfig.Mirror && config.JetStreamConfig.URL == "" {
		return nil, errors.New("mirror mode needs a NATS URL")
	}
	if config.JetStreamConfig.URL != "" {
		relay, err := NewRelay(connectionManager, config.JetStreamConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay: %w", err)
		}
		if config.JetStreamConfig.Mirror {
			connectionManager.SetMirror()
		} else {
			connectionManager.SetPublisher(relay)
		}
		s.relay = relay
	}

	return s, nil
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().
		Bool("relay", s.relay != nil).
		Bool("mirror", s.connectionManager.mirror).
		Msg("starting karuta gateway service")

	go s.connectionManager.Start(ctx)

	if s.relay != nil {
		go func() {
			if err := s.relay.Start(ctx); err != nil {
				log.Error().Err(err).Msg("relay consumer failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("karuta gateway service shutting down")
	return s.Stop()
}

// Stop releases the relay connection
func (s *Service) Stop() error {
	if s.relay != nil {
		if err := s.relay.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop relay")
		}
	}
	log.Info().Msg("karuta gateway service stopped")
	return nil
}

// RegisterRoutes registers the websocket and state routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("karuta gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// Deliver pushes messages produced outside a websocket, such as admin actions
func (s *Service) Deliver(ctx context.Context, msgs []session.Outbound) {
	s.connectionManager.Deliver(ctx, msgs)
}
