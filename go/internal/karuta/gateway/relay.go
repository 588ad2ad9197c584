package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/karuta/go/internal/karuta/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	groupIDHeader  = "Group-ID"
	instanceHeader = "Instance-ID"
)

// JetStreamConfig holds configuration for the group relay
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string // messages go to <prefix>.<group>.<type>
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
	Replicas      int
	// Mirror instances consume the stream for spectators and never publish
	Mirror bool
}

// DefaultJetStreamConfig returns default relay configuration. An empty URL disables the relay.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		StreamName:    "KARUTA_GROUPS",
		SubjectPrefix: "karuta.groups",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        time.Hour,
		Replicas:      1,
	}
}

// Relay publishes the group messages of the game instance to JetStream and delivers what it
// consumes to local connections. Games live in one instance's registry: other instances
// serve spectators as mirrors.
type Relay struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
	cm     *ConnectionManager
}

// NewRelay connects to NATS and makes sure the stream exists
func NewRelay(cm *ConnectionManager, config JetStreamConfig) (*Relay, error) {
	opts := []nats.Option{
		nats.Name("karuta-gateway"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	r := &Relay{nc: nc, js: js, config: config, cm: cm}
	if err := r.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return r, nil
}

func (r *Relay) ensureStream(ctx context.Context) error {
	_, err := r.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        r.config.StreamName,
		Description: "Karuta group broadcasts",
		Subjects:    []string{r.config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      r.config.MaxAge,
		Storage:     jetstream.MemoryStorage,
		Replicas:    r.config.Replicas,
	})
	if err != nil {
		return err
	}
	log.Info().Str("stream", r.config.StreamName).Msg("JetStream stream ready")
	return nil
}

// Publish sends an encoded envelope to every instance serving groupID
func (r *Relay) Publish(ctx context.Context, groupID string, msgType events.MessageType, data []byte) error {
	msgID := uuid.New().String()
	msg := &nats.Msg{
		Subject: subjectFor(r.config.SubjectPrefix, groupID, msgType),
		Data:    data,
		Header: nats.Header{
			groupIDHeader:  []string{groupID},
			instanceHeader: []string{r.cm.InstanceID()},
		},
	}
	ack, err := r.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(msgID),
		jetstream.WithExpectStream(r.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("group_id", groupID).
		Uint64("sequence", ack.Sequence).
		Msg("published group message")
	return nil
}

// Start consumes new group messages until ctx is done
func (r *Relay) Start(ctx context.Context) error {
	consumer, err := r.js.OrderedConsumer(ctx, r.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{r.config.SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := r.processMessage(msg); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process relay message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	log.Info().
		Str("stream", r.config.StreamName).
		Str("subjects", r.config.SubjectPrefix+".>").
		Msg("relay consumer started")

	<-ctx.Done()
	log.Info().Msg("relay consumer shutting down")
	return nil
}

func (r *Relay) processMessage(msg jetstream.Msg) error {
	groupID := msg.Headers().Get(groupIDHeader)
	if groupID == "" {
		return errors.New("message has no group id header")
	}
	r.cm.ReceiveRelayed(msg.Headers().Get(instanceHeader), groupID, msg.Data())
	return nil
}

// Stop closes the NATS connection
func (r *Relay) Stop() error {
	log.Info().Msg("stopping relay")
	if r.nc == nil {
		return nil
	}
	return r.nc.Drain()
}

// subjectFor maps a group onto one subject token. Group ids are free text,
// so characters NATS treats specially are replaced; the exact id travels in a header.
func subjectFor(prefix, groupID string, msgType events.MessageType) string {
	token := strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '*' || r == '>':
			return '_'
		case r <= ' ' || r == 0x7f:
			return '_'
		}
		return r
	}, groupID)
	if token == "" {
		token = "_"
	}
	return prefix + "." + token + "." + string(msgType)
}
