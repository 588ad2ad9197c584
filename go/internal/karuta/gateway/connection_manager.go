package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/karuta/go/internal/karuta/events"
	"github.com/mcdev12/karuta/go/internal/karuta/session"
	"github.com/rs/zerolog/log"
)

var errReadOnlyMirror = errors.New("read-only mirror, play on the game instance")

// Dispatcher is the part of the session registry the gateway drives
type Dispatcher interface {
	Dispatch(ctx context.Context, in session.Inbound) []session.Outbound
	GroupOf(connID string) (string, bool)
}

// GroupPublisher fans group messages out to every gateway instance.
// Exactly one instance runs the game of a group; the others mirror it.
type GroupPublisher interface {
	Publish(ctx context.Context, groupID string, msgType events.MessageType, data []byte) error
}

// ConnectionManager manages the websocket connections of every group
type ConnectionManager struct {
	// Connection pools organized by group ID
	groupConnections map[string]map[*Connection]bool
	connections      map[string]*Connection
	mu               sync.RWMutex

	upgrader   websocket.Upgrader
	config     ConnectionConfig
	dispatcher Dispatcher
	publisher  GroupPublisher
	unlocks    *UnlockScheduler

	broadcastCh chan broadcastMessage

	// instanceID tags relayed messages with the instance that produced them
	instanceID string
	// mirror instances run no games and only relay group messages to spectators
	mirror bool

	ctx context.Context
}

// Connection represents a websocket connection to a player or spectator
type Connection struct {
	ID      string
	GroupID string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for websocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	scope        session.Scope
	groupID      string
	connectionID string
	data         []byte
	msgType      events.MessageType
}

// ConnectionStats is a point-in-time view of the connection pools
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveGroups     int            `json:"active_groups"`
	GroupConnections map[string]int `json:"group_connections"`
}

// DefaultConnectionConfig returns default websocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // decks arrive in one message
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager that feeds inbound messages to dispatcher
func NewConnectionManager(config ConnectionConfig, dispatcher Dispatcher) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &ConnectionManager{
		groupConnections: make(map[string]map[*Connection]bool),
		connections:      make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		dispatcher:  dispatcher,
		broadcastCh: make(chan broadcastMessage, 1000),
		instanceID:  uuid.New().String(),
		ctx:         context.Background(),
	}
}

// SetPublisher routes group messages through p instead of delivering them locally.
// Must be called before Start.
func (cm *ConnectionManager) SetPublisher(p GroupPublisher) {
	cm.publisher = p
}

// SetMirror turns the manager into a read-only mirror: connections watch a group
// and every client message except join is rejected. Must be called before Start.
func (cm *ConnectionManager) SetMirror() {
	cm.mirror = true
}

// InstanceID identifies this gateway instance on the relay
func (cm *ConnectionManager) InstanceID() string {
	return cm.instanceID
}

// SetUnlockScheduler makes Deliver schedule a snapshot for every lock it routes.
// Must be called before Start.
func (cm *ConnectionManager) SetUnlockScheduler(s *UnlockScheduler) {
	cm.unlocks = s
}

// Start processes queued broadcasts until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	cm.mu.Lock()
	cm.ctx = ctx
	cm.mu.Unlock()

	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

func (cm *ConnectionManager) baseContext() context.Context {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.ctx
}

// UpgradeConnection upgrades the request and joins groupID as name when they are set
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, groupID, name string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: now,
		LastPing:    now,
	}
	cm.registerConnection(connection)

	// Replies queue in Send until the pumps run.
	if cm.mirror {
		cm.moveToGroup(connection, strings.TrimSpace(groupID))
	} else {
		cm.dispatch(connection, session.Inbound{Kind: session.KindConnect, ConnectionID: connection.ID})
		cm.joinFromQuery(connection, groupID, name)
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("group_id", groupID).
		Str("player", name).
		Msg("websocket connection established")
	return nil
}

func (cm *ConnectionManager) joinFromQuery(conn *Connection, groupID, name string) {
	if groupID == "" {
		return
	}
	cm.dispatch(conn, session.Inbound{
		Kind:         session.KindJoin,
		ConnectionID: conn.ID,
		Join:         &events.JoinPayload{GroupID: groupID},
	})
	if name != "" {
		cm.dispatch(conn, session.Inbound{
			Kind:         session.KindSetName,
			ConnectionID: conn.ID,
			SetName:      &events.SetNamePayload{GroupID: groupID, Name: name},
		})
	}
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn.ID] = conn
}

// unregisterConnection removes the connection and reports whether it was still registered
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.connections[conn.ID]; !ok {
		return false
	}
	delete(cm.connections, conn.ID)
	cm.removeFromGroupLocked(conn)
	close(conn.Send)

	log.Info().
		Str("connection_id", conn.ID).
		Msg("connection unregistered")
	return true
}

func (cm *ConnectionManager) removeFromGroupLocked(conn *Connection) {
	pool, ok := cm.groupConnections[conn.GroupID]
	if !ok {
		return
	}
	delete(pool, conn)
	if len(pool) == 0 {
		delete(cm.groupConnections, conn.GroupID)
	}
}

// syncGroup moves the connection into the pool of the group the registry has it in
func (cm *ConnectionManager) syncGroup(conn *Connection) {
	groupID, _ := cm.dispatcher.GroupOf(conn.ID)
	cm.moveToGroup(conn, groupID)
}

// moveToGroup puts the connection in the pool of groupID, or in none when it is empty
func (cm *ConnectionManager) moveToGroup(conn *Connection, groupID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.connections[conn.ID]; !ok || conn.GroupID == groupID {
		return
	}
	cm.removeFromGroupLocked(conn)
	conn.GroupID = groupID
	if groupID == "" {
		return
	}
	if cm.groupConnections[groupID] == nil {
		cm.groupConnections[groupID] = make(map[*Connection]bool)
	}
	cm.groupConnections[groupID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("group_id", groupID).
		Int("group_connections", len(cm.groupConnections[groupID])).
		Msg("connection moved")
}

// dispatch hands one inbound message to the registry and delivers the result.
// Group membership is synced before delivery so a joining connection sees its first snapshot.
func (cm *ConnectionManager) dispatch(conn *Connection, in session.Inbound) {
	ctx := cm.baseContext()
	msgs := cm.dispatcher.Dispatch(ctx, in)
	cm.syncGroup(conn)
	cm.Deliver(ctx, msgs)
}

// Deliver routes outbound messages to their scope
func (cm *ConnectionManager) Deliver(ctx context.Context, msgs []session.Outbound) {
	for _, m := range msgs {
		if lock, ok := m.Payload.(events.LockPayload); ok && cm.unlocks != nil {
			cm.unlocks.Schedule(ctx, m.GroupID, lock.Name, lock.ExpiresAt)
		}

		env, err := m.Envelope()
		if err != nil {
			log.Error().Err(err).Str("type", string(m.Type)).Msg("failed to build envelope")
			continue
		}
		data, err := json.Marshal(env)
		if err != nil {
			log.Error().Err(err).Str("type", string(m.Type)).Msg("failed to marshal envelope")
			continue
		}

		if m.Scope == session.ScopeGroup && cm.publisher != nil {
			err := cm.publisher.Publish(ctx, m.GroupID, m.Type, data)
			if err == nil {
				continue
			}
			log.Warn().Err(err).Str("group_id", m.GroupID).Msg("relay publish failed, delivering locally")
		}
		cm.enqueue(broadcastMessage{
			scope:        m.Scope,
			groupID:      m.GroupID,
			connectionID: m.ConnectionID,
			data:         data,
			msgType:      m.Type,
		})
	}
}

// BroadcastToGroup queues an already encoded envelope for every local connection of groupID
func (cm *ConnectionManager) BroadcastToGroup(groupID string, data []byte) {
	cm.enqueue(broadcastMessage{scope: session.ScopeGroup, groupID: groupID, data: data})
}

// ReceiveRelayed delivers a group message consumed from the relay. A game instance only
// delivers its own messages, so its sockets never mix two games for one group id.
// It reports whether the message was delivered.
func (cm *ConnectionManager) ReceiveRelayed(origin, groupID string, data []byte) bool {
	if !cm.mirror && origin != cm.instanceID {
		log.Warn().
			Str("group_id", groupID).
			Str("origin", origin).
			Msg("dropping group message from another game instance")
		return false
	}
	cm.BroadcastToGroup(groupID, data)
	return true
}

func (cm *ConnectionManager) enqueue(m broadcastMessage) {
	select {
	case cm.broadcastCh <- m:
	default:
		log.Warn().
			Str("group_id", m.groupID).
			Str("connection_id", m.connectionID).
			Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	switch message.scope {
	case session.ScopeGroup:
		for conn := range cm.groupConnections[message.groupID] {
			targets = append(targets, conn)
		}
	case session.ScopeConnection:
		if conn, ok := cm.connections[message.connectionID]; ok {
			targets = append(targets, conn)
		}
	case session.ScopeAll:
		for _, conn := range cm.connections {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		cm.send(conn, message.data)
	}

	log.Debug().
		Str("type", string(message.msgType)).
		Str("group_id", message.groupID).
		Int("connections", len(targets)).
		Msg("message delivered")
}

func (cm *ConnectionManager) send(conn *Connection, data []byte) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	// Send is closed once the connection leaves the map.
	if _, ok := cm.connections[conn.ID]; !ok {
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		conn.Conn.Close()
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(cm.connections),
		ActiveGroups:     len(cm.groupConnections),
		GroupConnections: make(map[string]int, len(cm.groupConnections)),
	}
	for groupID, pool := range cm.groupConnections {
		stats.GroupConnections[groupID] = len(pool)
	}
	return stats
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump owns the connection lifetime: when it returns the player is gone
func (c *Connection) readPump() {
	defer func() {
		c.Conn.Close()
		if c.Manager.unregisterConnection(c) && !c.Manager.mirror {
			ctx := c.Manager.baseContext()
			c.Manager.Deliver(ctx, c.Manager.dispatcher.Dispatch(ctx, session.Inbound{
				Kind:         session.KindDisconnect,
				ConnectionID: c.ID,
			}))
		}
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.reject(fmt.Errorf("malformed envelope: %w", err))
		return
	}
	in, err := session.Decode(c.ID, env)
	if err != nil {
		c.reject(err)
		return
	}
	if c.Manager.mirror {
		if in.Kind != session.KindJoin || in.Join == nil {
			c.reject(fmt.Errorf("%s: %w", in.Kind, errReadOnlyMirror))
			return
		}
		c.Manager.moveToGroup(c, strings.TrimSpace(in.Join.GroupID))
		return
	}
	c.Manager.dispatch(c, in)
}

func (c *Connection) reject(err error) {
	log.Debug().Err(err).Str("connection_id", c.ID).Msg("rejected client message")
	c.Manager.Deliver(c.Manager.baseContext(), []session.Outbound{{
		Scope:        session.ScopeConnection,
		ConnectionID: c.ID,
		Type:         events.TypeError,
		Payload:      events.ErrorPayload{Code: events.ErrorBadRequest, Message: err.Error()},
	}})
}
