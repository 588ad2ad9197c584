package session

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/karuta/go/internal/karuta/events"
)

// Kind is the type of an inbound message
type Kind int

const (
	KindConnect Kind = iota
	KindDisconnect
	KindJoin
	KindSetName
	KindSetCardsAndSettings
	KindStart
	KindAnswer
	KindReset
	KindLeave
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindJoin:
		return string(events.TypeJoin)
	case KindSetName:
		return string(events.TypeSetName)
	case KindSetCardsAndSettings:
		return string(events.TypeSetCardsAndSettings)
	case KindStart:
		return string(events.TypeStart)
	case KindAnswer:
		return string(events.TypeAnswer)
	case KindReset:
		return string(events.TypeReset)
	case KindLeave:
		return string(events.TypeLeave)
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Inbound is a decoded client message. Exactly one payload field is set, matching Kind.
type Inbound struct {
	Kind         Kind
	ConnectionID string

	Join             *events.JoinPayload
	SetName          *events.SetNamePayload
	CardsAndSettings *events.CardsAndSettingsPayload
	Start            *events.StartPayload
	Answer           *events.AnswerPayload
	Reset            *events.ResetPayload
}

// Scope says who an outbound message is delivered to
type Scope int

const (
	// ScopeGroup delivers to every connection in GroupID
	ScopeGroup Scope = iota
	// ScopeConnection delivers to ConnectionID only
	ScopeConnection
	// ScopeAll delivers to every live connection
	ScopeAll
)

// Outbound is a message produced by a state transition
type Outbound struct {
	Scope        Scope
	GroupID      string
	ConnectionID string
	Type         events.MessageType
	Payload      any
}

// Envelope encodes the message for the wire
func (o Outbound) Envelope() (events.Envelope, error) {
	data, err := json.Marshal(o.Payload)
	if err != nil {
		return events.Envelope{}, fmt.Errorf("marshal %s payload: %w", o.Type, err)
	}
	return events.Envelope{Type: o.Type, Data: data}, nil
}

func toGroup(groupID string, t events.MessageType, payload any) Outbound {
	return Outbound{Scope: ScopeGroup, GroupID: groupID, Type: t, Payload: payload}
}

func toConnection(groupID, connID string, t events.MessageType, payload any) Outbound {
	return Outbound{Scope: ScopeConnection, GroupID: groupID, ConnectionID: connID, Type: t, Payload: payload}
}

func (in Inbound) missingPayload() bool {
	switch in.Kind {
	case KindJoin:
		return in.Join == nil
	case KindSetName:
		return in.SetName == nil
	case KindSetCardsAndSettings:
		return in.CardsAndSettings == nil
	case KindStart:
		return in.Start == nil
	case KindAnswer:
		return in.Answer == nil
	case KindReset:
		return in.Reset == nil
	}
	return false
}

// Decode turns a websocket envelope into an Inbound for connID
func Decode(connID string, env events.Envelope) (Inbound, error) {
	in := Inbound{ConnectionID: connID}

	var target any
	switch env.Type {
	case events.TypeJoin:
		in.Kind, in.Join = KindJoin, &events.JoinPayload{}
		target = in.Join
	case events.TypeSetName:
		in.Kind, in.SetName = KindSetName, &events.SetNamePayload{}
		target = in.SetName
	case events.TypeSetCardsAndSettings:
		in.Kind, in.CardsAndSettings = KindSetCardsAndSettings, &events.CardsAndSettingsPayload{}
		target = in.CardsAndSettings
	case events.TypeStart:
		in.Kind, in.Start = KindStart, &events.StartPayload{}
		target = in.Start
	case events.TypeAnswer:
		in.Kind, in.Answer = KindAnswer, &events.AnswerPayload{}
		target = in.Answer
	case events.TypeReset:
		in.Kind, in.Reset = KindReset, &events.ResetPayload{}
		target = in.Reset
	case events.TypeLeave:
		in.Kind = KindLeave
		return in, nil
	default:
		return Inbound{}, fmt.Errorf("unknown message type %q: %w", env.Type, ErrBadRequest)
	}

	if len(env.Data) == 0 {
		return Inbound{}, fmt.Errorf("%s: missing data: %w", env.Type, ErrBadRequest)
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return Inbound{}, fmt.Errorf("%s: %v: %w", env.Type, err, ErrBadRequest)
	}
	return in, nil
}
