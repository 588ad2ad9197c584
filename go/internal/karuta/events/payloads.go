package events

import (
	"encoding/json"
	"time"
)

// Wire payloads shared between the session engine and the gateway

// MessageType names a message on the wire, in either direction
type MessageType string

const (
	TypeJoin                MessageType = "join"
	TypeSetName             MessageType = "set_name"
	TypeSetCardsAndSettings MessageType = "set_cards_and_settings"
	TypeStart               MessageType = "start"
	TypeAnswer              MessageType = "answer"
	TypeReset               MessageType = "reset"
	TypeLeave               MessageType = "leave"
	TypeState               MessageType = "state"
	TypeLock                MessageType = "lock"
	TypeEnd                 MessageType = "end"
	TypeUserCount           MessageType = "user_count"
	TypeError               MessageType = "error"
)

// Envelope is the framing of every websocket message
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is the payload for a join message
type JoinPayload struct {
	GroupID string `json:"groupId"`
}

// SetNamePayload is the payload for a set_name message
type SetNamePayload struct {
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
}

// CardRow is one uploaded deck row
type CardRow struct {
	Number string `json:"number"`
	Term   string `json:"term"`
	Text   string `json:"text"`
}

// Settings is the per-group game configuration
type Settings struct {
	MaxQuestions int `json:"maxQuestions"`
	NumCards     int `json:"numCards"`
	RevealPaceMs int `json:"revealPaceMs"`
}

// CardsAndSettingsPayload is the payload for a set_cards_and_settings message
type CardsAndSettingsPayload struct {
	Cards    []CardRow `json:"cards"`
	Settings Settings  `json:"settings"`
}

// StartPayload is the payload for a start message
type StartPayload struct {
	GroupID      string `json:"groupId"`
	NumCards     int    `json:"numCards"`
	MaxQuestions int    `json:"maxQuestions"`
}

// AnswerPayload is the payload for an answer message
type AnswerPayload struct {
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
	Number  string `json:"number"`
	Round   int64  `json:"round,omitempty"`
}

// ResetPayload is the payload for a reset message
type ResetPayload struct {
	GroupID string `json:"groupId"`
}

// CardView is a displayed card. Correct is only ever set once the round is resolved.
type CardView struct {
	Number  string `json:"number"`
	Term    string `json:"term"`
	Correct bool   `json:"correct,omitempty"`
}

// RoundView is the current prompt and its candidate cards
type RoundView struct {
	Text       string     `json:"text"`
	Cards      []CardView `json:"cards"`
	Resolved   bool       `json:"resolved"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`
}

// PlayerView is a player's public state
type PlayerView struct {
	Name            string `json:"name"`
	Health          int    `json:"health"`
	Locked          bool   `json:"locked"`
	LockRemainingMs int64  `json:"lockRemainingMs,omitempty"`
	Eliminated      bool   `json:"eliminated,omitempty"`
	// Away marks a player whose connection dropped mid-session
	Away bool `json:"away,omitempty"`
}

// MisclickView is one wrong answer in the current round
type MisclickView struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// StatePayload is the full group snapshot pushed after every transition
type StatePayload struct {
	GroupID       string         `json:"groupId"`
	Round         int64          `json:"round"`
	QuestionCount int            `json:"questionCount"`
	MaxQuestions  int            `json:"maxQuestions"`
	RevealPaceMs  int            `json:"revealPaceMs"`
	Ended         bool           `json:"ended"`
	Current       *RoundView     `json:"current"`
	Players       []PlayerView   `json:"players"`
	Misclicks     []MisclickView `json:"misclicks"`
}

// LockPayload is sent only to the player who misclicked
type LockPayload struct {
	Name       string    `json:"name"`
	Number     string    `json:"number"`
	DurationMs int64     `json:"durationMs"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Standing is one row of the final ranking
type Standing struct {
	Name   string `json:"name"`
	Health int    `json:"health"`
}

// EndPayload is the terminal ranking of a session
type EndPayload struct {
	GroupID string     `json:"groupId"`
	Players []Standing `json:"players"`
}

// UserCountPayload is the live connection count
type UserCountPayload struct {
	Count int64 `json:"count"`
}

// ErrorCode classifies a rejection sent back to a client
type ErrorCode string

const (
	ErrorInvalidConfig ErrorCode = "invalid_config"
	ErrorDuplicateName ErrorCode = "duplicate_name"
	ErrorBadRequest    ErrorCode = "bad_request"
)

// ErrorPayload is an actionable rejection for a single connection
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
