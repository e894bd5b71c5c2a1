package domain

import (
	"encoding/json"
	"time"
)

// MessageEventKind discriminates inbound message events.
type MessageEventKind string

const (
	MessageEventNew    MessageEventKind = "NEW"
	MessageEventEdit   MessageEventKind = "EDIT"
	MessageEventDelete MessageEventKind = "DELETE"
)

// MessageEvent is an inbound message mutation, regardless of which
// transport delivered it. NEW and EDIT carry the full message; DELETE
// carries only the id.
//
// ClientTempID is set only on the sender's own echo of a NEW event and
// correlates it with the outstanding optimistic entry.
type MessageEvent struct {
	Kind         MessageEventKind `json:"kind"`
	GroupID      int64            `json:"groupId"`
	Message      *Message         `json:"message,omitempty"`
	MessageID    int64            `json:"messageId,omitempty"`
	ClientTempID string           `json:"clientTempId,omitempty"`
}

// TypingIndicator is an inbound per-user typing event.
type TypingIndicator struct {
	GroupID  int64  `json:"groupId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceStatus is a user's last-known availability.
type PresenceStatus string

const (
	// PresenceUnknown is reported for users that never produced a
	// presence event. It is distinct from offline.
	PresenceUnknown PresenceStatus = "unknown"
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// UserPresence is an inbound presence event and the stored last-known
// state per user.
type UserPresence struct {
	Username string         `json:"username"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}

// ServerError is a protocol error reported by the server on the personal
// error queue. The core forwards it verbatim and does not interpret it.
type ServerError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e ServerError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// ConnectionState describes the push channel's lifecycle phase.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// StateChange is published on the bus whenever the connection manager
// transitions between states.
type StateChange struct {
	Previous ConnectionState `json:"previous"`
	Current  ConnectionState `json:"current"`
	// Attempt is the reconnect attempt count when Current is
	// reconnecting or connecting during a reconnect cycle, zero
	// otherwise.
	Attempt int `json:"attempt,omitempty"`
}
