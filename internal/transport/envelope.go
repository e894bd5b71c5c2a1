package transport

import "encoding/json"

// Frame types exchanged on the wire. Every frame is one JSON object.
const (
	FrameConnected   = "connected"   // server -> client, auth acknowledged
	FrameSubscribe   = "subscribe"   // client -> server
	FrameUnsubscribe = "unsubscribe" // client -> server
	FramePublish     = "publish"     // client -> server
	FrameEvent       = "event"       // server -> client
	FramePing        = "ping"        // client -> server heartbeat
	FramePong        = "pong"        // server -> client heartbeat reply
	FrameError       = "error"       // server -> client, connection-level failure
)

// Envelope is the wire format for all frames on the push channel.
type Envelope struct {
	Type string `json:"type"`
	// ID carries the subscription handle on subscribe/unsubscribe frames.
	ID string `json:"id,omitempty"`
	// Topic addresses the destination (publish, subscribe) or the source
	// (event).
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Reason is set on error frames.
	Reason string `json:"reason,omitempty"`
}

// SendPayload is the publish payload on a group's send destination.
type SendPayload struct {
	Action          string `json:"action"` // create | edit | delete
	Content         string `json:"content,omitempty"`
	ParentMessageID *int64 `json:"parentMessageId,omitempty"`
	MessageID       int64  `json:"messageId,omitempty"`
	ClientTempID    string `json:"clientTempId,omitempty"`
}

// TypingSetPayload is the publish payload on a group's typing destination.
type TypingSetPayload struct {
	IsTyping bool `json:"isTyping"`
}

// PresenceSetPayload is the publish payload on the presence destination.
type PresenceSetPayload struct {
	Status string `json:"status"`
}
