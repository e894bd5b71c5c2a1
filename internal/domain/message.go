package domain

import "time"

// MessageType classifies the payload of a message.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

// Message is the single message entity used across the whole sync core.
// The REST fallback endpoints return the same shape, so reconciliation
// never needs a second mapping layer.
//
// Identity is ID; the server assigns it and it is the sole deduplication
// key. Optimistic local entries carry a negative ID until the server
// confirms them.
type Message struct {
	ID                int64       `json:"id"`
	GroupID           int64       `json:"groupId"`
	SenderID          *int64      `json:"senderId,omitempty"` // nil for system messages
	SenderDisplayName string      `json:"senderDisplayName"`
	Content           string      `json:"content"`
	Type              MessageType `json:"messageType"`
	ParentMessageID   *int64      `json:"parentMessageId,omitempty"`
	AttachmentRef     *string     `json:"attachmentRef,omitempty"`
	IsEdited          bool        `json:"isEdited"`
	CreatedAt         time.Time   `json:"createdAt"`
	ReplyCount        int         `json:"replyCount"`
}

// IsSystem reports whether the message was generated by the server rather
// than a user.
func (m Message) IsSystem() bool {
	return m.SenderID == nil
}

// IsOptimistic reports whether the message is a local entry that has not
// been confirmed by the server yet.
func (m Message) IsOptimistic() bool {
	return m.ID < 0
}

// PendingSend tracks an outgoing message while it is in flight. It is
// removed on confirmation or after the fallback path is exhausted.
type PendingSend struct {
	// ClientTempID correlates the optimistic entry with the eventual
	// server confirmation. It travels with the send on both the push
	// and the fallback path.
	ClientTempID string

	// TempMessageID is the negative local id the optimistic entry is
	// visible under until confirmation replaces it.
	TempMessageID int64

	GroupID           int64
	SenderDisplayName string
	Content           string
	ParentMessageID   *int64
	Attempt           int
	Deadline          time.Time
}
