package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusOpen    = "open"
	StatusPending = "pending"
	StatusClosed  = "closed"
)

const (
	SenderGuest = "guest"
	SenderAdmin = "admin"
)

const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeDocument = "document"
)

// Conversation is the durable thread between one guest and, optionally, one
// assigned admin. At most one conversation exists per guest id.
type Conversation struct {
	ID            uuid.UUID  `json:"id"`
	GuestID       string     `json:"guestId"`
	AssignedAdmin *string    `json:"assignedAdmin"`
	Status        string     `json:"status"`
	ClosedAt      *time.Time `json:"closedAt,omitempty"`
	ClosedBy      *string    `json:"closedBy,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Message is immutable once created. FileName/FileSize are set only for
// non-text message types.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	SenderType     string    `json:"senderType"`
	SenderID       string    `json:"senderId"`
	MessageType    string    `json:"messageType"`
	Content        string    `json:"content"`
	FileName       *string   `json:"fileName"`
	FileSize       *int64    `json:"fileSize"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationWithLastMessage is the history-listing projection.
type ConversationWithLastMessage struct {
	Conversation
	LastMessage *Message `json:"lastMessage"`
}
