package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// WS event names, client to server.
const (
	EventGuestJoin          = "guest-join"
	EventGuestMessage       = "guest-message"
	EventAdminJoin          = "admin-join"
	EventAdminMessage       = "admin-message"
	EventAssignConversation = "assign-conversation"
	EventCloseConversation  = "close-conversation"
	EventConversationRead   = "conversation-read"
)

// WS event names, server to client.
const (
	EventNewMessage            = "new-message"
	EventConversationAssigned  = "conversation-assigned"
	EventConversationClosed    = "conversation-closed"
	EventAdminOnline           = "admin-online"
	EventAdminOffline          = "admin-offline"
	EventConnectionEstablished = "connection-established"
	EventError                 = "error"
)

// WSEvent is the inbound wire envelope: one JSON object per frame with the
// event name and its raw payload.
type WSEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WSResponse is the outbound wire envelope.
type WSResponse struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type GuestJoinPayload struct {
	GuestID string `json:"guestId"`
}

type AdminJoinPayload struct {
	AdminID string `json:"adminId"`
}

type GuestMessagePayload struct {
	GuestID     string  `json:"guestId"`
	Content     string  `json:"content"`
	MessageType string  `json:"messageType"`
	FileName    *string `json:"fileName,omitempty"`
	FileSize    *int64  `json:"fileSize,omitempty"`
}

type AdminMessagePayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	AdminID        string    `json:"adminId"`
	Content        string    `json:"content"`
	MessageType    string    `json:"messageType"`
	FileName       *string   `json:"fileName,omitempty"`
	FileSize       *int64    `json:"fileSize,omitempty"`
}

type AssignConversationPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	AdminID        string    `json:"adminId"`
}

type CloseConversationPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	AdminID        string    `json:"adminId"`
}

type ConversationReadPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	AdminID        string    `json:"adminId"`
}

// UnassignedMessageBroadcast is the new-message payload sent to the admins
// channel while a conversation has no assigned admin.
type UnassignedMessageBroadcast struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Message        *Message  `json:"message"`
	GuestID        string    `json:"guestId"`
}

type ConversationClosedPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	ClosedBy       string    `json:"closedBy"`
}

type AdminPresencePayload struct {
	AdminID string `json:"adminId"`
	Online  bool   `json:"online"`
}
