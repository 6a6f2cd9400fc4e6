package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"livechat-server/internal/domain"
	"livechat-server/internal/presence"
	"livechat-server/internal/store"
)

// ChannelAdmins is the shared channel every connected admin session joins.
const ChannelAdmins = "admins"

// GuestChannel addresses a guest's single connection.
func GuestChannel(guestID string) string {
	return "guest:" + guestID
}

// AdminChannel addresses every live connection of one admin (all tabs).
func AdminChannel(adminID string) string {
	return "admin:" + adminID
}

// ConversationChannel addresses connections observing one conversation:
// the claiming admin's tabs and anyone else subscribed to it.
func ConversationChannel(id uuid.UUID) string {
	return "conversation:" + id.String()
}

// Delivery is one fan-out decision: an event to emit on the union of the
// listed channels. The transport deduplicates connections that are members
// of more than one listed channel and drops targets that have disconnected.
type Delivery struct {
	Channels          []string
	Event             string
	Payload           interface{}
	ExcludeConnection string
}

var (
	ErrEmptyContent       = errors.New("message content must not be empty")
	ErrMissingAttachment  = errors.New("file name and size are required for non-text messages")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Router turns inbound chat events into persistence calls plus a
// deterministic set of deliveries. It performs no transport I/O itself:
// the caller executes the returned deliveries, so persistence always
// happens before fan-out and routing stays testable without sockets.
type Router struct {
	store    store.Store
	registry *presence.Registry
}

func New(s store.Store, registry *presence.Registry) *Router {
	return &Router{store: s, registry: registry}
}

func validateMessage(content, messageType string, fileName *string, fileSize *int64) (string, error) {
	if content == "" {
		return "", ErrEmptyContent
	}
	if messageType == "" {
		messageType = domain.MessageTypeText
	}
	switch messageType {
	case domain.MessageTypeText:
	case domain.MessageTypeImage, domain.MessageTypeDocument:
		if fileName == nil || fileSize == nil {
			return "", ErrMissingAttachment
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownMessageType, messageType)
	}
	return messageType, nil
}

// HandleGuestMessage upserts the guest's conversation, persists the message
// and routes it: to the assigned admin's connections when the conversation
// is claimed, to every online admin otherwise. Zero online admins is fine;
// the message is durable and surfaces on the next history fetch.
func (r *Router) HandleGuestMessage(ctx context.Context, p domain.GuestMessagePayload) (*domain.Message, []Delivery, error) {
	messageType, err := validateMessage(p.Content, p.MessageType, p.FileName, p.FileSize)
	if err != nil {
		return nil, nil, err
	}

	conv, err := r.store.UpsertConversationByGuest(ctx, p.GuestID)
	if err != nil {
		return nil, nil, err
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		SenderType:     domain.SenderGuest,
		SenderID:       p.GuestID,
		MessageType:    messageType,
		Content:        p.Content,
		FileName:       p.FileName,
		FileSize:       p.FileSize,
	}
	if messageType == domain.MessageTypeText {
		msg.FileName = nil
		msg.FileSize = nil
	}

	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, err
	}

	if conv.AssignedAdmin != nil {
		return msg, []Delivery{{
			Channels: []string{
				ConversationChannel(conv.ID),
				AdminChannel(*conv.AssignedAdmin),
			},
			Event:   domain.EventNewMessage,
			Payload: msg,
		}}, nil
	}

	return msg, []Delivery{{
		Channels: []string{ChannelAdmins},
		Event:    domain.EventNewMessage,
		Payload: domain.UnassignedMessageBroadcast{
			ConversationID: conv.ID,
			Message:        msg,
			GuestID:        p.GuestID,
		},
	}}, nil
}

// HandleAdminMessage persists an admin reply and routes it to the guest's
// connection, every connection observing the conversation, and the sending
// admin's own channel so all of that admin's tabs see the reply. The hub
// deduplicates the union, so the sending tab still gets one copy. The
// conversation must exist before anything is persisted; store.ErrNotFound
// is reported to the initiator only.
func (r *Router) HandleAdminMessage(ctx context.Context, p domain.AdminMessagePayload) (*domain.Message, []Delivery, error) {
	messageType, err := validateMessage(p.Content, p.MessageType, p.FileName, p.FileSize)
	if err != nil {
		return nil, nil, err
	}

	conv, err := r.store.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return nil, nil, err
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		SenderType:     domain.SenderAdmin,
		SenderID:       p.AdminID,
		MessageType:    messageType,
		Content:        p.Content,
		FileName:       p.FileName,
		FileSize:       p.FileSize,
	}
	if messageType == domain.MessageTypeText {
		msg.FileName = nil
		msg.FileSize = nil
	}

	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, err
	}

	return msg, []Delivery{{
		Channels: []string{
			GuestChannel(conv.GuestID),
			ConversationChannel(conv.ID),
			AdminChannel(p.AdminID),
		},
		Event:   domain.EventAdminMessage,
		Payload: msg,
	}}, nil
}

// HandleAssign claims an unassigned conversation for an admin. First claimer
// wins; a lost race is a silent no-op (nil conversation, no deliveries, no
// error) and the absence of a conversation-assigned echo tells the loser
// someone else got there first.
func (r *Router) HandleAssign(ctx context.Context, p domain.AssignConversationPayload) (*domain.Conversation, []Delivery, error) {
	conv, err := r.store.AssignConversation(ctx, p.ConversationID, p.AdminID)
	if errors.Is(err, store.ErrAlreadyAssigned) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	return conv, []Delivery{{
		Channels: []string{ChannelAdmins},
		Event:    domain.EventConversationAssigned,
		Payload:  conv,
	}}, nil
}

// HandleClose transitions a conversation to closed and notifies its
// observers.
func (r *Router) HandleClose(ctx context.Context, p domain.CloseConversationPayload) (*domain.Conversation, []Delivery, error) {
	conv, err := r.store.CloseConversation(ctx, p.ConversationID, p.AdminID)
	if err != nil {
		return nil, nil, err
	}

	return conv, []Delivery{{
		Channels: []string{ConversationChannel(conv.ID)},
		Event:    domain.EventConversationClosed,
		Payload: domain.ConversationClosedPayload{
			ConversationID: conv.ID,
			ClosedBy:       p.AdminID,
		},
	}}, nil
}

// HandleRead propagates a read signal to every other connected admin session
// so local unread counters converge. The originating connection is excluded;
// other tabs of the same admin do receive it. No message rows are touched.
func (r *Router) HandleRead(p domain.ConversationReadPayload, originConnectionID string) []Delivery {
	return []Delivery{{
		Channels:          []string{ChannelAdmins},
		Event:             domain.EventConversationRead,
		Payload:           p,
		ExcludeConnection: originConnectionID,
	}}
}

// HandleAdminJoin marks the admin online. A presence broadcast goes out only
// on the offline-to-online edge, not for every extra tab.
func (r *Router) HandleAdminJoin(ctx context.Context, adminID, connectionID string) []Delivery {
	cameOnline := r.registry.Join(ctx, adminID, connectionID)
	if !cameOnline {
		return nil
	}

	return []Delivery{{
		Channels: []string{ChannelAdmins},
		Event:    domain.EventAdminOnline,
		Payload:  domain.AdminPresencePayload{AdminID: adminID, Online: true},
	}}
}

// HandleDisconnect resolves the admin owning a closed connection and flips
// it offline only when no other tab remains live. Guest connections resolve
// to no admin and produce nothing.
func (r *Router) HandleDisconnect(ctx context.Context, connectionID string) []Delivery {
	adminID, wentOffline := r.registry.Leave(ctx, connectionID)
	if adminID == "" || !wentOffline {
		return nil
	}

	return []Delivery{{
		Channels: []string{ChannelAdmins},
		Event:    domain.EventAdminOffline,
		Payload:  domain.AdminPresencePayload{AdminID: adminID, Online: false},
	}}
}
