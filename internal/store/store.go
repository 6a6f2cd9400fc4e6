package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"livechat-server/internal/domain"
)

// ErrNotFound is returned when a referenced conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// ErrAlreadyAssigned is returned when a conditional assignment loses the
// race: the conversation exists but some admin already claimed it.
var ErrAlreadyAssigned = errors.New("conversation already assigned")

// Store is the conversation persistence contract consumed by the router.
//
// UpsertConversationByGuest and AssignConversation are the two operations
// with concurrency guarantees: the upsert is atomic per guest id (concurrent
// first messages from one guest collapse to a single conversation) and the
// assignment is a single conditional write with exactly one winner.
type Store interface {
	UpsertConversationByGuest(ctx context.Context, guestID string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	AssignConversation(ctx context.Context, id uuid.UUID, adminID string) (*domain.Conversation, error)
	CloseConversation(ctx context.Context, id uuid.UUID, adminID string) (*domain.Conversation, error)

	AppendMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*domain.Message, error)
	MarkMessagesSeen(ctx context.Context, conversationID uuid.UUID) error

	ListConversations(ctx context.Context) ([]*domain.ConversationWithLastMessage, error)
}
