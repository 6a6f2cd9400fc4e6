package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"livechat-server/internal/domain"
)

// MemoryStore is an in-memory Store used by unit tests and local runs
// without a database. It reproduces the Postgres concurrency contract
// (atomic upsert per guest, single-winner assignment) under a mutex.
type MemoryStore struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]*domain.Conversation
	byGuest    map[string]uuid.UUID
	messages   map[uuid.UUID][]*domain.Message
	failAppend error
	failUpsert error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[uuid.UUID]*domain.Conversation),
		byGuest:  make(map[string]uuid.UUID),
		messages: make(map[uuid.UUID][]*domain.Message),
	}
}

// FailNextAppend makes subsequent AppendMessage calls return err. Test hook.
func (s *MemoryStore) FailNextAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppend = err
}

// FailNextUpsert makes subsequent UpsertConversationByGuest calls return err.
func (s *MemoryStore) FailNextUpsert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpsert = err
}

func copyConversation(c *domain.Conversation) *domain.Conversation {
	out := *c
	return &out
}

func (s *MemoryStore) UpsertConversationByGuest(ctx context.Context, guestID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpsert != nil {
		return nil, s.failUpsert
	}

	if id, ok := s.byGuest[guestID]; ok {
		conv := s.byID[id]
		conv.UpdatedAt = time.Now().UTC()
		return copyConversation(conv), nil
	}

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:        uuid.New(),
		GuestID:   guestID,
		Status:    domain.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[conv.ID] = conv
	s.byGuest[guestID] = conv.ID
	return copyConversation(conv), nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) AssignConversation(ctx context.Context, id uuid.UUID, adminID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if conv.AssignedAdmin != nil {
		return nil, ErrAlreadyAssigned
	}

	admin := adminID
	conv.AssignedAdmin = &admin
	conv.UpdatedAt = time.Now().UTC()
	return copyConversation(conv), nil
}

func (s *MemoryStore) CloseConversation(ctx context.Context, id uuid.UUID, adminID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	by := adminID
	conv.Status = domain.StatusClosed
	conv.ClosedAt = &now
	conv.ClosedBy = &by
	conv.UpdatedAt = now
	return copyConversation(conv), nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAppend != nil {
		return s.failAppend
	}

	conv, ok := s.byID[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	stored := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &stored)
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Append order equals creation order; timestamps may collide at clock
	// resolution so the slice order is authoritative.
	stored := s.messages[conversationID]
	out := make([]*domain.Message, 0, len(stored))
	for _, m := range stored {
		copied := *m
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) MarkMessagesSeen(ctx context.Context, conversationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages[conversationID] {
		if m.SenderType == domain.SenderGuest {
			m.Seen = true
		}
	}
	return nil
}

func (s *MemoryStore) ListConversations(ctx context.Context) ([]*domain.ConversationWithLastMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.ConversationWithLastMessage, 0, len(s.byID))
	for id, conv := range s.byID {
		item := &domain.ConversationWithLastMessage{Conversation: *conv}
		if msgs := s.messages[id]; len(msgs) > 0 {
			last := *msgs[len(msgs)-1]
			item.LastMessage = &last
		}
		out = append(out, item)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
