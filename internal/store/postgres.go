package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"livechat-server/internal/domain"
)

const conversationColumns = "id, guest_id, assigned_admin, status, closed_at, closed_by, created_at, updated_at"

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var c domain.Conversation
	err := row.Scan(&c.ID, &c.GuestID, &c.AssignedAdmin, &c.Status,
		&c.ClosedAt, &c.ClosedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertConversationByGuest inserts a conversation for the guest or returns
// the existing one. The unique constraint on guest_id makes concurrent calls
// for the same guest collapse to a single row; the loser of the race lands on
// the DO UPDATE arm and reads the winner's row back.
func (s *PostgresStore) UpsertConversationByGuest(ctx context.Context, guestID string) (*domain.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, guest_id)
		VALUES ($1, $2)
		ON CONFLICT (guest_id) DO UPDATE SET updated_at = now()
		RETURNING `+conversationColumns,
		uuid.New(), guestID)

	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("upsert conversation for guest %s: %w", guestID, err)
	}
	return conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return conv, nil
}

// AssignConversation claims the conversation for adminID iff it is still
// unassigned. First claimer wins; losers see ErrAlreadyAssigned.
func (s *PostgresStore) AssignConversation(ctx context.Context, id uuid.UUID, adminID string) (*domain.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conversations
		SET assigned_admin = $2, updated_at = now()
		WHERE id = $1 AND assigned_admin IS NULL
		RETURNING `+conversationColumns,
		id, adminID)

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Disambiguate: missing row vs lost race.
		if _, getErr := s.GetConversation(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyAssigned
	}
	if err != nil {
		return nil, fmt.Errorf("assign conversation %s: %w", id, err)
	}
	return conv, nil
}

func (s *PostgresStore) CloseConversation(ctx context.Context, id uuid.UUID, adminID string) (*domain.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conversations
		SET status = $3, closed_at = now(), closed_by = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+conversationColumns,
		id, adminID, domain.StatusClosed)

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("close conversation %s: %w", id, err)
	}
	return conv, nil
}

// AppendMessage persists msg and bumps the conversation's updated_at so the
// history listing keeps active threads on top.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append message: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_type, sender_id, message_type, content, file_name, file_size, seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.ConversationID, msg.SenderType, msg.SenderID,
		msg.MessageType, msg.Content, msg.FileName, msg.FileSize,
		msg.Seen, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`,
		msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender_type, sender_id, message_type, content, file_name, file_size, seen, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var m domain.Message
		err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderType, &m.SenderID,
			&m.MessageType, &m.Content, &m.FileName, &m.FileSize, &m.Seen, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// MarkMessagesSeen flags all unseen guest messages in a conversation. Best
// effort: the seen flag is not used to compute unread counts.
func (s *PostgresStore) MarkMessagesSeen(ctx context.Context, conversationID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages SET seen = TRUE
		WHERE conversation_id = $1 AND sender_type = $2 AND seen = FALSE`,
		conversationID, domain.SenderGuest)
	if err != nil {
		return fmt.Errorf("mark messages seen for %s: %w", conversationID, err)
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context) ([]*domain.ConversationWithLastMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.guest_id, c.assigned_admin, c.status, c.closed_at, c.closed_by, c.created_at, c.updated_at,
		       m.id, m.conversation_id, m.sender_type, m.sender_id, m.message_type, m.content, m.file_name, m.file_size, m.seen, m.created_at
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT * FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC
			LIMIT 1
		) m ON TRUE
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var result []*domain.ConversationWithLastMessage
	for rows.Next() {
		var item domain.ConversationWithLastMessage
		var (
			mID          *uuid.UUID
			mConvID      *uuid.UUID
			mSenderType  *string
			mSenderID    *string
			mMessageType *string
			mContent     *string
			mFileName    *string
			mFileSize    *int64
			mSeen        *bool
			mCreatedAt   *time.Time
		)

		err := rows.Scan(&item.ID, &item.GuestID, &item.AssignedAdmin, &item.Status,
			&item.ClosedAt, &item.ClosedBy, &item.CreatedAt, &item.UpdatedAt,
			&mID, &mConvID, &mSenderType, &mSenderID, &mMessageType,
			&mContent, &mFileName, &mFileSize, &mSeen, &mCreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}

		if mID != nil {
			item.LastMessage = &domain.Message{
				ID:             *mID,
				ConversationID: *mConvID,
				SenderType:     *mSenderType,
				SenderID:       *mSenderID,
				MessageType:    *mMessageType,
				Content:        *mContent,
				FileName:       mFileName,
				FileSize:       mFileSize,
				Seen:           *mSeen,
				CreatedAt:      *mCreatedAt,
			}
		}
		result = append(result, &item)
	}
	return result, rows.Err()
}
