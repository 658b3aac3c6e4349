package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"helpdesk-chat/internal/domain"
)

// MessageRepository persiste intercambios y responde las lecturas del núcleo del chat.
// Todas las consultas filtran por (user_id, chat_id).
type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) error
	// ListRecent devuelve como máximo limit mensajes, del más nuevo al más viejo.
	ListRecent(ctx context.Context, userID, chatID string, limit int) ([]domain.Message, error)
	// CountUserTurnsSince cuenta mensajes con texto de usuario no vacío desde since y
	// devuelve la fecha del más antiguo contado (cero si no hay).
	CountUserTurnsSince(ctx context.Context, userID, chatID string, since time.Time) (int, time.Time, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO chat_messages (id, user_id, chat_id, user_message, ai_message, attachment_ref, is_archived, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var attachmentRef interface{}
	if message.AttachmentRef != "" {
		attachmentRef = message.AttachmentRef
	}

	_, err := r.pool.Exec(ctx, query,
		message.ID,
		message.UserID,
		message.ChatID,
		message.UserMessage,
		message.AIMessage,
		attachmentRef,
		message.IsArchived,
		message.CreatedAt,
	)
	return err
}

func (r *PgMessageRepository) ListRecent(ctx context.Context, userID, chatID string, limit int) ([]domain.Message, error) {
	const query = `
		SELECT id, user_id, chat_id, user_message, ai_message, attachment_ref, is_archived, created_at
		FROM chat_messages
		WHERE user_id = $1 AND chat_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, userID, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var attachmentRef *string

		err = rows.Scan(
			&msg.ID,
			&msg.UserID,
			&msg.ChatID,
			&msg.UserMessage,
			&msg.AIMessage,
			&attachmentRef,
			&msg.IsArchived,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if attachmentRef != nil {
			msg.AttachmentRef = *attachmentRef
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *PgMessageRepository) CountUserTurnsSince(ctx context.Context, userID, chatID string, since time.Time) (int, time.Time, error) {
	const query = `
		SELECT COUNT(*), MIN(created_at)
		FROM chat_messages
		WHERE user_id = $1 AND chat_id = $2 AND created_at >= $3 AND user_message <> ''
	`

	var count int
	var oldest *time.Time
	if err := r.pool.QueryRow(ctx, query, userID, chatID, since).Scan(&count, &oldest); err != nil {
		return 0, time.Time{}, err
	}
	if oldest == nil {
		return count, time.Time{}, nil
	}
	return count, oldest.UTC(), nil
}

// Ping verifica que el pool siga disponible.
func (r *PgMessageRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
