package repository

import (
	"context"
	"database/sql"
	"time"

	"helpdesk-chat/internal/domain"
)

// SQLiteMessageRepository guarda mensajes en una base SQLite embebida.
type SQLiteMessageRepository struct {
	db *sql.DB
}

func NewSQLiteMessageRepository(db *sql.DB) *SQLiteMessageRepository {
	return &SQLiteMessageRepository{db: db}
}

func (r *SQLiteMessageRepository) Create(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO chat_messages (id, user_id, chat_id, user_message, ai_message, attachment_ref, is_archived, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var attachmentRef sql.NullString
	if message.AttachmentRef != "" {
		attachmentRef = sql.NullString{String: message.AttachmentRef, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		message.ID,
		message.UserID,
		message.ChatID,
		message.UserMessage,
		message.AIMessage,
		attachmentRef,
		message.IsArchived,
		message.CreatedAt.UTC().UnixNano(),
	)
	return err
}

func (r *SQLiteMessageRepository) ListRecent(ctx context.Context, userID, chatID string, limit int) ([]domain.Message, error) {
	const query = `
		SELECT id, user_id, chat_id, user_message, ai_message, attachment_ref, is_archived, created_at
		FROM chat_messages
		WHERE user_id = ? AND chat_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, userID, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var attachmentRef sql.NullString
		var createdAt int64

		err = rows.Scan(
			&msg.ID,
			&msg.UserID,
			&msg.ChatID,
			&msg.UserMessage,
			&msg.AIMessage,
			&attachmentRef,
			&msg.IsArchived,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		msg.AttachmentRef = attachmentRef.String
		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *SQLiteMessageRepository) CountUserTurnsSince(ctx context.Context, userID, chatID string, since time.Time) (int, time.Time, error) {
	const query = `
		SELECT COUNT(*), MIN(created_at)
		FROM chat_messages
		WHERE user_id = ? AND chat_id = ? AND created_at >= ? AND user_message <> ''
	`

	var count int
	var oldest sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, userID, chatID, since.UTC().UnixNano()).Scan(&count, &oldest); err != nil {
		return 0, time.Time{}, err
	}
	if !oldest.Valid {
		return count, time.Time{}, nil
	}
	return count, time.Unix(0, oldest.Int64).UTC(), nil
}

// Ping verifica que la base siga disponible.
func (r *SQLiteMessageRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
