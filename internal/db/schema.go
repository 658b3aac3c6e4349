package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	chat_id        TEXT NOT NULL,
	user_message   TEXT NOT NULL DEFAULT '',
	ai_message     TEXT NOT NULL DEFAULT '',
	attachment_ref TEXT,
	is_archived    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_user_chat_created_idx
	ON chat_messages (user_id, chat_id, created_at DESC);
`

// created_at se guarda en nanosegundos unix para comparar rangos sin depender del formato de texto.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	chat_id        TEXT NOT NULL,
	user_message   TEXT NOT NULL DEFAULT '',
	ai_message     TEXT NOT NULL DEFAULT '',
	attachment_ref TEXT,
	is_archived    INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_user_chat_created_idx
	ON chat_messages (user_id, chat_id, created_at DESC);
`

// Migrate crea la tabla de mensajes en Postgres si no existe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// MigrateSQLite crea la tabla de mensajes en SQLite si no existe.
func MigrateSQLite(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}
