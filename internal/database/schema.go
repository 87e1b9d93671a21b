package database

import (
	"context"
	"log/slog"

	"github.com/surrealdb/surrealdb.go"
)

// schema is applied at startup. Every statement is idempotent.
var schema = []string{
	"DEFINE TABLE IF NOT EXISTS chats SCHEMALESS",
	"DEFINE FIELD IF NOT EXISTS title ON chats TYPE string DEFAULT ''",

	"DEFINE TABLE IF NOT EXISTS messages SCHEMALESS",
	"DEFINE FIELD IF NOT EXISTS chat_id ON messages TYPE string",
	"DEFINE FIELD IF NOT EXISTS sender ON messages TYPE string",
	"DEFINE FIELD IF NOT EXISTS content ON messages TYPE string",
	"DEFINE FIELD IF NOT EXISTS created_at ON messages TYPE datetime DEFAULT time::now()",
	"DEFINE INDEX IF NOT EXISTS messages_chat_created ON messages FIELDS chat_id, created_at",

	"DEFINE TABLE IF NOT EXISTS login_request SCHEMALESS",
	"DEFINE FIELD IF NOT EXISTS email ON login_request TYPE string",
	"DEFINE FIELD IF NOT EXISTS status ON login_request TYPE string",
	"DEFINE FIELD IF NOT EXISTS expires_at ON login_request TYPE datetime",
}

// ApplySchema defines the tables and indexes the stores rely on.
func ApplySchema(ctx context.Context, conn DBConnection) error {
	ctx, cancel := writeContext(ctx, conn)
	defer cancel()

	return conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		for _, stmt := range schema {
			if err := Execute(ctx, db, stmt, nil); err != nil {
				return opError("apply_schema", err)
			}
		}
		slog.DebugContext(ctx, "Database schema applied", "event", "db_schema_applied", "version", "1.0", "statements", len(schema))
		return nil
	})
}
