// Package db opens the PostgreSQL database used by the message-cache
// backend and keeps its table bounded.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS cached_messages (
    chat    TEXT NOT NULL,
    id      TEXT NOT NULL,
    sender  TEXT NOT NULL DEFAULT '',
    from_me BOOLEAN NOT NULL DEFAULT FALSE,
    text    TEXT NOT NULL DEFAULT '',
    ts      BIGINT NOT NULL,
    poll    BYTEA,
    votes   BYTEA,
    PRIMARY KEY (chat, id)
);

CREATE INDEX IF NOT EXISTS cached_messages_ts_idx ON cached_messages (ts);
`

func InitPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
