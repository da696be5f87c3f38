// Package repository provides the PostgreSQL snapshot backend for the
// message cache.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MardaOneli/WaBot/internal/codec"
	"github.com/MardaOneli/WaBot/internal/msgcache"
)

// PostgresCacheRepository stores message-cache snapshots as rows of the
// cached_messages table. It satisfies msgcache.Snapshotter.
type PostgresCacheRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresCacheRepository creates a repository on an initialized
// database (see db.InitPostgres).
func NewPostgresCacheRepository(db *sql.DB) *PostgresCacheRepository {
	return &PostgresCacheRepository{DB: db}
}

// Load reads every cached message.
func (r *PostgresCacheRepository) Load(ctx context.Context) ([]msgcache.Record, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT chat, id, sender, from_me, text, ts, poll, votes FROM cached_messages ORDER BY chat, id
	`)
	if err != nil {
		return nil, fmt.Errorf("load cached messages: %w", err)
	}
	defer rows.Close()

	var records []msgcache.Record
	for rows.Next() {
		var (
			rec         msgcache.Record
			poll, votes []byte
		)
		if err := rows.Scan(&rec.Key.Chat, &rec.Key.ID, &rec.Sender, &rec.FromMe, &rec.Text, &rec.Timestamp, &poll, &votes); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if len(poll) > 0 {
			rec.Poll = &msgcache.PollDef{}
			if err := codec.Unmarshal(poll, rec.Poll); err != nil {
				return nil, fmt.Errorf("decode poll %s/%s: %w", rec.Key.Chat, rec.Key.ID, err)
			}
		}
		if len(votes) > 0 {
			if err := codec.Unmarshal(votes, &rec.Votes); err != nil {
				return nil, fmt.Errorf("decode votes %s/%s: %w", rec.Key.Chat, rec.Key.ID, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached messages: %w", err)
	}
	return records, nil
}

// Save upserts every record in one transaction.
func (r *PostgresCacheRepository) Save(ctx context.Context, records []msgcache.Record) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		poll, votes, err := encodeExtras(rec)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cached_messages (chat, id, sender, from_me, text, ts, poll, votes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (chat, id) DO UPDATE SET
				sender = EXCLUDED.sender,
				from_me = EXCLUDED.from_me,
				text = EXCLUDED.text,
				ts = EXCLUDED.ts,
				poll = EXCLUDED.poll,
				votes = EXCLUDED.votes
		`, rec.Key.Chat, rec.Key.ID, rec.Sender, rec.FromMe, rec.Text, rec.Timestamp, poll, votes)
		if err != nil {
			return fmt.Errorf("upsert %s/%s: %w", rec.Key.Chat, rec.Key.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// encodeExtras returns untyped nil for absent columns so they are
// written as NULL.
func encodeExtras(rec msgcache.Record) (poll, votes any, err error) {
	if rec.Poll != nil {
		b, err := codec.Marshal(rec.Poll)
		if err != nil {
			return nil, nil, fmt.Errorf("encode poll: %w", err)
		}
		poll = b
	}
	if len(rec.Votes) > 0 {
		b, err := codec.Marshal(rec.Votes)
		if err != nil {
			return nil, nil, fmt.Errorf("encode votes: %w", err)
		}
		votes = b
	}
	return poll, votes, nil
}

var _ msgcache.Snapshotter = (*PostgresCacheRepository)(nil)
