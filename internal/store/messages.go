package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MessageRepo provides typed access to persisted messages. Inserts are
// deduplicated on the unique_hash fingerprint.
type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Exists reports whether a message with the given fingerprint is already
// persisted.
func (r *MessageRepo) Exists(ctx context.Context, uniqueHash string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM messages WHERE unique_hash = $1)`,
		uniqueHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return exists, nil
}

// Save inserts a message. A nil result with nil error means another insert
// with the same fingerprint won the race; the caller should drop the message.
func (r *MessageRepo) Save(ctx context.Context, input MessageInput) (*Message, error) {
	var parsed interface{}
	if len(input.ParsedSignal) > 0 {
		parsed = []byte(input.ParsedSignal)
	}

	var m Message
	var direction, ticker sql.NullString
	var entry, stop, target sql.NullFloat64
	var originalTS sql.NullTime
	var parsedOut []byte

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (
			unique_hash, channel_id, direction, ticker,
			entry_price, stop_loss, take_profit,
			content_text, original_timestamp, parsed_signal
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (unique_hash) DO NOTHING
		RETURNING id, unique_hash, channel_id, direction, ticker,
			entry_price, stop_loss, take_profit,
			content_text, original_timestamp, created_at, parsed_signal`,
		input.UniqueHash, input.ChannelID,
		nullString(input.Direction), nullString(input.Ticker),
		nullFloat(input.EntryPrice), nullFloat(input.StopLoss), nullFloat(input.TakeProfit),
		input.ContentText, nullTime(input.OriginalTimestamp), parsed,
	).Scan(&m.ID, &m.UniqueHash, &m.ChannelID, &direction, &ticker,
		&entry, &stop, &target,
		&m.ContentText, &originalTS, &m.CreatedAt, &parsedOut)
	if err == sql.ErrNoRows {
		// Duplicate fingerprint, no insert occurred.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if direction.Valid {
		m.Direction = &direction.String
	}
	if ticker.Valid {
		m.Ticker = &ticker.String
	}
	if entry.Valid {
		m.EntryPrice = &entry.Float64
	}
	if stop.Valid {
		m.StopLoss = &stop.Float64
	}
	if target.Valid {
		m.TakeProfit = &target.Float64
	}
	if originalTS.Valid {
		t := originalTS.Time
		m.OriginalTimestamp = &t
	}
	if len(parsedOut) > 0 {
		m.ParsedSignal = parsedOut
	}

	return &m, nil
}

// GetRecent returns the most recent messages, newest first.
func (r *MessageRepo) GetRecent(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, unique_hash, channel_id, direction, ticker,
			entry_price, stop_loss, take_profit,
			content_text, original_timestamp, created_at, parsed_signal
		FROM messages
		ORDER BY id DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var direction, ticker sql.NullString
		var entry, stop, target sql.NullFloat64
		var originalTS sql.NullTime
		var parsedOut []byte

		if err := rows.Scan(&m.ID, &m.UniqueHash, &m.ChannelID, &direction, &ticker,
			&entry, &stop, &target,
			&m.ContentText, &originalTS, &m.CreatedAt, &parsedOut); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		if direction.Valid {
			m.Direction = &direction.String
		}
		if ticker.Valid {
			m.Ticker = &ticker.String
		}
		if entry.Valid {
			m.EntryPrice = &entry.Float64
		}
		if stop.Valid {
			m.StopLoss = &stop.Float64
		}
		if target.Valid {
			m.TakeProfit = &target.Float64
		}
		if originalTS.Valid {
			t := originalTS.Time
			m.OriginalTimestamp = &t
		}
		if len(parsedOut) > 0 {
			m.ParsedSignal = parsedOut
		}

		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Stats aggregates the messages table. Ticker and direction counts consider
// both the legacy columns and the parsed document, so rows without a
// denormalized projection still count.
func (r *MessageRepo) Stats(ctx context.Context) (*MessageStats, error) {
	var s MessageStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE created_at > now() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE ticker IS NOT NULL
				OR parsed_signal -> 'signal_data' ->> 'ticker' IS NOT NULL),
			COUNT(*) FILTER (WHERE direction = 'LONG'
				OR parsed_signal -> 'signal_data' -> 'direction' ->> 'side' = 'long'),
			COUNT(*) FILTER (WHERE direction = 'SHORT'
				OR parsed_signal -> 'signal_data' -> 'direction' ->> 'side' = 'short')
		FROM messages`,
	).Scan(&s.Total, &s.Today, &s.WithTicker, &s.LongCount, &s.ShortCount)
	if err != nil {
		return nil, fmt.Errorf("failed to compute message stats: %w", err)
	}
	return &s, nil
}

// DeleteByChannel removes all messages for a source channel. Used by the
// admin history purge.
func (r *MessageRepo) DeleteByChannel(ctx context.Context, chatID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE channel_id = $1`, chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
