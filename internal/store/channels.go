package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ChannelRepo provides typed access to the source channel whitelist.
// Callers pass chat ids already normalized to the supergroup form.
type ChannelRepo struct {
	db *sql.DB
}

func NewChannelRepo(db *sql.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

// IsActive reports whether a channel exists and is whitelisted.
func (r *ChannelRepo) IsActive(ctx context.Context, chatID int64) (bool, error) {
	var active bool
	err := r.db.QueryRowContext(ctx, `
		SELECT is_active FROM channels WHERE chat_id = $1`,
		chatID,
	).Scan(&active)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check channel: %w", err)
	}
	return active, nil
}

// ListActive returns all whitelisted channels.
func (r *ChannelRepo) ListActive(ctx context.Context) ([]Channel, error) {
	return r.list(ctx, `
		SELECT chat_id, name, is_active, created_at, updated_at
		FROM channels
		WHERE is_active = TRUE
		ORDER BY created_at DESC`)
}

// ListAll returns every channel row, active or not.
func (r *ChannelRepo) ListAll(ctx context.Context) ([]Channel, error) {
	return r.list(ctx, `
		SELECT chat_id, name, is_active, created_at, updated_at
		FROM channels
		ORDER BY created_at DESC`)
}

func (r *ChannelRepo) list(ctx context.Context, query string) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ChatID, &ch.Name, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, ch)
	}

	return channels, rows.Err()
}

// Upsert inserts a channel or, on primary-key conflict, refreshes its name.
// The updated_at trigger bumps the timestamp on conflict.
func (r *ChannelRepo) Upsert(ctx context.Context, input ChannelInput) (*Channel, error) {
	var ch Channel
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO channels (chat_id, name, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
		RETURNING chat_id, name, is_active, created_at, updated_at`,
		input.ChatID, input.Name, input.IsActive,
	).Scan(&ch.ChatID, &ch.Name, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert channel: %w", err)
	}
	return &ch, nil
}

// SetActive toggles a channel's whitelist flag.
func (r *ChannelRepo) SetActive(ctx context.Context, chatID int64, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE channels SET is_active = $2 WHERE chat_id = $1`,
		chatID, active)
	if err != nil {
		return fmt.Errorf("failed to update channel: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a channel. Messages referencing it cascade away.
func (r *ChannelRepo) Delete(ctx context.Context, chatID int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM channels WHERE chat_id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
