package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// apiKeyTag prefixes every generated subscriber key so leaked keys are
// recognizable in logs and support tickets.
const apiKeyTag = "sk_"

// ClientRepo provides typed access to subscriber credentials.
type ClientRepo struct {
	db *sql.DB
}

func NewClientRepo(db *sql.DB) *ClientRepo {
	return &ClientRepo{db: db}
}

// generateAPIKey renders 24 random bytes as a tagged hex token.
func generateAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return apiKeyTag + hex.EncodeToString(b), nil
}

// Create inserts a new active client with a freshly generated API key.
func (r *ClientRepo) Create(ctx context.Context) (*Client, error) {
	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, err
	}

	var c Client
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO clients (api_key)
		VALUES ($1)
		RETURNING id, api_key, is_active, created_at`,
		apiKey,
	).Scan(&c.ID, &c.APIKey, &c.IsActive, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &c, nil
}

// LookupByKey resolves an API key to a client. Inactive clients are treated
// as not found.
func (r *ClientRepo) LookupByKey(ctx context.Context, apiKey string) (*Client, error) {
	var c Client
	err := r.db.QueryRowContext(ctx, `
		SELECT id, api_key, is_active, created_at
		FROM clients
		WHERE api_key = $1 AND is_active = TRUE`,
		apiKey,
	).Scan(&c.ID, &c.APIKey, &c.IsActive, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}

	return &c, nil
}

// List returns all clients, newest first.
func (r *ClientRepo) List(ctx context.Context) ([]Client, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, api_key, is_active, created_at
		FROM clients
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.APIKey, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}

	return clients, rows.Err()
}

// SetActive toggles a client's active flag.
func (r *ClientRepo) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE clients SET is_active = $2 WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a client. The key is never reissued.
func (r *ClientRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
