// Package identity maps local users to accounts in the external balance service.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"daily-reward-api/internal/models"
)

// ErrNotLinked is returned when a user has no external account.
var ErrNotLinked = errors.New("identity: account not linked")

// DB wraps the link table.
type DB struct {
	conn *sql.DB
}

// NewDB opens the database and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS account_links (
			user_id TEXT PRIMARY KEY,
			external_account_id TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_external_account_id ON account_links(external_account_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// UpsertLink creates or replaces the link for link.UserID.
func (db *DB) UpsertLink(ctx context.Context, link models.AccountLink) error {
	query := `INSERT INTO account_links (user_id, external_account_id, username, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		external_account_id = excluded.external_account_id,
		username = excluded.username,
		updated_at = excluded.updated_at`

	updatedAt := link.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, query,
		link.UserID,
		link.ExternalAccountID,
		link.Username,
		updatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert link: %w", err)
	}
	return nil
}

// GetLink returns the link for userID or ErrNotLinked.
func (db *DB) GetLink(ctx context.Context, userID string) (models.AccountLink, error) {
	var (
		link      models.AccountLink
		updatedAt string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, external_account_id, username, updated_at FROM account_links WHERE user_id = ?`,
		userID,
	).Scan(&link.UserID, &link.ExternalAccountID, &link.Username, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AccountLink{}, ErrNotLinked
	}
	if err != nil {
		return models.AccountLink{}, fmt.Errorf("failed to get link: %w", err)
	}

	// Rows written through sqlite's CURRENT_TIMESTAMP default use a space separator.
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, updatedAt); err == nil {
			link.UpdatedAt = t
			break
		}
	}
	return link, nil
}
