// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Channel link upserts and reply-queue persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS channel_links (
			chat_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			bot_id TEXT NOT NULL DEFAULT '',
			linked_at DATETIME NOT NULL,
			PRIMARY KEY (channel, chat_id)
		);

		CREATE INDEX IF NOT EXISTS idx_channel_links_workspace
			ON channel_links(channel, workspace_id);

		CREATE TABLE IF NOT EXISTS outbound_replies (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			bot_id TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL,
			text TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at DATETIME NOT NULL,
			delivered_at DATETIME,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_outbound_replies_due
			ON outbound_replies(delivered_at, next_attempt_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// UpsertLink creates or replaces the link for a chat id. A workspace relinking
// through a different chat also drops its old chat row, so both directions of
// the lookup stay one-to-one.
func (s *SQLiteStore) UpsertLink(ctx context.Context, link *ChannelLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM channel_links WHERE channel = ? AND workspace_id = ? AND chat_id != ?`,
		link.Channel, link.WorkspaceID, link.ChatID,
	); err != nil {
		return fmt.Errorf("clearing previous workspace link: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO channel_links (chat_id, channel, workspace_id, user_id, display_name, bot_id, linked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel, chat_id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			user_id = excluded.user_id,
			display_name = excluded.display_name,
			bot_id = excluded.bot_id,
			linked_at = excluded.linked_at`,
		link.ChatID, link.Channel, link.WorkspaceID, link.UserID, link.DisplayName, link.BotID, link.LinkedAt,
	); err != nil {
		return fmt.Errorf("upserting channel link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing link upsert: %w", err)
	}

	s.logger.Info("channel link stored",
		"channel", link.Channel, "chat_id", link.ChatID, "workspace_id", link.WorkspaceID)
	return nil
}

// GetLinkByChat returns the link for an external chat
func (s *SQLiteStore) GetLinkByChat(ctx context.Context, channel, chatID string) (*ChannelLink, error) {
	return s.scanLink(s.db.QueryRowContext(ctx, `
		SELECT chat_id, channel, workspace_id, user_id, display_name, bot_id, linked_at
		FROM channel_links WHERE channel = ? AND chat_id = ?`,
		channel, chatID))
}

// GetLinkByWorkspace returns the link for a workspace
func (s *SQLiteStore) GetLinkByWorkspace(ctx context.Context, channel, workspaceID string) (*ChannelLink, error) {
	return s.scanLink(s.db.QueryRowContext(ctx, `
		SELECT chat_id, channel, workspace_id, user_id, display_name, bot_id, linked_at
		FROM channel_links WHERE channel = ? AND workspace_id = ?`,
		channel, workspaceID))
}

// DeleteLink removes a workspace's link and returns the removed row
func (s *SQLiteStore) DeleteLink(ctx context.Context, channel, workspaceID string) (*ChannelLink, error) {
	link, err := s.GetLinkByWorkspace(ctx, channel, workspaceID)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_links WHERE channel = ? AND workspace_id = ?`,
		channel, workspaceID,
	); err != nil {
		return nil, fmt.Errorf("deleting channel link: %w", err)
	}

	s.logger.Info("channel link removed", "channel", channel, "workspace_id", workspaceID)
	return link, nil
}

func (s *SQLiteStore) scanLink(row *sql.Row) (*ChannelLink, error) {
	var link ChannelLink
	err := row.Scan(&link.ChatID, &link.Channel, &link.WorkspaceID,
		&link.UserID, &link.DisplayName, &link.BotID, &link.LinkedAt)
	if err == sql.ErrNoRows {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning channel link: %w", err)
	}
	return &link, nil
}

// EnqueueReply adds an outbound reply to the delivery queue
func (s *SQLiteStore) EnqueueReply(ctx context.Context, reply *OutboundReply) error {
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	if reply.NextAttemptAt.IsZero() {
		reply.NextAttemptAt = reply.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbound_replies (id, channel, bot_id, chat_id, text, attempts, next_attempt_at, delivered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reply.ID, reply.Channel, reply.BotID, reply.ChatID, reply.Text,
		reply.Attempts, reply.NextAttemptAt, reply.DeliveredAt, reply.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueueing reply: %w", err)
	}
	return nil
}

// DueReplies returns undelivered replies whose next attempt is due
func (s *SQLiteStore) DueReplies(ctx context.Context, now time.Time, limit int) ([]*OutboundReply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, bot_id, chat_id, text, attempts, next_attempt_at, delivered_at, created_at
		FROM outbound_replies
		WHERE delivered_at IS NULL AND next_attempt_at <= ?
		ORDER BY created_at ASC
		LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying due replies: %w", err)
	}
	defer rows.Close()

	var replies []*OutboundReply
	for rows.Next() {
		var reply OutboundReply
		if err := rows.Scan(&reply.ID, &reply.Channel, &reply.BotID, &reply.ChatID,
			&reply.Text, &reply.Attempts, &reply.NextAttemptAt, &reply.DeliveredAt,
			&reply.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning reply: %w", err)
		}
		replies = append(replies, &reply)
	}
	return replies, rows.Err()
}

// MarkDelivered stamps a reply as delivered
func (s *SQLiteStore) MarkDelivered(ctx context.Context, replyID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outbound_replies SET delivered_at = ? WHERE id = ?`, at, replyID)
	if err != nil {
		return fmt.Errorf("marking reply delivered: %w", err)
	}
	return requireRow(result)
}

// MarkAttempt records a failed attempt and schedules the next one
func (s *SQLiteStore) MarkAttempt(ctx context.Context, replyID string, attempts int, nextAttemptAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outbound_replies SET attempts = ?, next_attempt_at = ? WHERE id = ?`,
		attempts, nextAttemptAt, replyID)
	if err != nil {
		return fmt.Errorf("marking reply attempt: %w", err)
	}
	return requireRow(result)
}

// DeleteReply removes a reply from the queue
func (s *SQLiteStore) DeleteReply(ctx context.Context, replyID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM outbound_replies WHERE id = ?`, replyID)
	if err != nil {
		return fmt.Errorf("deleting reply: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrReplyNotFound
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
