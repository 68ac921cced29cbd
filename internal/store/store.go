// ABOUTME: Store interface and record types for durable gateway state
// ABOUTME: Channel-to-workspace links and the outbound reply retry queue

package store

import (
	"context"
	"errors"
	"time"
)

// Store errors
var (
	// ErrLinkNotFound indicates no channel link exists for the key.
	ErrLinkNotFound = errors.New("channel link not found")

	// ErrReplyNotFound indicates the outbound reply id is unknown.
	ErrReplyNotFound = errors.New("outbound reply not found")
)

// ChannelLink ties one external chat to one workspace user. A chat id has at
// most one link; relinking overwrites the previous owner (last link wins).
type ChannelLink struct {
	ChatID      string
	Channel     string
	WorkspaceID string
	UserID      string
	DisplayName string
	BotID       string
	LinkedAt    time.Time
}

// OutboundReply is one queued channel message awaiting delivery. Replies are
// attempted inline once and then replayed by the retry sweep with backoff
// until delivered or exhausted.
type OutboundReply struct {
	ID            string
	Channel       string
	BotID         string
	ChatID        string
	Text          string
	Attempts      int
	NextAttemptAt time.Time
	DeliveredAt   *time.Time
	CreatedAt     time.Time
}

// Store persists channel links and the outbound reply queue.
type Store interface {
	// UpsertLink creates or replaces the link for a chat id.
	UpsertLink(ctx context.Context, link *ChannelLink) error

	// GetLinkByChat returns the link for an external chat, or ErrLinkNotFound.
	GetLinkByChat(ctx context.Context, channel, chatID string) (*ChannelLink, error)

	// GetLinkByWorkspace returns the link for a workspace, or ErrLinkNotFound.
	GetLinkByWorkspace(ctx context.Context, channel, workspaceID string) (*ChannelLink, error)

	// DeleteLink removes a workspace's link and returns it, or ErrLinkNotFound.
	DeleteLink(ctx context.Context, channel, workspaceID string) (*ChannelLink, error)

	// EnqueueReply adds an outbound reply to the delivery queue.
	EnqueueReply(ctx context.Context, reply *OutboundReply) error

	// DueReplies returns undelivered replies whose next attempt is due,
	// oldest first, at most limit rows.
	DueReplies(ctx context.Context, now time.Time, limit int) ([]*OutboundReply, error)

	// MarkDelivered stamps a reply as delivered.
	MarkDelivered(ctx context.Context, replyID string, at time.Time) error

	// MarkAttempt records a failed attempt and schedules the next one.
	MarkAttempt(ctx context.Context, replyID string, attempts int, nextAttemptAt time.Time) error

	// DeleteReply removes a reply from the queue.
	DeleteReply(ctx context.Context, replyID string) error

	// Close releases the underlying database.
	Close() error
}
