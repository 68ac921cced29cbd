// ABOUTME: Shared types for messaging channel adapters
// ABOUTME: Inbound message shape plus the outbound sender contract

package channel

import (
	"context"

	"github.com/2389/relay-gateway/internal/botdir"
	"github.com/2389/relay-gateway/internal/workflow"
)

// Channel names as stored in links and reply rows.
const (
	Telegram = "telegram"
	WhatsApp = "whatsapp"
)

// Inbound is one decoded inbound message, normalized across channel wire
// formats.
type Inbound struct {
	ChatID      string
	DisplayName string
	Text        string
	ReplyToID   string
}

// Sender delivers one outbound message through a channel's REST API.
// Channels that carry their credential in the client (rather than per-bot)
// ignore the bot argument.
type Sender interface {
	SendMessage(ctx context.Context, bot *botdir.Bot, chatID, text string) error
}

// Relayer runs one conversational turn through the workflow engine and
// returns the text to send back. Implemented by the workflow bridge.
type Relayer interface {
	Relay(ctx context.Context, mapping *workflow.Mapping, text string, meta *workflow.Meta) string
}
