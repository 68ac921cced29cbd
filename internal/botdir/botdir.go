// ABOUTME: Directory of configured channel bot identities
// ABOUTME: Resolves which bot serves a workspace, with a legacy single-token fallback

package botdir

import (
	"log/slog"
	"sort"

	"github.com/2389/relay-gateway/internal/config"
)

// Bot is one configured bot identity on a channel.
type Bot struct {
	ID       string
	Token    string
	Username string
}

// Directory holds the configured bots for one channel and answers which bot
// should serve a given workspace. It is built once at startup and read-only
// afterwards, so lookups need no locking.
type Directory struct {
	bots       []*Bot
	byID       map[string]*Bot
	workspaces map[string]*Bot
	defaultBot *Bot
	logger     *slog.Logger
}

// New builds a Directory from channel configuration. A legacy single token
// (the pre-multi-bot config shape) is registered as a bot with id "default".
func New(cfg config.TelegramConfig, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		byID:       make(map[string]*Bot),
		workspaces: make(map[string]*Bot),
		logger:     logger.With("component", "botdir"),
	}

	for _, entry := range cfg.Bots {
		bot := &Bot{ID: entry.ID, Token: entry.Token, Username: entry.Username}
		d.bots = append(d.bots, bot)
		d.byID[bot.ID] = bot
		for _, ws := range entry.Workspaces {
			if existing, ok := d.workspaces[ws]; ok {
				d.logger.Warn("workspace mapped to multiple bots, keeping first",
					"workspace_id", ws, "kept", existing.ID, "ignored", bot.ID)
			} else {
				d.workspaces[ws] = bot
			}
		}
	}

	if cfg.DefaultBot != "" {
		if bot, ok := d.byID[cfg.DefaultBot]; ok {
			d.defaultBot = bot
		} else {
			d.logger.Warn("default_bot does not match any configured bot", "default_bot", cfg.DefaultBot)
		}
	}

	// Legacy single-token config, only honored when no bot list is present.
	if len(d.bots) == 0 && cfg.Token != "" {
		bot := &Bot{ID: "default", Token: cfg.Token}
		d.bots = append(d.bots, bot)
		d.byID[bot.ID] = bot
	}

	return d
}

// Resolve returns the bot that should serve the workspace. An explicit bot id
// wins, then the workspace mapping, then the configured default, then the
// first configured bot. Returns nil when no bot is configured at all.
func (d *Directory) Resolve(workspaceID, explicitBotID string) *Bot {
	if explicitBotID != "" {
		if bot, ok := d.byID[explicitBotID]; ok {
			return bot
		}
		d.logger.Warn("unknown bot id requested, falling back", "bot_id", explicitBotID)
	}
	if bot, ok := d.workspaces[workspaceID]; ok {
		return bot
	}
	if d.defaultBot != nil {
		return d.defaultBot
	}
	if len(d.bots) > 0 {
		return d.bots[0]
	}
	return nil
}

// Get returns the bot with the given id, or nil.
func (d *Directory) Get(botID string) *Bot {
	return d.byID[botID]
}

// All returns every configured bot, ordered by id.
func (d *Directory) All() []*Bot {
	out := make([]*Bot, len(d.bots))
	copy(out, d.bots)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Empty reports whether no bots are configured.
func (d *Directory) Empty() bool {
	return len(d.bots) == 0
}
