// ABOUTME: HTTP handlers for the channel surface
// ABOUTME: Link handshake, status/disconnect, bot-status, and the public webhooks

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/channel"
	"github.com/2389/relay-gateway/internal/channel/telegram"
	"github.com/2389/relay-gateway/internal/channel/whatsapp"
	"github.com/2389/relay-gateway/internal/linkcode"
	"github.com/2389/relay-gateway/internal/store"
)

// webhookProcessTimeout bounds background processing of one inbound message.
// It outlasts the workflow relay wait so replies are not cut off mid-turn.
const webhookProcessTimeout = 2 * time.Minute

// serviceFor returns the channel service for a channel name, defaulting to
// the bot-protocol channel.
func (g *Gateway) serviceFor(name string) *channel.Service {
	if name == channel.WhatsApp {
		return g.whatsappSvc
	}
	return g.telegramSvc
}

// handleChannelLink issues a link code for the caller's workspace.
func (g *Gateway) handleChannelLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	authCtx := auth.MustFromContext(r.Context())

	var body struct {
		Channel string `json:"channel"`
		BotID   string `json:"botId"`
	}
	_ = decodeJSONBody(r, &body)
	channelName := body.Channel
	if channelName == "" {
		channelName = channel.Telegram
	}

	var botID, botIdentity string
	if channelName == channel.Telegram {
		bot := g.directory.Resolve(authCtx.WorkspaceID, body.BotID)
		if bot == nil {
			g.sendJSONError(w, http.StatusServiceUnavailable, "no bot configured for this channel")
			return
		}
		botID = bot.ID
		botIdentity = bot.Username
		if botIdentity == "" {
			botIdentity = bot.ID
		}
	}

	code, err := g.registry.Issue(authCtx.WorkspaceID, authCtx.UserID, botID, channelName)
	if err != nil {
		g.logger.Error("failed to issue link code", "workspace_id", authCtx.WorkspaceID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"linkCode":    code.Value,
		"expiresAt":   code.ExpiresAt,
		"botIdentity": botIdentity,
		"instructions": fmt.Sprintf(
			"Open the chat and send: link %s (the code expires in 10 minutes)", code.Value),
	})
}

// handleLinkComplete finishes the handshake from the workspace side and
// persists the chat-to-workspace mapping.
func (g *Gateway) handleLinkComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	authCtx := auth.MustFromContext(r.Context())

	var body struct {
		LinkCode string `json:"linkCode"`
	}
	if err := decodeJSONBody(r, &body); err != nil || body.LinkCode == "" {
		g.sendJSONError(w, http.StatusBadRequest, "linkCode is required")
		return
	}

	// Ownership first: completing someone else's code must look identical to
	// a code that never existed.
	if peeked, err := g.registry.Peek(body.LinkCode); err == nil && peeked.WorkspaceID != authCtx.WorkspaceID {
		g.sendJSONError(w, http.StatusBadRequest, "invalid or expired link code")
		return
	}

	code, err := g.registry.Complete(body.LinkCode)
	if err != nil {
		switch {
		case errors.Is(err, linkcode.ErrCodeExpired):
			g.sendJSONError(w, http.StatusBadRequest, "link code expired")
		case errors.Is(err, linkcode.ErrNotConfirmed):
			g.sendJSONError(w, http.StatusConflict, "chat has not confirmed the code yet")
		default:
			g.sendJSONError(w, http.StatusBadRequest, "invalid or expired link code")
		}
		return
	}

	link := &store.ChannelLink{
		ChatID:      code.ChatID,
		Channel:     code.Channel,
		WorkspaceID: code.WorkspaceID,
		UserID:      code.UserID,
		DisplayName: code.DisplayName,
		BotID:       code.BotID,
		LinkedAt:    time.Now().UTC(),
	}
	if err := g.store.UpsertLink(r.Context(), link); err != nil {
		g.logger.Error("failed to persist channel link", "workspace_id", code.WorkspaceID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	service := g.serviceFor(code.Channel)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		service.NotifyLinkComplete(ctx, link)
	}()

	if g.broadcaster != nil {
		g.broadcaster.Publish(code.WorkspaceID, "channel.linked", map[string]string{
			"channel": code.Channel,
		})
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"externalIdentity": code.DisplayName,
	})
}

// handleChannelStatus reports whether the caller's workspace has a link.
func (g *Gateway) handleChannelStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	authCtx := auth.MustFromContext(r.Context())

	// The caller can only see its own workspace; a foreign workspaceId query
	// reads as not connected rather than confirming anything exists.
	if ws := r.URL.Query().Get("workspaceId"); ws != "" && ws != authCtx.WorkspaceID {
		g.writeJSON(w, http.StatusOK, map[string]any{"connected": false})
		return
	}

	channelName := r.URL.Query().Get("channel")
	if channelName == "" {
		channelName = channel.Telegram
	}

	link, err := g.store.GetLinkByWorkspace(r.Context(), channelName, authCtx.WorkspaceID)
	if err != nil {
		g.writeJSON(w, http.StatusOK, map[string]any{"connected": false})
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"connected":        true,
		"externalIdentity": link.DisplayName,
	})
}

// handleChannelDisconnect removes the workspace's link and notifies the chat.
func (g *Gateway) handleChannelDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	authCtx := auth.MustFromContext(r.Context())

	channelName := r.URL.Query().Get("channel")
	if channelName == "" {
		channelName = channel.Telegram
	}

	link, err := g.store.DeleteLink(r.Context(), channelName, authCtx.WorkspaceID)
	if err != nil {
		if errors.Is(err, store.ErrLinkNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "no channel link for this workspace")
			return
		}
		g.logger.Error("failed to remove channel link", "workspace_id", authCtx.WorkspaceID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	service := g.serviceFor(channelName)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		service.NotifyDisconnect(ctx, link)
	}()

	if g.broadcaster != nil {
		g.broadcaster.Publish(authCtx.WorkspaceID, "channel.disconnected", map[string]string{
			"channel": channelName,
		})
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleBotStatus reports whether a bot is configured. Public: setup screens
// call it before any credential exists. Missing configuration is an expected
// state, never an error.
func (g *Gateway) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if g.directory == nil || g.directory.Empty() {
		g.writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}

	bot := g.directory.Resolve("", r.URL.Query().Get("botId"))
	username := bot.Username
	if username == "" && g.botClient != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if name, err := g.botClient.GetMe(ctx, bot); err == nil {
			username = name
		} else {
			g.logger.Warn("bot identity lookup failed", "bot_id", bot.ID, "error", err)
		}
	}

	response := map[string]any{"configured": true}
	if username != "" {
		response["botUsername"] = username
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleTelegramWebhook accepts bot-protocol updates. The provider always
// gets a 200 ack immediately; processing happens in the background so a slow
// workflow turn cannot trigger provider retries.
func (g *Gateway) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	defer g.ackWebhook(w)

	if r.Method != http.MethodPost {
		return
	}

	inbound, err := telegram.ParseUpdate(r.Body)
	if err != nil {
		g.logger.Warn("malformed webhook update", "error", err)
		return
	}
	if inbound == nil {
		return
	}

	bot := g.directory.Resolve("", r.URL.Query().Get("botId"))
	if bot == nil {
		g.logger.Warn("webhook received but no bot configured")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
		defer cancel()
		g.telegramSvc.HandleInbound(ctx, bot, inbound)
	}()
}

// handleWhatsAppWebhook serves the business-messaging webhook: GET is the
// provider's verification handshake, POST carries inbound batches.
func (g *Gateway) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		challenge, ok := whatsapp.VerifyChallenge(r.URL.Query(), g.config.Channels.WhatsApp.VerifyToken)
		if !ok {
			g.sendJSONError(w, http.StatusForbidden, "verification failed")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}

	defer g.ackWebhook(w)
	if r.Method != http.MethodPost {
		return
	}

	inbound, err := whatsapp.ParseWebhook(r.Body)
	if err != nil {
		g.logger.Warn("malformed webhook batch", "error", err)
		return
	}

	for _, msg := range inbound {
		msg := msg
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
			defer cancel()
			g.whatsappSvc.HandleInbound(ctx, nil, msg)
		}()
	}
}

// ackWebhook writes the provider ack. Always 200: a non-200 response risks
// retry storms or channel suspension.
func (g *Gateway) ackWebhook(w http.ResponseWriter) {
	g.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
