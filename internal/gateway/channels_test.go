// ABOUTME: Tests for the channel HTTP handlers
// ABOUTME: Covers the full link handshake, webhooks, status, disconnect, and bot-status

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/channel"
	"github.com/2389/relay-gateway/internal/store"
)

// issueLinkCode drives POST /api/channel/link and returns the code.
func issueLinkCode(t *testing.T, h *harness, bearer string) string {
	t.Helper()
	resp := h.request(t, http.MethodPost, "/api/channel/link", bearer, "{}")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		LinkCode    string `json:"linkCode"`
		BotIdentity string `json:"botIdentity"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.LinkCode)
	assert.Equal(t, "relay_bot", body.BotIdentity)
	return body.LinkCode
}

// telegramUpdate builds a minimal webhook body for a text message.
func telegramUpdate(chatID int64, name, text string) string {
	return fmt.Sprintf(`{
		"update_id": 1,
		"message": {
			"message_id": 7,
			"from": {"id": 99, "first_name": %q},
			"chat": {"id": %d, "type": "private"},
			"text": %q
		}
	}`, name, chatID, text)
}

func TestLinkHandshake_FullFlow(t *testing.T) {
	h := newTestHarness(t)
	bearer := h.token(t, "user-1", "ws-1")

	code := issueLinkCode(t, h, bearer)

	// External chat sends the code through the webhook.
	resp := h.request(t, http.MethodPost, "/api/channel/webhook", "", telegramUpdate(999, "Ada", "link "+code))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Webhook processing is async; wait for the chat confirmation.
	require.Eventually(t, func() bool {
		peeked, err := h.registry.Peek(code)
		return err == nil && peeked.ChatID == "999"
	}, 2*time.Second, 10*time.Millisecond)

	// Workspace side completes.
	resp = h.request(t, http.MethodPost, "/api/channel/link/complete", bearer,
		fmt.Sprintf(`{"linkCode":%q}`, code))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var completeBody struct {
		Success          bool   `json:"success"`
		ExternalIdentity string `json:"externalIdentity"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&completeBody))
	assert.True(t, completeBody.Success)
	assert.Equal(t, "Ada", completeBody.ExternalIdentity)

	// Status now reports connected.
	resp = h.request(t, http.MethodGet, "/api/channel/status?workspaceId=ws-1", bearer, "")
	defer resp.Body.Close()
	var statusBody struct {
		Connected bool `json:"connected"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statusBody))
	assert.True(t, statusBody.Connected)

	// Single use: a second complete fails.
	resp = h.request(t, http.MethodPost, "/api/channel/link/complete", bearer,
		fmt.Sprintf(`{"linkCode":%q}`, code))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLinkComplete_BeforeChatConfirms(t *testing.T) {
	h := newTestHarness(t)
	bearer := h.token(t, "user-1", "ws-1")
	code := issueLinkCode(t, h, bearer)

	resp := h.request(t, http.MethodPost, "/api/channel/link/complete", bearer,
		fmt.Sprintf(`{"linkCode":%q}`, code))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLinkComplete_ForeignWorkspaceCode(t *testing.T) {
	h := newTestHarness(t)
	code := issueLinkCode(t, h, h.token(t, "user-1", "ws-1"))

	// Confirm from the chat so the code would otherwise be completable.
	_, err := h.registry.ConfirmFromChannel(code, "999", "Ada")
	require.NoError(t, err)

	// A different workspace cannot complete it, and the response is
	// indistinguishable from an unknown code.
	resp := h.request(t, http.MethodPost, "/api/channel/link/complete",
		h.token(t, "user-2", "ws-2"), fmt.Sprintf(`{"linkCode":%q}`, code))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid or expired link code", body["error"])
}

func TestWebhook_AlwaysAcks(t *testing.T) {
	h := newTestHarness(t)

	for _, body := range []string{
		"not json",
		`{"update_id": 1}`,
		telegramUpdate(999, "Ada", "link WRONG1"),
		telegramUpdate(999, "Ada", "free text from unlinked chat"),
	} {
		resp := h.request(t, http.MethodPost, "/api/channel/webhook", "", body)
		var ack map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "body %s", body)
		assert.True(t, ack["ok"], "body %s", body)
	}
}

func TestWebhook_LinkedFreeTextRelays(t *testing.T) {
	h := newTestHarness(t)
	linkChat(t, h, "999", "ws-1")

	resp := h.request(t, http.MethodPost, "/api/channel/webhook", "", telegramUpdate(999, "Ada", "hello assistant"))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		for _, msg := range h.sender.messages() {
			if msg.chatID == "999" && msg.text == "workflow reply" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWhatsAppWebhook_VerifyHandshake(t *testing.T) {
	h := newTestHarness(t)

	resp := h.request(t, http.MethodGet,
		"/api/channel/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=verify-sekrit&hub.challenge=42", "", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.request(t, http.MethodGet,
		"/api/channel/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", "", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWhatsAppWebhook_InboundBatch(t *testing.T) {
	h := newTestHarness(t)

	body := `{
		"entry": [{"changes": [{"value": {
			"contacts": [{"wa_id": "1555", "profile": {"name": "Ada"}}],
			"messages": [{"id": "wamid.1", "from": "1555", "type": "text", "text": {"body": "help"}}]
		}}]}]
	}`
	resp := h.request(t, http.MethodPost, "/api/channel/whatsapp/webhook", "", body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return len(h.sender.messages()) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChannelDisconnect(t *testing.T) {
	h := newTestHarness(t)
	bearer := h.token(t, "user-1", "ws-1")
	linkChat(t, h, "999", "ws-1")

	resp := h.request(t, http.MethodDelete, "/api/channel/disconnect?workspaceId=ws-1", bearer, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The external chat is told about the disconnect.
	require.Eventually(t, func() bool {
		for _, msg := range h.sender.messages() {
			if msg.chatID == "999" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	resp = h.request(t, http.MethodGet, "/api/channel/status", bearer, "")
	defer resp.Body.Close()
	var statusBody struct {
		Connected bool `json:"connected"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statusBody))
	assert.False(t, statusBody.Connected)
}

func TestChannelDisconnect_NotLinked(t *testing.T) {
	h := newTestHarness(t)

	resp := h.request(t, http.MethodDelete, "/api/channel/disconnect", h.token(t, "user-1", "ws-1"), "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBotStatus(t *testing.T) {
	h := newTestHarness(t)

	resp := h.request(t, http.MethodGet, "/api/channel/bot-status", "", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Configured  bool   `json:"configured"`
		BotUsername string `json:"botUsername"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Configured)
	assert.Equal(t, "relay_bot", body.BotUsername)
}

func TestChannelStatus_ForeignWorkspace(t *testing.T) {
	h := newTestHarness(t)
	linkChat(t, h, "999", "ws-1")

	// A ws-2 caller probing ws-1 sees not-connected.
	resp := h.request(t, http.MethodGet, "/api/channel/status?workspaceId=ws-1", h.token(t, "user-2", "ws-2"), "")
	defer resp.Body.Close()
	var body struct {
		Connected bool `json:"connected"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Connected)
}

// linkChat establishes a chat-to-workspace link directly in the store.
func linkChat(t *testing.T, h *harness, chatID, workspaceID string) {
	t.Helper()
	require.NoError(t, h.store.UpsertLink(t.Context(), &store.ChannelLink{
		ChatID:      chatID,
		Channel:     channel.Telegram,
		WorkspaceID: workspaceID,
		UserID:      "user-1",
		DisplayName: "Ada",
		BotID:       "bot-a",
		LinkedAt:    time.Now().UTC(),
	}))
}
