// ABOUTME: Tests for the Bot-API adapter
// ABOUTME: Covers update decoding and the sendMessage/getMe REST calls

package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/botdir"
)

func TestParseUpdate_Message(t *testing.T) {
	body := `{
		"update_id": 12345,
		"message": {
			"message_id": 7,
			"from": {"id": 99, "first_name": "Ada", "last_name": "Lovelace", "username": "ada"},
			"chat": {"id": -1001234, "type": "group"},
			"date": 1700000000,
			"text": "link AB12CD",
			"reply_to_message": {"message_id": 5, "chat": {"id": -1001234}, "date": 1699999999}
		}
	}`

	inbound, err := ParseUpdate(strings.NewReader(body))
	require.NoError(t, err)
	require.NotNil(t, inbound)

	assert.Equal(t, "-1001234", inbound.ChatID)
	assert.Equal(t, "Ada Lovelace", inbound.DisplayName)
	assert.Equal(t, "link AB12CD", inbound.Text)
	assert.Equal(t, "5", inbound.ReplyToID)
}

func TestParseUpdate_UsernameFallback(t *testing.T) {
	body := `{
		"update_id": 1,
		"message": {
			"message_id": 7,
			"from": {"id": 99, "username": "ada"},
			"chat": {"id": 42, "type": "private"},
			"text": "hello"
		}
	}`

	inbound, err := ParseUpdate(strings.NewReader(body))
	require.NoError(t, err)
	require.NotNil(t, inbound)
	assert.Equal(t, "ada", inbound.DisplayName)
}

func TestParseUpdate_NoMessage(t *testing.T) {
	// Edits and service updates carry no usable message.
	for _, body := range []string{
		`{"update_id": 1}`,
		`{"update_id": 1, "edited_message": {"message_id": 2, "chat": {"id": 1}, "text": "edited"}}`,
		`{"update_id": 1, "message": {"message_id": 2, "chat": {"id": 1}}}`,
	} {
		inbound, err := ParseUpdate(strings.NewReader(body))
		require.NoError(t, err, "body %s", body)
		assert.Nil(t, inbound, "body %s", body)
	}
}

func TestParseUpdate_BotMessagesIgnored(t *testing.T) {
	body := `{
		"update_id": 1,
		"message": {
			"message_id": 7,
			"from": {"id": 99, "first_name": "Relay", "is_bot": true},
			"chat": {"id": 42, "type": "private"},
			"text": "echo"
		}
	}`

	inbound, err := ParseUpdate(strings.NewReader(body))
	require.NoError(t, err)
	assert.Nil(t, inbound)
}

func TestParseUpdate_Malformed(t *testing.T) {
	_, err := ParseUpdate(strings.NewReader("not json"))
	assert.Error(t, err)
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 1}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	bot := &botdir.Bot{ID: "bot-a", Token: "123:abc"}
	err := client.SendMessage(context.Background(), bot, "-1001234", "hello")
	require.NoError(t, err)

	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, float64(-1001234), gotBody["chat_id"])
	assert.Equal(t, "hello", gotBody["text"])
}

func TestSendMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.SendMessage(context.Background(), &botdir.Bot{ID: "b", Token: "t"}, "42", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSendMessage_NoBot(t *testing.T) {
	client := NewClient("http://unused")
	err := client.SendMessage(context.Background(), nil, "42", "hello")
	assert.ErrorIs(t, err, ErrNoBot)
}

func TestGetMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bott-1/getMe", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"id": 1, "is_bot": true, "username": "relay_bot"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	username, err := client.GetMe(context.Background(), &botdir.Bot{ID: "b", Token: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "relay_bot", username)
}
