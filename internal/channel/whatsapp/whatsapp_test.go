// ABOUTME: Tests for the business-messaging adapter
// ABOUTME: Covers webhook batch decoding, the verify handshake, and Graph-style sends

package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhook_TextMessages(t *testing.T) {
	body := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"contacts": [{"wa_id": "15550001111", "profile": {"name": "Ada"}}],
					"messages": [
						{"id": "wamid.1", "from": "15550001111", "type": "text", "text": {"body": "link AB12CD"}},
						{"id": "wamid.2", "from": "15550001111", "type": "image"}
					]
				}
			}]
		}]
	}`

	inbound, err := ParseWebhook(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, inbound, 1)

	assert.Equal(t, "15550001111", inbound[0].ChatID)
	assert.Equal(t, "Ada", inbound[0].DisplayName)
	assert.Equal(t, "link AB12CD", inbound[0].Text)
}

func TestParseWebhook_ReplyContext(t *testing.T) {
	body := `{
		"entry": [{"changes": [{"value": {
			"messages": [{"id": "wamid.2", "from": "1555", "type": "text",
				"text": {"body": "yes"}, "context": {"id": "wamid.1"}}]
		}}]}]
	}`

	inbound, err := ParseWebhook(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, inbound, 1)
	assert.Equal(t, "wamid.1", inbound[0].ReplyToID)
}

func TestParseWebhook_StatusCallback(t *testing.T) {
	// Delivery status batches carry no messages; that's a valid empty result.
	body := `{"entry": [{"changes": [{"field": "messages", "value": {"statuses": [{"id": "wamid.1"}]}}]}]}`

	inbound, err := ParseWebhook(strings.NewReader(body))
	require.NoError(t, err)
	assert.Empty(t, inbound)
}

func TestParseWebhook_Malformed(t *testing.T) {
	_, err := ParseWebhook(strings.NewReader("not json"))
	assert.Error(t, err)
}

func TestVerifyChallenge(t *testing.T) {
	query := url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {"sekrit"},
		"hub.challenge":    {"12345"},
	}

	challenge, ok := VerifyChallenge(query, "sekrit")
	assert.True(t, ok)
	assert.Equal(t, "12345", challenge)
}

func TestVerifyChallenge_Rejections(t *testing.T) {
	base := url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {"sekrit"},
		"hub.challenge":    {"12345"},
	}

	wrongToken := url.Values{}
	for k, v := range base {
		wrongToken[k] = v
	}
	wrongToken.Set("hub.verify_token", "wrong")
	_, ok := VerifyChallenge(wrongToken, "sekrit")
	assert.False(t, ok)

	wrongMode := url.Values{}
	for k, v := range base {
		wrongMode[k] = v
	}
	wrongMode.Set("hub.mode", "unsubscribe")
	_, ok = VerifyChallenge(wrongMode, "sekrit")
	assert.False(t, ok)

	// No configured token never verifies.
	_, ok = VerifyChallenge(base, "")
	assert.False(t, ok)
}

func TestSendMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{"messages": []any{map[string]string{"id": "wamid.9"}}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "access-token", "phone-1")
	err := client.SendMessage(context.Background(), nil, "15550001111", "hello")
	require.NoError(t, err)

	assert.Equal(t, "/phone-1/messages", gotPath)
	assert.Equal(t, "Bearer access-token", gotAuth)
	assert.Equal(t, "whatsapp", gotBody["messaging_product"])
	assert.Equal(t, "15550001111", gotBody["to"])
	assert.Equal(t, map[string]any{"body": "hello"}, gotBody["text"])
}

func TestSendMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "recipient not allowed"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "access-token", "phone-1")
	err := client.SendMessage(context.Background(), nil, "1555", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient not allowed")
}

func TestSendMessage_NotConfigured(t *testing.T) {
	client := NewClient("http://unused", "", "")
	err := client.SendMessage(context.Background(), nil, "1555", "hello")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, client.Configured())
}
