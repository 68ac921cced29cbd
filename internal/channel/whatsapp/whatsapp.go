// ABOUTME: Business-messaging channel adapter: webhook batch decoding and Graph-style sends
// ABOUTME: Single phone-number credential; includes the hub-challenge verification handshake

package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/2389/relay-gateway/internal/botdir"
	"github.com/2389/relay-gateway/internal/channel"
)

const defaultBaseURL = "https://graph.facebook.com/v19.0"

// ErrNotConfigured indicates a send was attempted without credentials.
var ErrNotConfigured = errors.New("whatsapp credentials not configured")

// ---------- Wire types (webhook subset) ----------

type waWebhook struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Field string  `json:"field"`
	Value waValue `json:"value"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
	Contacts         []waContact `json:"contacts"`
}

type waMessage struct {
	ID      string  `json:"id"`
	From    string  `json:"from"`
	Type    string  `json:"type"`
	Text    *waText `json:"text"`
	Context *struct {
		ID string `json:"id"`
	} `json:"context"`
}

type waText struct {
	Body string `json:"body"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// ParseWebhook decodes one webhook batch into normalized inbound messages.
// Non-text messages are skipped. An empty slice is a valid outcome (status
// callbacks arrive on the same endpoint).
func ParseWebhook(body io.Reader) ([]*channel.Inbound, error) {
	var hook waWebhook
	if err := json.NewDecoder(body).Decode(&hook); err != nil {
		return nil, fmt.Errorf("decoding webhook: %w", err)
	}

	var inbound []*channel.Inbound
	for _, entry := range hook.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}

			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					continue
				}
				in := &channel.Inbound{
					ChatID:      msg.From,
					DisplayName: names[msg.From],
					Text:        msg.Text.Body,
				}
				if msg.Context != nil {
					in.ReplyToID = msg.Context.ID
				}
				inbound = append(inbound, in)
			}
		}
	}
	return inbound, nil
}

// VerifyChallenge handles the provider's GET verification handshake. Returns
// the challenge to echo, or false when the mode or token does not match.
func VerifyChallenge(query url.Values, verifyToken string) (string, bool) {
	if verifyToken == "" {
		return "", false
	}
	if query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != verifyToken {
		return "", false
	}
	return query.Get("hub.challenge"), true
}

// Client implements channel.Sender against the Graph-style messages endpoint.
// Credentials are account-level (access token + phone number id), so the
// per-send bot argument is ignored.
type Client struct {
	baseURL       string
	accessToken   string
	phoneNumberID string
	client        *http.Client
}

// NewClient creates a business-messaging client. baseURL is overridable for
// tests; empty selects the production endpoint.
func NewClient(baseURL, accessToken, phoneNumberID string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:       baseURL,
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether the client has usable credentials.
func (c *Client) Configured() bool {
	return c.accessToken != "" && c.phoneNumberID != ""
}

// SendMessage delivers text to a chat via the messages endpoint.
func (c *Client) SendMessage(ctx context.Context, _ *botdir.Bot, chatID, text string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                chatID,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	endpoint := c.baseURL + "/" + url.PathEscape(c.phoneNumberID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error.Message != "" {
			return fmt.Errorf("send rejected: %s (status %d)", apiErr.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("send rejected: status %d", resp.StatusCode)
	}
	return nil
}
