// ABOUTME: Bot-API channel adapter: webhook update decoding and REST sends
// ABOUTME: Per-bot tokens; reworked from long polling to webhook delivery

package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/relay-gateway/internal/botdir"
	"github.com/2389/relay-gateway/internal/channel"
)

const defaultBaseURL = "https://api.telegram.org"

// ErrNoBot indicates a send was attempted without a resolvable bot credential.
var ErrNoBot = errors.New("no bot credential available")

// ---------- Wire types (Bot API subset) ----------

type tgUpdate struct {
	UpdateID      int64      `json:"update_id"`
	Message       *tgMessage `json:"message"`
	EditedMessage *tgMessage `json:"edited_message"`
}

type tgMessage struct {
	MessageID      int        `json:"message_id"`
	From           *tgUser    `json:"from"`
	Chat           tgChat     `json:"chat"`
	Date           int        `json:"date"`
	Text           string     `json:"text"`
	ReplyToMessage *tgMessage `json:"reply_to_message"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"` // "private", "group", "supergroup", "channel"
}

type tgBotUser struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

// ParseUpdate decodes one webhook body into the normalized inbound shape.
// Returns nil for updates that carry no usable message (edits, service
// events); callers ack those without further work.
func ParseUpdate(body io.Reader) (*channel.Inbound, error) {
	var update tgUpdate
	if err := json.NewDecoder(body).Decode(&update); err != nil {
		return nil, fmt.Errorf("decoding update: %w", err)
	}

	msg := update.Message
	if msg == nil || msg.Text == "" {
		return nil, nil
	}
	if msg.From != nil && msg.From.IsBot {
		return nil, nil
	}

	inbound := &channel.Inbound{
		ChatID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:   msg.Text,
	}
	if msg.From != nil {
		inbound.DisplayName = displayName(msg.From)
	}
	if msg.ReplyToMessage != nil {
		inbound.ReplyToID = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}
	return inbound, nil
}

func displayName(user *tgUser) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Username
	}
	return name
}

// Client implements channel.Sender against the Bot API. The credential comes
// from the per-send bot, so one client serves every configured bot.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Bot API client. baseURL is overridable for tests;
// empty selects the production endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendMessage delivers text to a chat via the sendMessage method.
func (c *Client) SendMessage(ctx context.Context, bot *botdir.Bot, chatID, text string) error {
	if bot == nil || bot.Token == "" {
		return ErrNoBot
	}
	chat, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	_, err = c.apiCall(ctx, bot.Token, "sendMessage", map[string]any{
		"chat_id": chat,
		"text":    text,
	})
	return err
}

// GetMe verifies a bot token and returns the bot's username.
func (c *Client) GetMe(ctx context.Context, bot *botdir.Bot) (string, error) {
	if bot == nil || bot.Token == "" {
		return "", ErrNoBot
	}
	data, err := c.apiCall(ctx, bot.Token, "getMe", nil)
	if err != nil {
		return "", err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return "", fmt.Errorf("parsing getMe: %w", err)
	}
	return user.Username, nil
}

// apiCall makes a POST request to one Bot API method.
func (c *Client) apiCall(ctx context.Context, token, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	url := c.baseURL + "/bot" + token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("%s: %s", method, result.Description)
	}
	return result.Result, nil
}
