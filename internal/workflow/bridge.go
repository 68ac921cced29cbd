// ABOUTME: HTTP client bridge to the external workflow orchestrator
// ABOUTME: Starts chat-turn workflows, signals waiting ones, and waits bounded for results

package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Bridge errors
var (
	// ErrResultTimeout indicates the workflow did not finish within the wait
	// window. The workflow keeps running server-side.
	ErrResultTimeout = errors.New("workflow result timed out")

	// ErrWorkflowFailed indicates the workflow reached a terminal failure.
	ErrWorkflowFailed = errors.New("workflow failed")
)

// Messages sent to channel users when a relay cannot produce a real answer.
// Internals never leak past these strings.
const (
	timeoutReply = "Sorry, that's taking longer than expected. I'm still working on it and you'll see the result in the app."
	failureReply = "Sorry, something went wrong handling that message. Please try again in a moment."
)

const chatTurnWorkflowType = "chat-turn"

// Mapping is the link context a relay runs under.
type Mapping struct {
	WorkspaceID string
	UserID      string
	Channel     string
	ChatID      string
}

// Meta carries channel metadata alongside a relayed message.
type Meta struct {
	DisplayName string `json:"display_name,omitempty"`
	ReplyToID   string `json:"reply_to_id,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
}

// ResultPublisher receives workflow results that arrive after the relay wait
// gave up. Implemented by the event fan-out.
type ResultPublisher interface {
	Publish(workspaceID, eventType string, payload any)
}

// Bridge talks to the external workflow orchestrator over HTTP.
type Bridge struct {
	baseURL       string
	taskQueue     string
	resultTimeout time.Duration
	client        *http.Client
	// pollClient has no per-request timeout; long-poll requests are bounded
	// by context deadlines instead.
	pollClient *http.Client
	publisher  ResultPublisher
	logger     *slog.Logger
}

// New creates a Bridge. publisher may be nil; late results are then only
// logged.
func New(baseURL, taskQueue string, resultTimeout time.Duration, publisher ResultPublisher, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if resultTimeout <= 0 {
		resultTimeout = 60 * time.Second
	}
	return &Bridge{
		baseURL:       baseURL,
		taskQueue:     taskQueue,
		resultTimeout: resultTimeout,
		client:        &http.Client{Timeout: 15 * time.Second},
		pollClient:    &http.Client{},
		publisher:     publisher,
		logger:        logger.With("component", "workflow"),
	}
}

// Start launches a workflow execution.
func (b *Bridge) Start(ctx context.Context, workflowType, workflowID string, args any) error {
	body := map[string]any{
		"workflow_type": workflowType,
		"workflow_id":   workflowID,
		"task_queue":    b.taskQueue,
		"args":          args,
	}
	if err := b.post(ctx, "/v1/workflows", body, nil); err != nil {
		return fmt.Errorf("starting workflow %s: %w", workflowID, err)
	}
	return nil
}

// Signal delivers a named signal to a running workflow.
func (b *Bridge) Signal(ctx context.Context, workflowID, signalName string, payload any) error {
	path := "/v1/workflows/" + url.PathEscape(workflowID) + "/signal/" + url.PathEscape(signalName)
	if err := b.post(ctx, path, payload, nil); err != nil {
		return fmt.Errorf("signaling workflow %s: %w", workflowID, err)
	}
	return nil
}

// Result blocks until the workflow reaches a terminal state or the bridge's
// wait window elapses. The workflow is not cancelled on timeout.
func (b *Bridge) Result(ctx context.Context, workflowID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.resultTimeout)
	defer cancel()

	path := b.baseURL + "/v1/workflows/" + url.PathEscape(workflowID) + "/result"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("creating result request: %w", err)
	}

	// The result endpoint long-polls; the per-request client timeout would
	// cut it short, so this request uses only the context deadline.
	resp, err := b.pollClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return "", ErrResultTimeout
		}
		return "", fmt.Errorf("fetching workflow result: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
		Output string `json:"output"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding workflow result: %w", err)
	}

	switch result.Status {
	case "completed":
		return result.Output, nil
	case "failed", "terminated":
		return "", fmt.Errorf("%w: %s", ErrWorkflowFailed, result.Error)
	default:
		return "", fmt.Errorf("unexpected workflow status %q", result.Status)
	}
}

// Relay runs one conversational turn: start a chat-turn workflow for the
// mapping, wait bounded for its result, and return the text to send back.
// Timeouts and failures come back as canned user-facing replies, never an
// error the channel could leak.
func (b *Bridge) Relay(ctx context.Context, mapping *Mapping, text string, meta *Meta) string {
	workflowID := runID(mapping.WorkspaceID, mapping.Channel)
	logger := b.logger.With("workflow_id", workflowID, "workspace_id", mapping.WorkspaceID)

	args := map[string]any{
		"workspace_id": mapping.WorkspaceID,
		"user_id":      mapping.UserID,
		"channel":      mapping.Channel,
		"chat_id":      mapping.ChatID,
		"text":         text,
		"meta":         meta,
	}
	if err := b.Start(ctx, chatTurnWorkflowType, workflowID, args); err != nil {
		logger.Error("failed to start chat-turn workflow", "error", err)
		return failureReply
	}

	reply, err := b.Result(ctx, workflowID)
	if err == nil {
		return reply
	}

	if errors.Is(err, ErrResultTimeout) {
		logger.Warn("chat-turn workflow still running after wait window")
		// The workflow keeps going; its late result surfaces on the event
		// stream instead of being re-sent into the channel.
		go b.watchLateResult(workflowID, mapping.WorkspaceID)
		return timeoutReply
	}

	logger.Error("chat-turn workflow failed", "error", err)
	return failureReply
}

// watchLateResult waits past the relay window for a timed-out workflow and
// publishes its eventual result to the workspace event stream.
func (b *Bridge) watchLateResult(workflowID, workspaceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	path := b.baseURL + "/v1/workflows/" + url.PathEscape(workflowID) + "/result"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return
	}
	resp, err := b.pollClient.Do(req)
	if err != nil {
		b.logger.Warn("late result watch gave up", "workflow_id", workflowID, "error", err)
		return
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
		Output string `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.Status != "completed" {
		return
	}

	b.logger.Info("late workflow result arrived", "workflow_id", workflowID)
	if b.publisher != nil {
		b.publisher.Publish(workspaceID, "workflow.late_result", map[string]string{
			"workflow_id": workflowID,
			"output":      result.Output,
		})
	}
}

// post sends a JSON request and optionally decodes the response.
func (b *Bridge) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("workflow engine request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("workflow engine: %s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("workflow engine: status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// runID derives a collision-resistant workflow id for one conversational turn.
func runID(workspaceID, channel string) string {
	return fmt.Sprintf("chat-%s-%s-%d", workspaceID, channel, time.Now().UnixNano())
}
