// ABOUTME: HTTP client for the control plane that owns approval envelopes
// ABOUTME: Read envelope/pending lists, append decisions with a conditional write

package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Control plane errors
var (
	// ErrEnvelopeNotFound indicates the envelope id is unknown.
	ErrEnvelopeNotFound = errors.New("envelope not found")

	// ErrAlreadyDecided indicates the envelope already has a terminal
	// decision. The control plane enforces this with a conditional write;
	// callers must not sign or signal after seeing it.
	ErrAlreadyDecided = errors.New("envelope already decided")
)

// EnvelopeStore is the gateway's view of approval envelope persistence.
type EnvelopeStore interface {
	GetEnvelope(ctx context.Context, envelopeID string) (*Envelope, error)
	ListPending(ctx context.Context, workspaceID string) ([]*Envelope, error)
	RecordDecision(ctx context.Context, envelopeID string, decision *Decision) error
}

// ControlPlaneClient implements EnvelopeStore against the control plane's
// HTTP API.
type ControlPlaneClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewControlPlaneClient creates a client for the given base URL.
// The token authenticates the gateway as a service principal.
func NewControlPlaneClient(baseURL, token string) *ControlPlaneClient {
	return &ControlPlaneClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetEnvelope fetches a single envelope by id.
func (c *ControlPlaneClient) GetEnvelope(ctx context.Context, envelopeID string) (*Envelope, error) {
	var envelope Envelope
	err := c.do(ctx, http.MethodGet, "/v1/approvals/"+url.PathEscape(envelopeID), nil, &envelope)
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

// ListPending returns envelopes with no terminal decision for a workspace.
func (c *ControlPlaneClient) ListPending(ctx context.Context, workspaceID string) ([]*Envelope, error) {
	var result struct {
		Envelopes []*Envelope `json:"envelopes"`
	}
	path := "/v1/approvals?status=pending&workspace_id=" + url.QueryEscape(workspaceID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Envelopes, nil
}

// RecordDecision appends a decision to an envelope. The write is conditional
// on the envelope having no prior decision; a conflict surfaces as
// ErrAlreadyDecided.
func (c *ControlPlaneClient) RecordDecision(ctx context.Context, envelopeID string, decision *Decision) error {
	return c.do(ctx, http.MethodPost, "/v1/approvals/"+url.PathEscape(envelopeID)+"/decision", decision, nil)
}

// do performs one authenticated request and decodes the response into out.
func (c *ControlPlaneClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("control plane request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		// fall through to decode
	case http.StatusNotFound:
		return ErrEnvelopeNotFound
	case http.StatusConflict:
		return ErrAlreadyDecided
	default:
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("control plane %s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("control plane %s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
