// ABOUTME: HTTP handlers for the approval surface
// ABOUTME: Pending list, envelope lookup, and the approve/deny decision flow

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/relay-gateway/internal/approval"
	"github.com/2389/relay-gateway/internal/auth"
)

const defaultDenyReason = "Denied by user"

// defaultSignalName is used when an envelope names a workflow but no signal.
const defaultSignalName = "approval-decision"

// handlePendingApprovals returns envelope summaries with no terminal decision.
// A query for a workspace other than the caller's yields an empty list, not
// an error, so callers cannot probe workspace existence.
func (g *Gateway) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	authCtx := auth.MustFromContext(r.Context())

	workspaceID := r.URL.Query().Get("workspaceId")
	if workspaceID == "" {
		workspaceID = authCtx.WorkspaceID
	}
	if workspaceID != authCtx.WorkspaceID {
		g.writeJSON(w, http.StatusOK, map[string]any{"envelopes": []approval.Summary{}})
		return
	}

	envelopes, err := g.envelopes.ListPending(r.Context(), workspaceID)
	if err != nil {
		g.logger.Error("failed to list pending approvals", "workspace_id", workspaceID, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "control plane unavailable")
		return
	}

	summaries := make([]approval.Summary, 0, len(envelopes))
	for _, envelope := range envelopes {
		summaries = append(summaries, envelope.Summarize())
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"envelopes": summaries})
}

// handleApprovalRoutes dispatches /api/approvals/{id} and
// /api/approvals/{id}/(approve|deny).
func (g *Gateway) handleApprovalRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/approvals/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		g.handleGetApproval(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "approve":
		g.handleDecision(w, r, parts[0], true)
	case len(parts) == 2 && parts[1] == "deny":
		g.handleDecision(w, r, parts[0], false)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleGetApproval returns one envelope: 404 if absent, 403 if owned by a
// different workspace.
func (g *Gateway) handleGetApproval(w http.ResponseWriter, r *http.Request, envelopeID string) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	authCtx := auth.MustFromContext(r.Context())

	envelope, err := g.getOwnedEnvelope(w, r.Context(), authCtx.WorkspaceID, envelopeID)
	if err != nil {
		return
	}
	g.writeJSON(w, http.StatusOK, envelope)
}

// handleDecision records an approve or deny and signals the waiting workflow.
func (g *Gateway) handleDecision(w http.ResponseWriter, r *http.Request, envelopeID string, approved bool) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	authCtx := auth.MustFromContext(r.Context())
	ctx := r.Context()

	envelope, err := g.getOwnedEnvelope(w, ctx, authCtx.WorkspaceID, envelopeID)
	if err != nil {
		return
	}
	if !envelope.Pending() {
		g.sendJSONError(w, http.StatusConflict, "envelope already decided")
		return
	}

	var reason string
	if !approved {
		var body struct {
			Reason string `json:"reason"`
		}
		// An empty or absent body is fine; the reason then defaults.
		_ = json.NewDecoder(r.Body).Decode(&body)
		reason = body.Reason
		if reason == "" {
			reason = defaultDenyReason
		}
	}

	// Token first: a decision without its token would strand the workflow.
	// Tokens are minted on approval only.
	var token string
	if approved {
		token, err = g.signer.Sign(envelope.ID, envelope.WorkspaceID, authCtx.UserID)
		if err != nil {
			g.logger.Error("failed to sign approval token", "envelope_id", envelope.ID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	decision := &approval.Decision{
		Approved:  approved,
		UserID:    authCtx.UserID,
		Reason:    reason,
		DecidedAt: time.Now().UTC(),
	}
	if err := g.envelopes.RecordDecision(ctx, envelope.ID, decision); err != nil {
		if errors.Is(err, approval.ErrAlreadyDecided) {
			// Lost the race with another decision; no token leaves this
			// handler and the workflow is not re-signaled.
			g.sendJSONError(w, http.StatusConflict, "envelope already decided")
			return
		}
		g.logger.Error("failed to record decision", "envelope_id", envelope.ID, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "control plane unavailable")
		return
	}

	g.signalDecision(ctx, envelope, decision, token)

	if g.broadcaster != nil {
		g.broadcaster.Publish(envelope.WorkspaceID, "approval.decided", map[string]any{
			"envelope_id": envelope.ID,
			"approved":    approved,
		})
	}

	response := map[string]any{"success": true}
	if approved {
		response["token"] = token
	}
	g.writeJSON(w, http.StatusOK, response)
}

// signalDecision notifies the suspended workflow, if the envelope names one.
// The recorded decision is the source of truth; a missed signal is logged and
// left to workflow-side recovery, never rolled back.
func (g *Gateway) signalDecision(ctx context.Context, envelope *approval.Envelope, decision *approval.Decision, token string) {
	if envelope.WorkflowID == "" {
		return
	}
	signalName := envelope.SignalName
	if signalName == "" {
		signalName = defaultSignalName
	}

	payload := map[string]any{
		"envelope_id": envelope.ID,
		"approved":    decision.Approved,
	}
	if decision.Approved {
		payload["token"] = token
	} else {
		payload["reason"] = decision.Reason
	}

	if err := g.signaler.Signal(ctx, envelope.WorkflowID, signalName, payload); err != nil {
		g.logger.Error("failed to signal workflow with decision",
			"workflow_id", envelope.WorkflowID, "envelope_id", envelope.ID, "error", err)
	}
}

// getOwnedEnvelope fetches an envelope and enforces workspace ownership,
// writing the error response itself on failure.
func (g *Gateway) getOwnedEnvelope(w http.ResponseWriter, ctx context.Context, workspaceID, envelopeID string) (*approval.Envelope, error) {
	envelope, err := g.envelopes.GetEnvelope(ctx, envelopeID)
	if err != nil {
		if errors.Is(err, approval.ErrEnvelopeNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "envelope not found")
		} else {
			g.logger.Error("failed to fetch envelope", "envelope_id", envelopeID, "error", err)
			g.sendJSONError(w, http.StatusBadGateway, "control plane unavailable")
		}
		return nil, err
	}
	if envelope.WorkspaceID != workspaceID {
		g.sendJSONError(w, http.StatusForbidden, "forbidden")
		return nil, errors.New("workspace mismatch")
	}
	return envelope, nil
}

// writeJSON writes a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// decodeJSONBody decodes a JSON request body into out.
func decodeJSONBody(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
