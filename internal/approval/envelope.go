// ABOUTME: Approval envelope and decision types mirrored from the control plane
// ABOUTME: Envelopes are immutable; a decision is appended exactly once

package approval

import (
	"encoding/json"
	"time"
)

// RiskLevel classifies the blast radius of a proposed action.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Envelope describes one proposed agent action awaiting a human decision.
// Envelopes are owned by the control plane and read-only to the gateway.
type Envelope struct {
	ID              string          `json:"envelope_id"`
	WorkspaceID     string          `json:"workspace_id"`
	Intent          string          `json:"intent"`
	ToolName        string          `json:"tool_name"`
	Inputs          json.RawMessage `json:"inputs,omitempty"`
	ExpectedOutputs json.RawMessage `json:"expected_outputs,omitempty"`
	Risk            RiskLevel       `json:"risk_level"`
	PIIFields       []string        `json:"pii_fields,omitempty"`
	RollbackPlan    string          `json:"rollback_plan,omitempty"`
	AuditHash       string          `json:"audit_hash,omitempty"`
	RequestedAt     time.Time       `json:"requested_at"`

	// WorkflowID and SignalName identify the suspended workflow execution
	// awaiting this decision. Both are empty for envelopes created outside a
	// workflow context.
	WorkflowID string `json:"workflow_id,omitempty"`
	SignalName string `json:"signal_name,omitempty"`

	// Decision is the terminal outcome, nil while the envelope is pending.
	Decision *Decision `json:"decision,omitempty"`
}

// Decision is the terminal approve/deny record appended to an envelope.
// Decisions are not revocable.
type Decision struct {
	Approved  bool      `json:"approved"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Pending reports whether the envelope still awaits a terminal decision.
func (e *Envelope) Pending() bool {
	return e.Decision == nil
}

// Summary is the compact form returned by pending-approval listings.
type Summary struct {
	ID          string    `json:"envelope_id"`
	WorkspaceID string    `json:"workspace_id"`
	Intent      string    `json:"intent"`
	ToolName    string    `json:"tool_name"`
	Risk        RiskLevel `json:"risk_level"`
	RequestedAt time.Time `json:"requested_at"`
}

// Summarize converts an envelope to its listing form.
func (e *Envelope) Summarize() Summary {
	return Summary{
		ID:          e.ID,
		WorkspaceID: e.WorkspaceID,
		Intent:      e.Intent,
		ToolName:    e.ToolName,
		Risk:        e.Risk,
		RequestedAt: e.RequestedAt,
	}
}
