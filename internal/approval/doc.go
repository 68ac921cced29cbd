// Package approval implements the human-approval side of the gateway.
//
// An Envelope describes one proposed agent action; it is owned by the
// external control plane and immutable once created. Exactly one terminal
// Decision is appended per envelope - the control plane enforces this with a
// conditional write, surfaced here as ErrAlreadyDecided.
//
// The Signer mints compact approval tokens on approval only. A token binds
// {envelope, workspace, approver} and is verifiable offline by any holder of
// the signing secret, so the workflow engine can check it without calling
// back into the gateway.
package approval
