// Package events is the in-memory fan-out that mirrors gateway activity to
// connected real-time clients.
//
// Events are scoped to a workspace and delivered best-effort: sends never
// block, slow subscribers drop events, and subscribers are expected to
// reconcile through their own polling. Exposed over SSE by the gateway.
package events
