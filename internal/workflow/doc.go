// Package workflow bridges the gateway to the external orchestrator that
// actually runs agent work.
//
// The bridge starts chat-turn workflows for relayed channel messages, signals
// workflows waiting on approval decisions, and waits a bounded time for
// results. Relay never returns an error to the channel: timeouts and hard
// failures become canned user-facing replies, and a late result after the
// wait window is published to the workspace event stream instead of being
// re-sent into the channel.
package workflow
