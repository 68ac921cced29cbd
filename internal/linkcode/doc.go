// Package linkcode tracks the short-lived codes that tie a messaging chat to
// a workspace.
//
// A code moves Issued -> ChatConfirmed -> Completed, or expires along the way.
// The registry is process-local: only the ten-minute handshake window lives
// here, and a restart simply cancels in-flight handshakes. Established links
// are persisted by the store package. Unknown, expired, and not-yet-confirmed
// codes surface as distinct errors so callers can word the failure correctly.
package linkcode
