// ABOUTME: SSE endpoint streaming workspace events to connected clients
// ABOUTME: Mirrors channel replies and approval decisions in real time

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/relay-gateway/internal/auth"
)

// handleEvents streams the caller's workspace events over SSE until the
// client disconnects. Subscribing to a foreign workspace is refused.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	authCtx := auth.MustFromContext(r.Context())

	if ws := r.URL.Query().Get("workspaceId"); ws != "" && ws != authCtx.WorkspaceID {
		g.sendJSONError(w, http.StatusForbidden, "forbidden")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, subID := g.broadcaster.Subscribe(r.Context(), authCtx.WorkspaceID)
	defer g.broadcaster.Unsubscribe(authCtx.WorkspaceID, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				g.logger.Error("failed to marshal SSE event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
