// ABOUTME: In-memory fan-out broadcaster for workspace-scoped gateway events
// ABOUTME: Publishes approval and channel lifecycle events to real-time subscribers

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Event is one workspace-scoped notification. Payload is arbitrary
// JSON-marshalable data.
type Event struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Type        string    `json:"type"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Broadcaster provides in-memory pub/sub for gateway events. Subscribers
// register for a workspace and receive events as they are published. Delivery
// is best-effort; subscribers reconcile via their own refresh.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // workspaceID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber for events on the given workspace.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, workspaceID string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[workspaceID]; !ok {
		b.subscribers[workspaceID] = make(map[string]chan *Event)
	}
	b.subscribers[workspaceID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "workspace_id", workspaceID, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(workspaceID, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given workspace.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(workspaceID, eventType string, payload any) {
	event := &Event{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Type:        eventType,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}

	b.mu.RLock()
	subs, ok := b.subscribers[workspaceID]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	// Copy subscriber channels under read lock to avoid holding lock during sends
	targets := make([]chan *Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
			// Sent
		default:
			// Subscriber channel full - drop event for this subscriber
			b.logger.Debug("dropped event for slow subscriber",
				"workspace_id", workspaceID, "event_type", eventType)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(workspaceID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[workspaceID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, workspaceID)
	}

	b.logger.Debug("subscriber removed", "workspace_id", workspaceID, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for workspaceID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, workspaceID)
	}
}
