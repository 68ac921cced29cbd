// ABOUTME: Tests for the background reply retry sweep
// ABOUTME: Covers redelivery, backoff scheduling, and abandonment at the attempt cap

package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/store"
)

func enqueueDueReply(t *testing.T, h *harness, id string, attempts int) {
	t.Helper()
	require.NoError(t, h.store.EnqueueReply(t.Context(), &store.OutboundReply{
		ID:            id,
		Channel:       "telegram",
		BotID:         "bot-a",
		ChatID:        "999",
		Text:          "queued reply",
		Attempts:      attempts,
		NextAttemptAt: time.Now().UTC().Add(-time.Second),
		CreatedAt:     time.Now().UTC(),
	}))
}

func TestSweepReplies_DeliversQueued(t *testing.T) {
	h := newTestHarness(t)
	enqueueDueReply(t, h, "r-1", 1)

	h.gateway.sweepReplies()

	messages := h.sender.messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "queued reply", messages[0].text)

	due, err := h.store.DueReplies(t.Context(), time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSweepReplies_FailureReschedulesWithBackoff(t *testing.T) {
	h := newTestHarness(t)
	enqueueDueReply(t, h, "r-1", 1)
	h.sender.setFail(true)

	h.gateway.sweepReplies()

	// Not due immediately anymore, but due after the backoff horizon.
	due, err := h.store.DueReplies(t.Context(), time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = h.store.DueReplies(t.Context(), time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].Attempts)
}

func TestSweepReplies_AbandonsAtAttemptCap(t *testing.T) {
	h := newTestHarness(t)
	enqueueDueReply(t, h, "r-1", maxReplyAttempts-1)
	h.sender.setFail(true)

	h.gateway.sweepReplies()

	// Gone entirely: not rescheduled, not delivered.
	due, err := h.store.DueReplies(t.Context(), time.Now().UTC().Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
