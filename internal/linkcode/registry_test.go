// ABOUTME: Tests for the link-code registry state machine
// ABOUTME: Covers issue/confirm/complete transitions, expiry, and single-use

package linkcode

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssue_CodeShape(t *testing.T) {
	r := New(nil)

	code, err := r.Issue("ws-1", "user-1", "bot-a", "telegram")
	require.NoError(t, err)

	assert.Len(t, code.Value, 6)
	for _, ch := range code.Value {
		assert.True(t, strings.ContainsRune(codeAlphabet, ch), "char %q not in alphabet", ch)
	}
	assert.Equal(t, StateIssued, code.State)
	assert.Equal(t, "ws-1", code.WorkspaceID)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), code.ExpiresAt, time.Second)
}

func TestHandshake_FullFlow(t *testing.T) {
	r := New(nil)

	issued, err := r.Issue("ws-1", "user-1", "bot-a", "telegram")
	require.NoError(t, err)

	confirmed, err := r.ConfirmFromChannel(issued.Value, "chat-42", "Ada")
	require.NoError(t, err)
	assert.Equal(t, StateChatConfirmed, confirmed.State)
	assert.Equal(t, "chat-42", confirmed.ChatID)
	assert.Equal(t, "Ada", confirmed.DisplayName)

	completed, err := r.Complete(issued.Value)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, completed.State)
	assert.Equal(t, "chat-42", completed.ChatID)

	// Single use: the code is gone after completion.
	_, err = r.Complete(issued.Value)
	assert.True(t, errors.Is(err, ErrCodeNotFound))
	assert.Equal(t, 0, r.Outstanding())
}

func TestComplete_BeforeConfirm(t *testing.T) {
	r := New(nil)

	issued, err := r.Issue("ws-1", "user-1", "bot-a", "telegram")
	require.NoError(t, err)

	_, err = r.Complete(issued.Value)
	assert.True(t, errors.Is(err, ErrNotConfirmed))
}

func TestConfirm_UnknownCode(t *testing.T) {
	r := New(nil)

	_, err := r.ConfirmFromChannel("ZZZZZZ", "chat-1", "Ada")
	assert.True(t, errors.Is(err, ErrCodeNotFound))
}

func TestConfirm_Twice(t *testing.T) {
	r := New(nil)

	issued, err := r.Issue("ws-1", "user-1", "bot-a", "telegram")
	require.NoError(t, err)

	_, err = r.ConfirmFromChannel(issued.Value, "chat-1", "Ada")
	require.NoError(t, err)

	_, err = r.ConfirmFromChannel(issued.Value, "chat-2", "Eve")
	assert.True(t, errors.Is(err, ErrAlreadyLinked))

	// The original chat identity is preserved.
	code, err := r.Peek(issued.Value)
	require.NoError(t, err)
	assert.Equal(t, "chat-1", code.ChatID)
}

func TestExpiry_Lazy(t *testing.T) {
	r := New(nil)
	now := time.Now()
	r.now = func() time.Time { return now }

	issued, err := r.Issue("ws-1", "user-1", "bot-a", "telegram")
	require.NoError(t, err)

	// Expired code is distinct from unknown.
	now = now.Add(11 * time.Minute)
	_, err = r.ConfirmFromChannel(issued.Value, "chat-1", "Ada")
	assert.True(t, errors.Is(err, ErrCodeExpired))

	// Lazy expiry removed it; a second touch now reports not-found.
	_, err = r.ConfirmFromChannel(issued.Value, "chat-1", "Ada")
	assert.True(t, errors.Is(err, ErrCodeNotFound))
}

func TestExpiry_Sweep(t *testing.T) {
	r := New(nil)
	now := time.Now()
	r.now = func() time.Time { return now }

	_, err := r.Issue("ws-1", "user-1", "bot-a", "telegram")
	require.NoError(t, err)
	fresh, err := r.Issue("ws-2", "user-2", "bot-a", "telegram")
	require.NoError(t, err)
	_ = fresh

	now = now.Add(11 * time.Minute)
	freshAgain, err := r.Issue("ws-3", "user-3", "bot-a", "telegram")
	require.NoError(t, err)

	removed := r.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, r.Outstanding())

	_, err = r.Peek(freshAgain.Value)
	assert.NoError(t, err)
}

func TestIssue_ReplacesOutstandingCode(t *testing.T) {
	r := New(nil)

	first, err := r.Issue("ws-1", "user-1", "bot-a", "telegram")
	require.NoError(t, err)
	second, err := r.Issue("ws-1", "user-1", "bot-a", "telegram")
	require.NoError(t, err)

	_, err = r.Peek(first.Value)
	assert.True(t, errors.Is(err, ErrCodeNotFound))
	_, err = r.Peek(second.Value)
	assert.NoError(t, err)
	assert.Equal(t, 1, r.Outstanding())
}

func TestCancel(t *testing.T) {
	r := New(nil)

	issued, err := r.Issue("ws-1", "user-1", "bot-a", "telegram")
	require.NoError(t, err)

	r.Cancel(issued.Value)
	_, err = r.Peek(issued.Value)
	assert.True(t, errors.Is(err, ErrCodeNotFound))
}
