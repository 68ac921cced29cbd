// ABOUTME: In-memory registry of short-lived channel link codes
// ABOUTME: Issued -> ChatConfirmed -> Completed/Expired state machine under one mutex

package linkcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry errors. Unknown and expired codes are distinct so callers can tell
// a user "that code is wrong" apart from "that code timed out".
var (
	ErrCodeNotFound  = errors.New("link code not found")
	ErrCodeExpired   = errors.New("link code expired")
	ErrNotConfirmed  = errors.New("link code not yet confirmed from channel")
	ErrAlreadyLinked = errors.New("link code already confirmed")
)

// codeAlphabet excludes ambiguous characters (0/O, 1/I/L) so codes survive
// being read aloud or retyped from a phone screen.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	codeLength = 6
	codeTTL    = 10 * time.Minute
)

// State is the lifecycle position of a link code.
type State int

const (
	StateIssued State = iota
	StateChatConfirmed
	StateCompleted
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIssued:
		return "issued"
	case StateChatConfirmed:
		return "chat_confirmed"
	case StateCompleted:
		return "completed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Code is one issued link code. Fields after issuance are owned by the
// registry; callers receive copies.
type Code struct {
	Value       string
	WorkspaceID string
	UserID      string
	BotID       string
	Channel     string
	State       State
	ChatID      string
	DisplayName string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Registry tracks outstanding link codes in memory. Established links are
// persisted elsewhere; the registry only covers the handshake window, so
// process restart cancels in-flight handshakes by design.
type Registry struct {
	mu     sync.Mutex
	codes  map[string]*Code
	logger *slog.Logger
	now    func() time.Time
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		codes:  make(map[string]*Code),
		logger: logger.With("component", "linkcode"),
		now:    time.Now,
	}
}

// Issue creates a fresh code for the workspace/user pair. Any previous
// outstanding code for the same workspace is cancelled so at most one
// handshake is in flight per workspace.
func (r *Registry) Issue(workspaceID, userID, botID, channel string) (*Code, error) {
	value, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generating link code: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for existing, code := range r.codes {
		if code.WorkspaceID == workspaceID && code.State != StateCompleted {
			delete(r.codes, existing)
		}
	}

	now := r.now()
	code := &Code{
		Value:       value,
		WorkspaceID: workspaceID,
		UserID:      userID,
		BotID:       botID,
		Channel:     channel,
		State:       StateIssued,
		IssuedAt:    now,
		ExpiresAt:   now.Add(codeTTL),
	}
	r.codes[value] = code

	r.logger.Info("issued link code", "workspace_id", workspaceID, "channel", channel, "expires_at", code.ExpiresAt)
	return snapshot(code), nil
}

// ConfirmFromChannel records the channel side of the handshake: a chat typed
// the code. The chat identity is captured but no mapping exists yet; the
// workspace side must still call Complete.
func (r *Registry) ConfirmFromChannel(value, chatID, displayName string) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.lookup(value)
	if err != nil {
		return nil, err
	}
	if code.State == StateChatConfirmed || code.State == StateCompleted {
		return nil, ErrAlreadyLinked
	}

	code.State = StateChatConfirmed
	code.ChatID = chatID
	code.DisplayName = displayName

	r.logger.Info("link code confirmed from channel", "workspace_id", code.WorkspaceID, "chat_id", chatID)
	return snapshot(code), nil
}

// Complete finishes the handshake from the workspace side and retires the
// code. Single use: the code is removed from the registry on success.
func (r *Registry) Complete(value string) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.lookup(value)
	if err != nil {
		return nil, err
	}
	if code.State != StateChatConfirmed {
		return nil, ErrNotConfirmed
	}

	code.State = StateCompleted
	delete(r.codes, value)

	r.logger.Info("link code completed", "workspace_id", code.WorkspaceID, "chat_id", code.ChatID)
	return snapshot(code), nil
}

// Peek returns the current state of a code without transitioning it.
func (r *Registry) Peek(value string) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.lookup(value)
	if err != nil {
		return nil, err
	}
	return snapshot(code), nil
}

// Cancel removes an outstanding code.
func (r *Registry) Cancel(value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, value)
}

// Sweep removes every expired code. It is called periodically; lazy expiry on
// access uses the same ExpiresAt comparison, so the two paths cannot disagree.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for value, code := range r.codes {
		if now.After(code.ExpiresAt) {
			delete(r.codes, value)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("swept expired link codes", "removed", removed)
	}
	return removed
}

// Outstanding returns the number of live codes.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// lookup resolves a code value with lazy expiry. Callers hold r.mu.
func (r *Registry) lookup(value string) (*Code, error) {
	code, ok := r.codes[value]
	if !ok {
		return nil, ErrCodeNotFound
	}
	if r.now().After(code.ExpiresAt) {
		delete(r.codes, value)
		return nil, ErrCodeExpired
	}
	return code, nil
}

func snapshot(code *Code) *Code {
	copied := *code
	return &copied
}

// generateCode draws codeLength characters from the unambiguous alphabet
// using crypto/rand.
func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
