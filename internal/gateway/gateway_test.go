// ABOUTME: Shared test harness for gateway handler tests
// ABOUTME: Builds a gateway around fakes for the control plane, workflow, and senders

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/approval"
	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/botdir"
	"github.com/2389/relay-gateway/internal/channel"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/events"
	"github.com/2389/relay-gateway/internal/linkcode"
	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/workflow"
)

const testJWTSecret = "test-jwt-secret"

// fakeEnvelopes is an in-memory control plane with the conditional
// decision write.
type fakeEnvelopes struct {
	mu        sync.Mutex
	envelopes map[string]*approval.Envelope
}

func newFakeEnvelopes(envelopes ...*approval.Envelope) *fakeEnvelopes {
	f := &fakeEnvelopes{envelopes: make(map[string]*approval.Envelope)}
	for _, envelope := range envelopes {
		f.envelopes[envelope.ID] = envelope
	}
	return f
}

func (f *fakeEnvelopes) GetEnvelope(_ context.Context, envelopeID string) (*approval.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	envelope, ok := f.envelopes[envelopeID]
	if !ok {
		return nil, approval.ErrEnvelopeNotFound
	}
	copied := *envelope
	return &copied, nil
}

func (f *fakeEnvelopes) ListPending(_ context.Context, workspaceID string) ([]*approval.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*approval.Envelope
	for _, envelope := range f.envelopes {
		if envelope.WorkspaceID == workspaceID && envelope.Pending() {
			copied := *envelope
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (f *fakeEnvelopes) RecordDecision(_ context.Context, envelopeID string, decision *approval.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	envelope, ok := f.envelopes[envelopeID]
	if !ok {
		return approval.ErrEnvelopeNotFound
	}
	if envelope.Decision != nil {
		return approval.ErrAlreadyDecided
	}
	envelope.Decision = decision
	return nil
}

// fakeSignaler records workflow signals.
type fakeSignaler struct {
	mu      sync.Mutex
	signals []signalCall
}

type signalCall struct {
	workflowID string
	signalName string
	payload    map[string]any
}

func (f *fakeSignaler) Signal(_ context.Context, workflowID, signalName string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := signalCall{workflowID: workflowID, signalName: signalName}
	if m, ok := payload.(map[string]any); ok {
		call.payload = m
	}
	f.signals = append(f.signals, call)
	return nil
}

func (f *fakeSignaler) calls() []signalCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]signalCall, len(f.signals))
	copy(out, f.signals)
	return out
}

// fakeSender records outbound channel sends and can be made to fail.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

type sentMessage struct {
	chatID string
	text   string
}

func (f *fakeSender) SendMessage(_ context.Context, _ *botdir.Bot, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errSendFailed
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

var errSendFailed = fmt.Errorf("send failed")

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeRelayer returns a canned workflow reply.
type fakeRelayer struct {
	reply string
}

func (f *fakeRelayer) Relay(_ context.Context, _ *workflow.Mapping, _ string, _ *workflow.Meta) string {
	return f.reply
}

// fakeBotClient resolves bot usernames without the network.
type fakeBotClient struct{}

func (fakeBotClient) GetMe(_ context.Context, bot *botdir.Bot) (string, error) {
	return "relay_bot", nil
}

type harness struct {
	gateway   *Gateway
	server    *httptest.Server
	envelopes *fakeEnvelopes
	signaler  *fakeSignaler
	sender    *fakeSender
	registry  *linkcode.Registry
	store     store.Store
	signer    *approval.Signer
	verifier  *auth.JWTVerifier
}

func newTestHarness(t *testing.T, envelopes ...*approval.Envelope) *harness {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "gateway.db")
	cfg.Auth.JWTSecret = testJWTSecret
	cfg.Auth.TokenSigningSecret = "test-signing-secret"
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Bots = []config.BotEntry{
		{ID: "bot-a", Token: "token-a", Username: "relay_bot"},
	}
	cfg.Channels.WhatsApp.VerifyToken = "verify-sekrit"

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)

	registry := linkcode.New(nil)
	directory := botdir.New(cfg.Channels.Telegram, nil)
	broadcaster := events.NewBroadcaster(nil)
	signer := approval.NewSigner(cfg.Auth.TokenSigningSecret, nil)
	sender := &fakeSender{}
	relayer := &fakeRelayer{reply: "workflow reply"}
	envStore := newFakeEnvelopes(envelopes...)
	signaler := &fakeSignaler{}

	deps := Deps{
		Store:       s,
		Registry:    registry,
		Directory:   directory,
		Envelopes:   envStore,
		Signer:      signer,
		Signaler:    signaler,
		Broadcaster: broadcaster,
		TelegramSvc: channel.NewService(channel.Telegram, s, registry, relayer, sender, directory, broadcaster, nil),
		WhatsAppSvc: channel.NewService(channel.WhatsApp, s, registry, relayer, sender, directory, broadcaster, nil),
		BotClient:   fakeBotClient{},
	}

	g, err := NewWithDeps(cfg, deps, nil)
	require.NoError(t, err)

	server := httptest.NewServer(g.httpServer.Handler)
	t.Cleanup(func() {
		server.Close()
		_ = s.Close()
	})

	return &harness{
		gateway:   g,
		server:    server,
		envelopes: envStore,
		signaler:  signaler,
		sender:    sender,
		registry:  registry,
		store:     s,
		signer:    signer,
		verifier:  auth.NewJWTVerifier([]byte(testJWTSecret)),
	}
}

// token mints a bearer token for a user/workspace pair.
func (h *harness) token(t *testing.T, userID, workspaceID string) string {
	t.Helper()
	token, err := h.verifier.Generate(userID, workspaceID, time.Hour)
	require.NoError(t, err)
	return token
}

// request performs an HTTP request against the test server.
func (h *harness) request(t *testing.T, method, path, bearer, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func pendingEnvelope(id, workspaceID string) *approval.Envelope {
	return &approval.Envelope{
		ID:          id,
		WorkspaceID: workspaceID,
		Intent:      "Send the weekly report",
		ToolName:    "send_email",
		Risk:        approval.RiskHigh,
		RequestedAt: time.Now().UTC(),
		WorkflowID:  "wf-7",
		SignalName:  "approval-decision",
	}
}
