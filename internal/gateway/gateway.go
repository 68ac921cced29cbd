// ABOUTME: Gateway orchestrator that coordinates the HTTP server and background sweeps
// ABOUTME: Manages store, channel services, workflow bridge, and listener lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/relay-gateway/internal/approval"
	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/botdir"
	"github.com/2389/relay-gateway/internal/channel"
	"github.com/2389/relay-gateway/internal/channel/telegram"
	"github.com/2389/relay-gateway/internal/channel/whatsapp"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/events"
	"github.com/2389/relay-gateway/internal/linkcode"
	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/workflow"
)

// workflowSignaler delivers approval decisions to waiting workflows.
// Implemented by the workflow bridge; mocked in tests.
type workflowSignaler interface {
	Signal(ctx context.Context, workflowID, signalName string, payload any) error
}

// botIdentityClient resolves a bot credential to its public username.
type botIdentityClient interface {
	GetMe(ctx context.Context, bot *botdir.Bot) (string, error)
}

// Gateway orchestrates the relay-gateway server components.
// It owns the HTTP server, durable store, channel services, and the
// background sweeps for link-code expiry and reply retries.
type Gateway struct {
	config      *config.Config
	store       store.Store
	registry    *linkcode.Registry
	directory   *botdir.Directory
	envelopes   approval.EnvelopeStore
	signer      *approval.Signer
	signaler    workflowSignaler
	broadcaster *events.Broadcaster
	telegramSvc *channel.Service
	whatsappSvc *channel.Service
	botClient   botIdentityClient
	cron        *cron.Cron
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// Deps are the wired components a Gateway coordinates. Tests substitute fakes
// here; New builds the production set from config.
type Deps struct {
	Store       store.Store
	Registry    *linkcode.Registry
	Directory   *botdir.Directory
	Envelopes   approval.EnvelopeStore
	Signer      *approval.Signer
	Signaler    workflowSignaler
	Broadcaster *events.Broadcaster
	TelegramSvc *channel.Service
	WhatsAppSvc *channel.Service
	BotClient   botIdentityClient
}

// New creates a Gateway with production dependencies built from config.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	broadcaster := events.NewBroadcaster(logger)
	bridge := workflow.New(cfg.Workflow.BaseURL, cfg.Workflow.TaskQueue,
		cfg.Workflow.ResultTimeout, broadcaster, logger)
	registry := linkcode.New(logger)
	directory := botdir.New(cfg.Channels.Telegram, logger)

	tgClient := telegram.NewClient("")
	waClient := whatsapp.NewClient("",
		cfg.Channels.WhatsApp.AccessToken, cfg.Channels.WhatsApp.PhoneNumberID)

	deps := Deps{
		Store:       s,
		Registry:    registry,
		Directory:   directory,
		Envelopes:   approval.NewControlPlaneClient(cfg.ControlPlane.BaseURL, cfg.ControlPlane.Token),
		Signer:      approval.NewSigner(cfg.Auth.TokenSigningSecret, logger),
		Signaler:    bridge,
		Broadcaster: broadcaster,
		TelegramSvc: channel.NewService(channel.Telegram, s, registry, bridge, tgClient, directory, broadcaster, logger),
		WhatsAppSvc: channel.NewService(channel.WhatsApp, s, registry, bridge, waClient, directory, broadcaster, logger),
		BotClient:   tgClient,
	}
	return NewWithDeps(cfg, deps, logger)
}

// NewWithDeps creates a Gateway around pre-built components.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config:      cfg,
		store:       deps.Store,
		registry:    deps.Registry,
		directory:   deps.Directory,
		envelopes:   deps.Envelopes,
		signer:      deps.Signer,
		signaler:    deps.Signaler,
		broadcaster: deps.Broadcaster,
		telegramSvc: deps.TelegramSvc,
		whatsappSvc: deps.WhatsAppSvc,
		botClient:   deps.BotClient,
		cron:        cron.New(),
		logger:      logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	g.registerAPIRoutes(mux)

	if err := g.scheduleSweeps(); err != nil {
		return nil, err
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// registerAPIRoutes wires the versioned HTTP surface. Webhook and bot-status
// endpoints stay public; everything else under /api requires a bearer token.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	// Public: providers cannot send credentials, and bot-status is used by
	// unauthenticated setup screens.
	mux.HandleFunc("/api/channel/webhook", g.handleTelegramWebhook)
	mux.HandleFunc("/api/channel/whatsapp/webhook", g.handleWhatsAppWebhook)
	mux.HandleFunc("/api/channel/bot-status", g.handleBotStatus)

	verifier := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
	authMiddleware := auth.HTTPAuthMiddleware(verifier)

	mux.Handle("/api/approvals/pending", authMiddleware(http.HandlerFunc(g.handlePendingApprovals)))
	mux.Handle("/api/approvals/", authMiddleware(http.HandlerFunc(g.handleApprovalRoutes)))
	mux.Handle("/api/channel/link", authMiddleware(http.HandlerFunc(g.handleChannelLink)))
	mux.Handle("/api/channel/link/complete", authMiddleware(http.HandlerFunc(g.handleLinkComplete)))
	mux.Handle("/api/channel/status", authMiddleware(http.HandlerFunc(g.handleChannelStatus)))
	mux.Handle("/api/channel/disconnect", authMiddleware(http.HandlerFunc(g.handleChannelDisconnect)))
	mux.Handle("/api/events", authMiddleware(http.HandlerFunc(g.handleEvents)))

	if g.config.Auth.JWTSecret == "" {
		g.logger.Warn("no jwt_secret configured - bearer tokens are signed with an empty secret")
	}
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	g.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	appendErr := func(label string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
	}

	appendErr("HTTP shutdown", g.httpServer.Shutdown(ctx))

	cronCtx := g.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	if g.tsnetServer != nil {
		appendErr("tailscale shutdown", g.tsnetServer.Close())
	}
	if g.broadcaster != nil {
		g.broadcaster.Close()
	}
	appendErr("store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "relay-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener.
// Funnel mode serves public HTTPS, which is what provider webhooks need.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node",
		"hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443 - webhook endpoints are reachable from providers")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.setupTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// setupTailscaleTLSListener serves TLS with Tailscale's auto-provisioned certs.
func (g *Gateway) setupTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.DueReplies(r.Context(), time.Now().UTC(), 1); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
