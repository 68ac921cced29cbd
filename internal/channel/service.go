// ABOUTME: Channel-agnostic message handling with the shared command grammar
// ABOUTME: Dispatches start/link/status/help/stop and relays free text to the workflow engine

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/relay-gateway/internal/botdir"
	"github.com/2389/relay-gateway/internal/events"
	"github.com/2389/relay-gateway/internal/linkcode"
	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/workflow"
)

// Canned replies for the command grammar. Kept as constants so tests and both
// adapters agree on wording.
const (
	replyOnboarding = "Hi! I connect this chat to your workspace. " +
		"Get a link code from the app, then send: link <code>"
	replyHelp = "Commands:\n" +
		"start <code> - link this chat with a code\n" +
		"link <code> - link this chat with a code\n" +
		"status - show whether this chat is linked\n" +
		"stop - disconnect this chat\n" +
		"Anything else is sent to your workspace assistant once linked."
	replyLinked        = "This chat is linked to your workspace. Finish the connection in the app."
	replyNotLinked     = "This chat isn't linked to a workspace yet. Send: link <code>"
	replyStatusLinked  = "Linked and ready. Messages here go to your workspace assistant."
	replyCodeInvalid   = "That code doesn't look right. Double-check it in the app and try again."
	replyCodeExpired   = "That code has expired. Generate a fresh one in the app."
	replyAlreadyInUse  = "That code was already used from another chat."
	replyStopped       = "Disconnected. This chat is no longer linked to a workspace."
	replyStopNotLinked = "Nothing to disconnect - this chat isn't linked."
	replyDisconnected  = "This chat was disconnected from the workspace. Send link <code> to reconnect."
	replyLinkComplete  = "You're connected! Messages here now reach your workspace assistant."
)

// Service implements the shared command grammar over any channel transport.
// One Service instance exists per channel; adapters decode their wire format
// into Inbound and hand it here.
type Service struct {
	channel   string
	store     store.Store
	registry  *linkcode.Registry
	relayer   Relayer
	sender    Sender
	directory *botdir.Directory
	events    *events.Broadcaster
	chatLocks *lockArena
	logger    *slog.Logger
}

// NewService wires a channel service. events may be nil in tests.
func NewService(channel string, st store.Store, registry *linkcode.Registry, relayer Relayer,
	sender Sender, directory *botdir.Directory, broadcaster *events.Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		channel:   channel,
		store:     st,
		registry:  registry,
		relayer:   relayer,
		sender:    sender,
		directory: directory,
		events:    broadcaster,
		chatLocks: newLockArena(),
		logger:    logger.With("component", "channel", "channel", channel),
	}
}

// Channel returns the channel name this service handles.
func (s *Service) Channel() string {
	return s.channel
}

// HandleInbound processes one decoded message end to end: command dispatch or
// workflow relay, then the outbound reply. Processing of a single chat is
// serialized so replies keep arrival order. Errors are absorbed; webhook
// handlers ack the provider regardless.
func (s *Service) HandleInbound(ctx context.Context, bot *botdir.Bot, msg *Inbound) {
	if msg == nil || msg.ChatID == "" {
		return
	}

	lock := s.chatLocks.get(msg.ChatID)
	lock.Lock()
	defer lock.Unlock()

	reply := s.dispatch(ctx, msg)
	if reply == "" {
		return
	}
	s.Reply(ctx, bot, msg.ChatID, reply)
}

// dispatch matches the command grammar and returns the reply text.
func (s *Service) dispatch(ctx context.Context, msg *Inbound) string {
	text := strings.TrimSpace(msg.Text)
	command, arg := splitCommand(text)

	switch command {
	case "start":
		if arg == "" {
			return replyOnboarding
		}
		return s.confirmCode(arg, msg)
	case "link":
		if arg == "" {
			return replyCodeInvalid
		}
		return s.confirmCode(arg, msg)
	case "status":
		if _, err := s.store.GetLinkByChat(ctx, s.channel, msg.ChatID); err != nil {
			return replyNotLinked
		}
		return replyStatusLinked
	case "help":
		return replyHelp
	case "stop":
		return s.stop(ctx, msg)
	default:
		return s.freeText(ctx, msg, text)
	}
}

// confirmCode handles the channel side of the link handshake.
func (s *Service) confirmCode(code string, msg *Inbound) string {
	_, err := s.registry.ConfirmFromChannel(strings.ToUpper(code), msg.ChatID, msg.DisplayName)
	switch {
	case err == nil:
		return replyLinked
	case errors.Is(err, linkcode.ErrCodeExpired):
		return replyCodeExpired
	case errors.Is(err, linkcode.ErrAlreadyLinked):
		return replyAlreadyInUse
	default:
		return replyCodeInvalid
	}
}

// stop removes the chat's link and tells the workspace via the event stream.
func (s *Service) stop(ctx context.Context, msg *Inbound) string {
	link, err := s.store.GetLinkByChat(ctx, s.channel, msg.ChatID)
	if err != nil {
		return replyStopNotLinked
	}
	if _, err := s.store.DeleteLink(ctx, s.channel, link.WorkspaceID); err != nil {
		s.logger.Error("failed to remove link on stop", "chat_id", msg.ChatID, "error", err)
		return replyStopNotLinked
	}
	if s.events != nil {
		s.events.Publish(link.WorkspaceID, "channel.disconnected", map[string]string{
			"channel": s.channel,
		})
	}
	return replyStopped
}

// freeText relays a conversational turn when the chat is linked.
func (s *Service) freeText(ctx context.Context, msg *Inbound, text string) string {
	if text == "" {
		return ""
	}

	link, err := s.store.GetLinkByChat(ctx, s.channel, msg.ChatID)
	if err != nil {
		return replyNotLinked
	}

	mapping := &workflow.Mapping{
		WorkspaceID: link.WorkspaceID,
		UserID:      link.UserID,
		Channel:     s.channel,
		ChatID:      msg.ChatID,
	}
	meta := &workflow.Meta{
		DisplayName: msg.DisplayName,
		ReplyToID:   msg.ReplyToID,
		BotID:       link.BotID,
	}

	reply := s.relayer.Relay(ctx, mapping, text, meta)

	// Mirror the exchange into the workspace's real-time stream.
	if s.events != nil {
		s.events.Publish(link.WorkspaceID, "channel.message", map[string]string{
			"channel": s.channel,
			"text":    text,
			"reply":   reply,
		})
	}
	return reply
}

// Reply queues an outbound message and attempts delivery once inline. A
// failed attempt stays queued for the retry sweep; a dropped reply never
// blocks or fails the webhook path.
func (s *Service) Reply(ctx context.Context, bot *botdir.Bot, chatID, text string) {
	reply := &store.OutboundReply{
		ID:      uuid.New().String(),
		Channel: s.channel,
		ChatID:  chatID,
		Text:    text,
	}
	if bot != nil {
		reply.BotID = bot.ID
	}
	if err := s.store.EnqueueReply(ctx, reply); err != nil {
		s.logger.Error("failed to enqueue reply", "chat_id", chatID, "error", err)
		// Still try the inline send; losing the queue row only loses replay.
	}

	if err := s.sender.SendMessage(ctx, bot, chatID, text); err != nil {
		s.logger.Warn("inline reply send failed, leaving for retry sweep",
			"chat_id", chatID, "error", err)
		_ = s.markAttempt(ctx, reply, 1)
		return
	}

	if err := s.store.MarkDelivered(ctx, reply.ID, time.Now().UTC()); err != nil {
		s.logger.Error("failed to mark reply delivered", "reply_id", reply.ID, "error", err)
	}
}

// Deliver retries one queued reply. Used by the retry sweep.
func (s *Service) Deliver(ctx context.Context, reply *store.OutboundReply) error {
	var bot *botdir.Bot
	if reply.BotID != "" && s.directory != nil {
		bot = s.directory.Get(reply.BotID)
	}
	if err := s.sender.SendMessage(ctx, bot, reply.ChatID, reply.Text); err != nil {
		return fmt.Errorf("sending reply %s: %w", reply.ID, err)
	}
	return s.store.MarkDelivered(ctx, reply.ID, time.Now().UTC())
}

// markAttempt schedules the next delivery attempt with exponential backoff.
func (s *Service) markAttempt(ctx context.Context, reply *store.OutboundReply, attempts int) error {
	next := time.Now().UTC().Add(Backoff(attempts))
	return s.store.MarkAttempt(ctx, reply.ID, attempts, next)
}

// Backoff doubles per attempt from 30s, capped at 15 minutes.
func Backoff(attempts int) time.Duration {
	d := 30 * time.Second
	for i := 1; i < attempts && d < 15*time.Minute; i++ {
		d *= 2
	}
	if d > 15*time.Minute {
		d = 15 * time.Minute
	}
	return d
}

// NotifyDisconnect sends the disconnect notice to a chat whose link was
// removed from the workspace side.
func (s *Service) NotifyDisconnect(ctx context.Context, link *store.ChannelLink) {
	var bot *botdir.Bot
	if s.directory != nil {
		bot = s.directory.Resolve(link.WorkspaceID, link.BotID)
	}
	s.Reply(ctx, bot, link.ChatID, replyDisconnected)
}

// NotifyLinkComplete confirms a finished handshake to the external chat.
func (s *Service) NotifyLinkComplete(ctx context.Context, link *store.ChannelLink) {
	var bot *botdir.Bot
	if s.directory != nil {
		bot = s.directory.Resolve(link.WorkspaceID, link.BotID)
	}
	s.Reply(ctx, bot, link.ChatID, replyLinkComplete)
}

// splitCommand separates a leading command word from its argument. A leading
// slash (bot-style commands) and a @botname suffix are stripped so "/start"
// and "start" behave the same.
func splitCommand(text string) (string, string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}

	head := strings.ToLower(fields[0])
	head = strings.TrimPrefix(head, "/")
	if at := strings.Index(head, "@"); at > 0 {
		head = head[:at]
	}

	switch head {
	case "start", "link", "status", "help", "stop":
		arg := ""
		if len(fields) > 1 {
			arg = fields[1]
		}
		return head, arg
	default:
		return "", ""
	}
}
