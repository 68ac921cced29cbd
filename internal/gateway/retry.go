// ABOUTME: Background sweeps: outbound reply replay and link-code expiry
// ABOUTME: Cron-scheduled; replays undelivered replies with capped backoff

package gateway

import (
	"context"
	"time"

	"github.com/2389/relay-gateway/internal/channel"
	"github.com/2389/relay-gateway/internal/store"
)

const (
	replySweepSchedule    = "@every 30s"
	linkCodeSweepSchedule = "@every 1m"

	// replySweepBatch bounds how many queued replies one sweep touches.
	replySweepBatch = 50

	// maxReplyAttempts caps delivery attempts before a reply is abandoned.
	maxReplyAttempts = 8
)

// scheduleSweeps registers the background jobs on the gateway's cron runner.
func (g *Gateway) scheduleSweeps() error {
	if _, err := g.cron.AddFunc(replySweepSchedule, g.sweepReplies); err != nil {
		return err
	}
	if _, err := g.cron.AddFunc(linkCodeSweepSchedule, func() {
		g.registry.Sweep()
	}); err != nil {
		return err
	}
	return nil
}

// sweepReplies retries undelivered outbound replies that are due. Delivered
// rows are stamped; failures reschedule with backoff until the attempt cap,
// then the reply is abandoned.
func (g *Gateway) sweepReplies() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	due, err := g.store.DueReplies(ctx, time.Now().UTC(), replySweepBatch)
	if err != nil {
		g.logger.Error("reply sweep query failed", "error", err)
		return
	}

	for _, reply := range due {
		g.retryReply(ctx, reply)
	}
}

// retryReply attempts one queued reply.
func (g *Gateway) retryReply(ctx context.Context, reply *store.OutboundReply) {
	service := g.serviceFor(reply.Channel)

	if err := service.Deliver(ctx, reply); err == nil {
		g.logger.Info("queued reply delivered",
			"reply_id", reply.ID, "channel", reply.Channel, "attempts", reply.Attempts)
		return
	} else if reply.Attempts+1 >= maxReplyAttempts {
		g.logger.Error("abandoning undeliverable reply",
			"reply_id", reply.ID, "channel", reply.Channel, "chat_id", reply.ChatID,
			"attempts", reply.Attempts+1, "error", err)
		if err := g.store.DeleteReply(ctx, reply.ID); err != nil {
			g.logger.Error("failed to drop abandoned reply", "reply_id", reply.ID, "error", err)
		}
		return
	} else {
		next := time.Now().UTC().Add(channel.Backoff(reply.Attempts + 1))
		if err := g.store.MarkAttempt(ctx, reply.ID, reply.Attempts+1, next); err != nil {
			g.logger.Error("failed to reschedule reply", "reply_id", reply.ID, "error", err)
		}
	}
}
