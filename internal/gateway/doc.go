// Package gateway is the composition root of relay-gateway.
//
// It owns the HTTP surface and wires the other packages together: approval
// handlers talk to the control plane and the token signer, channel handlers
// drive the link-code handshake and the two webhook adapters, the SSE
// endpoint exposes the event broadcaster, and cron-scheduled sweeps expire
// link codes and replay undelivered replies.
//
// The server listens on plain TCP or on a Tailscale tsnet node. Funnel mode
// serves public HTTPS, which is how the provider webhook endpoints become
// reachable from the internet without a separate ingress.
//
// Route summary (bearer auth unless noted):
//
//	GET    /api/approvals/pending?workspaceId=
//	GET    /api/approvals/{id}
//	POST   /api/approvals/{id}/approve
//	POST   /api/approvals/{id}/deny
//	POST   /api/channel/link
//	POST   /api/channel/link/complete
//	GET    /api/channel/status?workspaceId=
//	DELETE /api/channel/disconnect?workspaceId=
//	GET    /api/channel/bot-status            (public)
//	POST   /api/channel/webhook?botId=        (public)
//	GET    /api/channel/whatsapp/webhook      (public, verify handshake)
//	POST   /api/channel/whatsapp/webhook      (public)
//	GET    /api/events?workspaceId=           (SSE)
//	GET    /health, /health/ready             (public)
package gateway
