// Package channel implements the messaging side of the gateway.
//
// A Service carries the command grammar shared by every channel: start and
// link drive the link-code handshake, status and help are self-service, stop
// disconnects, and any other text is relayed to the workflow engine when the
// chat is linked. Per-chat processing is serialized with a keyed lock so one
// conversation's replies keep arrival order.
//
// Protocol-specific decoding and REST sends live in the telegram and whatsapp
// subpackages; they translate their wire formats into Inbound and implement
// Sender. Webhook handlers always ack the provider regardless of internal
// outcome.
package channel
