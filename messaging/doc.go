// Package messaging implements the broker's message semantics on top of the
// relay transport: best-effort broadcast to analysis participants, validated
// direct sends, and the inbound fan-out to consumers such as the webhook
// forwarder.
package messaging
