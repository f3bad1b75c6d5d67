package contracts

import (
	"github.com/google/uuid"
)

// MessageContext carries the identifiers shared by every per-recipient copy
// of a logical message. A broadcast to N recipients produces N messages with
// the same context and no shared mutable state.
type MessageContext struct {
	MessageID  uuid.UUID
	AnalysisID string
}

// Recipient identifies the robot account an outbound message is routed to.
// It is an opaque routing identifier, not a human identity.
type Recipient struct {
	RobotID string
}

// Sender identifies the robot account an inbound message originated from.
type Sender struct {
	RobotID string
}

// EmitMessage is a message on its way out to the relay. Payload is plaintext
// before the emit pipeline runs and encoded ciphertext afterwards.
type EmitMessage struct {
	Recipient Recipient
	Payload   []byte
	Context   MessageContext
}

// NewEmitMessage creates an outbound message for a single recipient.
func NewEmitMessage(recipient Recipient, payload []byte, ctx MessageContext) EmitMessage {
	return EmitMessage{Recipient: recipient, Payload: payload, Context: ctx}
}

// WithPayload returns a copy of the message carrying the given payload and
// the original recipient and context.
func (m EmitMessage) WithPayload(payload []byte) EmitMessage {
	m.Payload = payload
	return m
}

// ReceiveMessage is a message received from the relay. Payload is encoded
// ciphertext before the receive pipeline runs and plaintext afterwards.
type ReceiveMessage struct {
	Sender  Sender
	Payload []byte
	Context MessageContext
}

// NewReceiveMessage creates an inbound message from a single sender.
func NewReceiveMessage(sender Sender, payload []byte, ctx MessageContext) ReceiveMessage {
	return ReceiveMessage{Sender: sender, Payload: payload, Context: ctx}
}

// WithPayload returns a copy of the message carrying the given payload and
// the original sender and context.
func (m ReceiveMessage) WithPayload(payload []byte) ReceiveMessage {
	m.Payload = payload
	return m
}
