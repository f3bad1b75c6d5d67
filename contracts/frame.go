package contracts

import (
	"errors"

	"github.com/google/uuid"
)

// PeerTypeRobot is the only peer type the relay routes between nodes.
const PeerTypeRobot = "robot"

var (
	// ErrMissingSender is returned when an inbound frame has no sender id.
	ErrMissingSender = errors.New("contracts: frame is missing sender")
	// ErrMissingData is returned when an inbound frame has no data field.
	ErrMissingData = errors.New("contracts: frame is missing data")
	// ErrMissingMetadata is returned when an inbound frame has incomplete metadata.
	ErrMissingMetadata = errors.New("contracts: frame is missing metadata")
)

// FramePeer is the wire representation of a routing endpoint.
type FramePeer struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// FrameMetadata is the unencrypted control metadata carried next to the
// ciphertext on the wire.
type FrameMetadata struct {
	MessageID  string `json:"messageId"`
	AnalysisID string `json:"analysisId"`
}

// OutboundFrame is the JSON frame written to the relay.
type OutboundFrame struct {
	To       []FramePeer   `json:"to"`
	Data     string        `json:"data"`
	Metadata FrameMetadata `json:"metadata"`
}

// NewOutboundFrame builds the wire frame for an emit-pipeline output. The
// message payload must already be encrypted and text encoded.
func NewOutboundFrame(msg EmitMessage) OutboundFrame {
	return OutboundFrame{
		To: []FramePeer{{
			Type: PeerTypeRobot,
			ID:   msg.Recipient.RobotID,
		}},
		Data: string(msg.Payload),
		Metadata: FrameMetadata{
			MessageID:  msg.Context.MessageID.String(),
			AnalysisID: msg.Context.AnalysisID,
		},
	}
}

// InboundFrame is the JSON frame read from the relay.
type InboundFrame struct {
	From     FramePeer     `json:"from"`
	Data     string        `json:"data"`
	Metadata FrameMetadata `json:"metadata"`
}

// Validate checks that all fields required to process the frame are present.
func (f *InboundFrame) Validate() error {
	if f.From.ID == "" {
		return ErrMissingSender
	}
	if f.Data == "" {
		return ErrMissingData
	}
	if f.Metadata.MessageID == "" || f.Metadata.AnalysisID == "" {
		return ErrMissingMetadata
	}
	return nil
}

// Message converts a validated inbound frame to the internal representation
// handed to the receive pipeline.
func (f *InboundFrame) Message() (ReceiveMessage, error) {
	if err := f.Validate(); err != nil {
		return ReceiveMessage{}, err
	}
	messageID, err := uuid.Parse(f.Metadata.MessageID)
	if err != nil {
		return ReceiveMessage{}, ErrMissingMetadata
	}
	return NewReceiveMessage(
		Sender{RobotID: f.From.ID},
		[]byte(f.Data),
		MessageContext{MessageID: messageID, AnalysisID: f.Metadata.AnalysisID},
	), nil
}
