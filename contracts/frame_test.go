package contracts

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutboundFrame(t *testing.T) {
	t.Run("maps message fields onto the wire frame", func(t *testing.T) {
		msgID := uuid.New()
		msg := NewEmitMessage(
			Recipient{RobotID: "robot-2"},
			[]byte("Y2lwaGVydGV4dA=="),
			MessageContext{MessageID: msgID, AnalysisID: "ana-1"},
		)

		frame := NewOutboundFrame(msg)

		require.Len(t, frame.To, 1)
		assert.Equal(t, PeerTypeRobot, frame.To[0].Type)
		assert.Equal(t, "robot-2", frame.To[0].ID)
		assert.Equal(t, "Y2lwaGVydGV4dA==", frame.Data)
		assert.Equal(t, msgID.String(), frame.Metadata.MessageID)
		assert.Equal(t, "ana-1", frame.Metadata.AnalysisID)
	})

	t.Run("serializes to the expected wire JSON shape", func(t *testing.T) {
		msg := NewEmitMessage(
			Recipient{RobotID: "robot-2"},
			[]byte("data"),
			MessageContext{MessageID: uuid.New(), AnalysisID: "ana-1"},
		)

		raw, err := json.Marshal(NewOutboundFrame(msg))
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Contains(t, decoded, "to")
		assert.Contains(t, decoded, "data")
		assert.Contains(t, decoded, "metadata")
	})
}

func TestInboundFrameValidate(t *testing.T) {
	valid := func() InboundFrame {
		return InboundFrame{
			From: FramePeer{Type: PeerTypeRobot, ID: "robot-1"},
			Data: "payload",
			Metadata: FrameMetadata{
				MessageID:  uuid.New().String(),
				AnalysisID: "ana-1",
			},
		}
	}

	t.Run("accepts a complete frame", func(t *testing.T) {
		frame := valid()
		assert.NoError(t, frame.Validate())
	})

	t.Run("rejects missing sender", func(t *testing.T) {
		frame := valid()
		frame.From.ID = ""
		assert.ErrorIs(t, frame.Validate(), ErrMissingSender)
	})

	t.Run("rejects missing data", func(t *testing.T) {
		frame := valid()
		frame.Data = ""
		assert.ErrorIs(t, frame.Validate(), ErrMissingData)
	})

	t.Run("rejects incomplete metadata", func(t *testing.T) {
		frame := valid()
		frame.Metadata.AnalysisID = ""
		assert.ErrorIs(t, frame.Validate(), ErrMissingMetadata)
	})
}

func TestInboundFrameMessage(t *testing.T) {
	t.Run("converts a valid frame", func(t *testing.T) {
		msgID := uuid.New()
		frame := InboundFrame{
			From: FramePeer{Type: PeerTypeRobot, ID: "robot-1"},
			Data: "payload",
			Metadata: FrameMetadata{
				MessageID:  msgID.String(),
				AnalysisID: "ana-1",
			},
		}

		msg, err := frame.Message()
		require.NoError(t, err)
		assert.Equal(t, "robot-1", msg.Sender.RobotID)
		assert.Equal(t, []byte("payload"), msg.Payload)
		assert.Equal(t, msgID, msg.Context.MessageID)
		assert.Equal(t, "ana-1", msg.Context.AnalysisID)
	})

	t.Run("rejects a malformed message id", func(t *testing.T) {
		frame := InboundFrame{
			From:     FramePeer{ID: "robot-1"},
			Data:     "payload",
			Metadata: FrameMetadata{MessageID: "not-a-uuid", AnalysisID: "ana-1"},
		}

		_, err := frame.Message()
		assert.ErrorIs(t, err, ErrMissingMetadata)
	})
}

func TestMessageImmutability(t *testing.T) {
	t.Run("WithPayload supersedes without mutating the original", func(t *testing.T) {
		original := NewEmitMessage(Recipient{RobotID: "r"}, []byte("plain"), MessageContext{MessageID: uuid.New(), AnalysisID: "a"})
		replaced := original.WithPayload([]byte("cipher"))

		assert.Equal(t, []byte("plain"), original.Payload)
		assert.Equal(t, []byte("cipher"), replaced.Payload)
		assert.Equal(t, original.Context, replaced.Context)
	})
}
