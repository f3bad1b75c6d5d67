package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fedmesh/nodebroker/contracts"
	"github.com/fedmesh/nodebroker/hub"
	"github.com/fedmesh/nodebroker/pipeline"
)

var (
	// ErrUnknownRecipient is returned by Send when a requested recipient is
	// not a participant of the analysis. No message is transmitted.
	ErrUnknownRecipient = errors.New("messaging: recipient is not an analysis participant")
)

// Emitter transmits a prepared frame to the relay.
type Emitter interface {
	Emit(ctx context.Context, frame contracts.OutboundFrame) error
}

// Service is the outbound message API. Broadcast and Send share one path:
// resolve participants, run each per-recipient message through the emit
// pipeline, hand the frame to the transport. Transmission is best-effort;
// per-recipient failures after validation are logged, not surfaced.
type Service struct {
	selfRobotID string
	gateway     hub.Gateway
	pipeline    *pipeline.Pipeline[contracts.EmitMessage]
	emitter     Emitter
	logger      *slog.Logger
}

// NewService creates the outbound message service. selfRobotID identifies
// this node's own account so broadcasts never loop back.
func NewService(selfRobotID string, gateway hub.Gateway, pipe *pipeline.Pipeline[contracts.EmitMessage], emitter Emitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		selfRobotID: selfRobotID,
		gateway:     gateway,
		pipeline:    pipe,
		emitter:     emitter,
		logger:      logger.With("component", "message-service"),
	}
}

// Broadcast sends the payload to every other participant of the analysis.
// One message id covers the whole broadcast; the per-recipient messages
// differ only in their recipient. An analysis where this node is the only
// participant is a no-op.
func (s *Service) Broadcast(ctx context.Context, analysisID string, payload []byte) error {
	nodes, err := s.gateway.FetchAnalysisNodes(ctx, analysisID)
	if err != nil {
		return fmt.Errorf("messaging: resolve participants of %s: %w", analysisID, err)
	}

	recipients := make([]string, 0, len(nodes))
	for _, node := range nodes {
		robotID := node.Node.RobotID
		if robotID == "" || robotID == s.selfRobotID {
			continue
		}
		recipients = append(recipients, robotID)
	}
	if len(recipients) == 0 {
		s.logger.Debug("broadcast has no recipients", "analysis_id", analysisID)
		return nil
	}

	s.emitAll(ctx, analysisID, recipients, payload)
	return nil
}

// Send transmits the payload to a named subset of participants, addressed by
// their hub node ids. Every recipient must be a member of the analysis; an
// unknown recipient rejects the whole send before any message leaves the
// node.
func (s *Service) Send(ctx context.Context, analysisID string, nodeIDs []string, payload []byte) error {
	nodes, err := s.gateway.FetchAnalysisNodes(ctx, analysisID)
	if err != nil {
		return fmt.Errorf("messaging: resolve participants of %s: %w", analysisID, err)
	}

	robotByNode := make(map[string]string, len(nodes))
	for _, node := range nodes {
		if node.Node.RobotID != "" {
			robotByNode[node.NodeID] = node.Node.RobotID
		}
	}

	recipients := make([]string, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		robotID, ok := robotByNode[nodeID]
		if !ok {
			return fmt.Errorf("%w: node %s in analysis %s", ErrUnknownRecipient, nodeID, analysisID)
		}
		recipients = append(recipients, robotID)
	}

	s.emitAll(ctx, analysisID, recipients, payload)
	return nil
}

// emitAll encrypts and transmits one message per recipient concurrently.
// Failures past this point are per-recipient and swallowed: the caller has
// already been validated, and one dead peer must not block the rest.
func (s *Service) emitAll(ctx context.Context, analysisID string, recipients []string, payload []byte) {
	msgCtx := contracts.MessageContext{
		MessageID:  uuid.New(),
		AnalysisID: analysisID,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, robotID := range recipients {
		robotID := robotID
		group.Go(func() error {
			msg := contracts.NewEmitMessage(contracts.Recipient{RobotID: robotID}, payload, msgCtx)
			prepared, err := s.pipeline.Run(groupCtx, msg)
			if err != nil {
				s.logger.Error("dropping message for recipient",
					"recipient", robotID,
					"message_id", msgCtx.MessageID,
					"error", err)
				return nil
			}
			if err := s.emitter.Emit(groupCtx, contracts.NewOutboundFrame(prepared)); err != nil {
				s.logger.Error("transmit failed for recipient",
					"recipient", robotID,
					"message_id", msgCtx.MessageID,
					"error", err)
			}
			return nil
		})
	}
	_ = group.Wait()
}
