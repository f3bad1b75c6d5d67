package messaging

import (
	"context"
	"log/slog"

	"github.com/fedmesh/nodebroker/contracts"
	"github.com/fedmesh/nodebroker/pipeline"
)

// Consumer handles a fully decrypted inbound message. Consumers are
// independent: one consumer failing must not affect the others, so errors
// are reported back only for logging.
type Consumer interface {
	// Name identifies the consumer in logs.
	Name() string

	// Consume processes one decrypted message.
	Consume(ctx context.Context, msg contracts.ReceiveMessage) error
}

// Receiver turns raw relay frames into decrypted messages and fans them out
// to the registered consumers.
type Receiver struct {
	pipeline  *pipeline.Pipeline[contracts.ReceiveMessage]
	consumers []Consumer
	logger    *slog.Logger
}

// NewReceiver creates the inbound message dispatcher.
func NewReceiver(pipe *pipeline.Pipeline[contracts.ReceiveMessage], logger *slog.Logger, consumers ...Consumer) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		pipeline:  pipe,
		consumers: consumers,
		logger:    logger.With("component", "receiver"),
	}
}

// Handle validates and decrypts one inbound frame, then delivers it to every
// consumer. Validation and pipeline failures are fatal for the single
// message; consumer failures are isolated per consumer. Handle never
// propagates an error upward — a poisoned frame must not take down the read
// loop.
func (r *Receiver) Handle(ctx context.Context, frame contracts.InboundFrame) {
	msg, err := frame.Message()
	if err != nil {
		r.logger.Warn("rejecting invalid inbound frame",
			"sender", frame.From.ID,
			"error", err)
		return
	}

	decrypted, err := r.pipeline.Run(ctx, msg)
	if err != nil {
		r.logger.Error("dropping undecryptable message",
			"sender", msg.Sender.RobotID,
			"message_id", msg.Context.MessageID,
			"error", err)
		return
	}

	for _, consumer := range r.consumers {
		if err := consumer.Consume(ctx, decrypted); err != nil {
			r.logger.Error("consumer failed",
				"consumer", consumer.Name(),
				"message_id", decrypted.Context.MessageID,
				"error", err)
		}
	}
}
