package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fedmesh/nodebroker/contracts"
	"github.com/fedmesh/nodebroker/internal/reliability"
	"github.com/fedmesh/nodebroker/subscription"
)

// deliveryPayload is the body POSTed to each webhook subscriber. Data is the
// decrypted payload, embedded verbatim when it is itself JSON and as a JSON
// string otherwise.
type deliveryPayload struct {
	From     string                  `json:"from"`
	Data     json.RawMessage         `json:"data"`
	Metadata contracts.FrameMetadata `json:"metadata"`
}

// WebhookForwarder delivers decrypted messages to the webhook subscribers of
// the message's analysis. Subscriptions are listed fresh on every message so
// registrations take effect immediately. Deliveries are independent per
// subscriber and retried per policy; a subscriber that exhausts its retries
// is skipped, never blocking the rest.
type WebhookForwarder struct {
	store  subscription.Store
	client *http.Client
	policy reliability.Policy
	logger *slog.Logger
}

// ForwarderOption configures the WebhookForwarder.
type ForwarderOption func(*WebhookForwarder)

// WithForwarderClient sets the HTTP client used for deliveries.
func WithForwarderClient(client *http.Client) ForwarderOption {
	return func(f *WebhookForwarder) {
		f.client = client
	}
}

// WithForwarderRetryPolicy sets the per-delivery retry policy.
func WithForwarderRetryPolicy(policy reliability.Policy) ForwarderOption {
	return func(f *WebhookForwarder) {
		f.policy = policy
	}
}

// WithForwarderLogger sets the logger.
func WithForwarderLogger(logger *slog.Logger) ForwarderOption {
	return func(f *WebhookForwarder) {
		f.logger = logger
	}
}

// NewWebhookForwarder creates the forwarder consumer.
func NewWebhookForwarder(store subscription.Store, options ...ForwarderOption) *WebhookForwarder {
	f := &WebhookForwarder{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		policy: reliability.DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(f)
	}
	f.logger = f.logger.With("component", "webhook-forwarder")
	return f
}

// Name implements Consumer.
func (f *WebhookForwarder) Name() string { return "webhook-forwarder" }

// Consume implements Consumer. A message for an analysis with no subscribers
// succeeds as a no-op. Listing failures are the only error surfaced; they
// mean no delivery was attempted at all.
func (f *WebhookForwarder) Consume(ctx context.Context, msg contracts.ReceiveMessage) error {
	subs, err := f.store.List(ctx, msg.Context.AnalysisID)
	if err != nil {
		return fmt.Errorf("messaging: list subscribers of %s: %w", msg.Context.AnalysisID, err)
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(buildDelivery(msg))
	if err != nil {
		return fmt.Errorf("messaging: encode delivery for %s: %w", msg.Context.MessageID, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		group.Go(func() error {
			if err := f.deliver(groupCtx, sub, body); err != nil {
				f.logger.Error("webhook delivery abandoned",
					"subscription", sub.ID,
					"webhook", sub.WebhookURL,
					"message_id", msg.Context.MessageID,
					"error", err)
			}
			return nil
		})
	}
	return group.Wait()
}

// deliver POSTs the delivery body to one subscriber, retrying transient
// failures per policy.
func (f *WebhookForwarder) deliver(ctx context.Context, sub subscription.Subscription, body []byte) error {
	return reliability.Retry(ctx, f.policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.WebhookURL.String(), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return reliability.MarkRetryable(err)
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		if resp.StatusCode >= http.StatusInternalServerError {
			return reliability.MarkRetryable(fmt.Errorf("messaging: webhook returned status %d", resp.StatusCode))
		}
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("messaging: webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}

func buildDelivery(msg contracts.ReceiveMessage) deliveryPayload {
	data := json.RawMessage(msg.Payload)
	if !json.Valid(msg.Payload) {
		// Non-JSON plaintext is carried as a JSON string.
		quoted, _ := json.Marshal(string(msg.Payload))
		data = quoted
	}
	return deliveryPayload{
		From: msg.Sender.RobotID,
		Data: data,
		Metadata: contracts.FrameMetadata{
			MessageID:  msg.Context.MessageID.String(),
			AnalysisID: msg.Context.AnalysisID,
		},
	}
}
