// Package subscription manages webhook subscriptions: which local consumers
// want decrypted messages of an analysis delivered to an HTTP endpoint.
package subscription

import (
	"context"
	"errors"
	"net/url"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the subscription id is unknown.
	ErrNotFound = errors.New("subscription: not found")
	// ErrInvalidWebhookURL indicates the webhook target is missing or not
	// an absolute http(s) URL.
	ErrInvalidWebhookURL = errors.New("subscription: invalid webhook url")
)

// Subscription registers a webhook endpoint for one analysis. Every message
// received for the analysis is forwarded to WebhookURL.
type Subscription struct {
	ID         uuid.UUID
	AnalysisID string
	WebhookURL *url.URL
}

// New validates the webhook target and creates a subscription with a fresh id.
func New(analysisID, webhookURL string) (Subscription, error) {
	target, err := url.Parse(webhookURL)
	if err != nil {
		return Subscription{}, ErrInvalidWebhookURL
	}
	if !target.IsAbs() || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return Subscription{}, ErrInvalidWebhookURL
	}
	return Subscription{
		ID:         uuid.New(),
		AnalysisID: analysisID,
		WebhookURL: target,
	}, nil
}

// Store persists subscriptions. Implementations must be safe for concurrent
// use; the forwarder lists subscriptions on every incoming message while the
// HTTP surface mutates them.
type Store interface {
	// Add persists a subscription.
	Add(ctx context.Context, sub Subscription) error

	// Get returns the subscription with the given id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (Subscription, error)

	// List returns all subscriptions for the analysis. An analysis with no
	// subscribers yields an empty slice, not an error.
	List(ctx context.Context, analysisID string) ([]Subscription, error)

	// Delete removes the subscription with the given id, or returns
	// ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error
}
