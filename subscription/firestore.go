package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// subscriptionDoc is the Firestore document shape. The webhook target is
// stored as a string and re-parsed on read.
type subscriptionDoc struct {
	ID         string `firestore:"id"`
	AnalysisID string `firestore:"analysisId"`
	WebhookURL string `firestore:"webhookUrl"`
}

// FirestoreStore persists subscriptions in a Firestore collection, one
// document per subscription keyed by subscription id. The client's lifecycle
// is managed by the caller.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

// NewFirestoreStore creates a store over the given collection.
func NewFirestoreStore(client *firestore.Client, collection string, logger *slog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("subscription: firestore client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FirestoreStore{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "subscription-store"),
	}, nil
}

// Add implements Store.
func (s *FirestoreStore) Add(ctx context.Context, sub Subscription) error {
	doc := subscriptionDoc{
		ID:         sub.ID.String(),
		AnalysisID: sub.AnalysisID,
		WebhookURL: sub.WebhookURL.String(),
	}
	if _, err := s.client.Collection(s.collection).Doc(doc.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("subscription: firestore set %s: %w", doc.ID, err)
	}
	s.logger.Debug("subscription stored", "id", doc.ID, "analysis_id", doc.AnalysisID)
	return nil
}

// Get implements Store.
func (s *FirestoreStore) Get(ctx context.Context, id uuid.UUID) (Subscription, error) {
	snap, err := s.client.Collection(s.collection).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("subscription: firestore get %s: %w", id, err)
	}
	return s.fromSnapshot(snap)
}

// List implements Store.
func (s *FirestoreStore) List(ctx context.Context, analysisID string) ([]Subscription, error) {
	iter := s.client.Collection(s.collection).Where("analysisId", "==", analysisID).Documents(ctx)
	defer iter.Stop()

	subs := make([]Subscription, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("subscription: firestore list for %s: %w", analysisID, err)
		}
		sub, err := s.fromSnapshot(snap)
		if err != nil {
			// A corrupt document must not hide the healthy ones.
			s.logger.Warn("skipping malformed subscription document", "doc", snap.Ref.ID, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Delete implements Store.
func (s *FirestoreStore) Delete(ctx context.Context, id uuid.UUID) error {
	ref := s.client.Collection(s.collection).Doc(id.String())
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("subscription: firestore get %s: %w", id, err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("subscription: firestore delete %s: %w", id, err)
	}
	s.logger.Debug("subscription deleted", "id", id)
	return nil
}

func (s *FirestoreStore) fromSnapshot(snap *firestore.DocumentSnapshot) (Subscription, error) {
	var doc subscriptionDoc
	if err := snap.DataTo(&doc); err != nil {
		return Subscription{}, fmt.Errorf("subscription: firestore decode %s: %w", snap.Ref.ID, err)
	}
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription: firestore decode %s: %w", snap.Ref.ID, err)
	}
	target, err := url.Parse(doc.WebhookURL)
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription: firestore decode %s: %w", snap.Ref.ID, err)
	}
	return Subscription{ID: id, AnalysisID: doc.AnalysisID, WebhookURL: target}, nil
}
