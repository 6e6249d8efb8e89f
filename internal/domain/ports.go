package domain

import (
	"context"
	"time"
)

type EngagementRepository interface {
	CreateEngagement(ctx context.Context, e Engagement) error
	GetEngagement(ctx context.Context, id string) (Engagement, error)
	ListEngagements(ctx context.Context, participantID string, limit int) ([]Engagement, error)
	// TransitionEngagement moves id to `to` only if its current status is one of
	// `from`. It reports false when no row matched.
	TransitionEngagement(ctx context.Context, id string, from []Status, to Status, at time.Time) (bool, error)
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, m Message) error
	GetMessage(ctx context.Context, id string) (Message, error)
	// ListMessages returns the full history ordered by (createdAt, id).
	ListMessages(ctx context.Context, engagementID string) ([]Message, error)
}

type ReviewRepository interface {
	// InsertReview stores r and recomputes the provider aggregate in the same
	// transaction. It returns ErrDuplicateReview when the (provider, client)
	// pair already has a review.
	InsertReview(ctx context.Context, r Review) (RatingSummary, error)
	ListReviews(ctx context.Context, providerID string, limit int) ([]Review, error)
	HasReview(ctx context.Context, providerID, clientID string) (bool, error)
	RecomputeRating(ctx context.Context, providerID string) (RatingSummary, error)
	ListRatedProviders(ctx context.Context) ([]string, error)
}

type AccountRepository interface {
	GetAccount(ctx context.Context, id string) (Account, error)
}

// Store is everything the core persists.
type Store interface {
	EngagementRepository
	MessageRepository
	ReviewRepository
	AccountRepository
}

type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	// SetNX stores v only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, v any, ttlSec int) (bool, error)
	Del(ctx context.Context, key string) error
}

// Publisher hands a persisted message to the fan-out channel.
type Publisher interface {
	Publish(ctx context.Context, ev MessageInsertedEvent) error
}

// DomainEvent is emitted to downstream consumers after a state change.
type DomainEvent struct {
	Type          string
	AggregateID   string
	AggregateType string
	Data          any
}

type EventSink interface {
	Emit(ctx context.Context, ev DomainEvent) error
}

const (
	EventEngagementCreated   = "engagement.created"
	EventEngagementResponded = "engagement.responded"
	EventEngagementCompleted = "engagement.completed"
	EventEngagementCancelled = "engagement.cancelled"
	EventReviewSubmitted     = "review.submitted"
)
