package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"handyhub/internal/domain"
)

// Deps are the collaborators shared by the write-side services. Cache and
// Events are optional.
type Deps struct {
	Store        domain.Store
	Cache        domain.Cache
	Events       domain.EventSink
	Log          zerolog.Logger
	WriteTimeout time.Duration
	Now          func() time.Time
}

func (d Deps) now() time.Time {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	// DATETIME(6) precision, so values round-trip through MySQL unchanged.
	return now().UTC().Truncate(time.Microsecond)
}

// withTimeout bounds one write operation.
func (d Deps) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.WriteTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.WriteTimeout)
}

// emit is best effort: downstream consumers are not part of the write.
func (d Deps) emit(ctx context.Context, typ, aggregateType, aggregateID string, data any) {
	if d.Events == nil {
		return
	}
	ev := domain.DomainEvent{Type: typ, AggregateID: aggregateID, AggregateType: aggregateType, Data: data}
	if err := d.Events.Emit(context.WithoutCancel(ctx), ev); err != nil {
		d.Log.Warn().Err(err).Str("event", typ).Str("aggregate_id", aggregateID).Msg("emit event failed")
	}
}

var errNoHub = errors.New("fan-out hub not configured")

// requireActor rejects calls that arrive without an authenticated subject.
func requireActor(actorID string) error {
	if actorID == "" {
		return domain.Unauthenticated("no subject")
	}
	return nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func loadEngagement(ctx context.Context, repo domain.EngagementRepository, id string) (domain.Engagement, error) {
	if id == "" {
		return domain.Engagement{}, domain.Invalid("engagement id is required")
	}
	e, err := repo.GetEngagement(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Engagement{}, domain.NotFound("engagement %s not found", id)
	}
	if err != nil {
		return domain.Engagement{}, domain.StoreFailure("load engagement", err)
	}
	return e, nil
}

// ---- cache keys & invalidation ----

// reviewLimits are the page sizes the read side caches.
var reviewLimits = []int{20, 50, 100}

// reviewsKey versions a cached page by the provider's review count.
func reviewsKey(providerID string, reviewCount, limit int) string {
	return fmt.Sprintf("reviews:%s:v%d:%d", providerID, reviewCount, limit)
}

func profileKey(id string) string { return "profile:" + id }

func cacheableLimit(limit int) bool {
	for _, l := range reviewLimits {
		if l == limit {
			return true
		}
	}
	return false
}
