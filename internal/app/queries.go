package app

import (
	"context"
	"errors"
	"time"

	"handyhub/internal/domain"
)

const defaultReviewLimit = 20

type QueryService struct {
	store    domain.Store
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(s domain.Store, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{store: s, cache: c, cacheTTL: ttl}
}

// GetProviderRating reads the aggregate stored on the provider's account. It
// is a single-row read and always goes to the store, so a successful
// SubmitReview is visible to the very next call.
func (s *QueryService) GetProviderRating(ctx context.Context, providerID string) (domain.RatingSummary, error) {
	a, err := s.provider(ctx, providerID)
	if err != nil {
		return domain.RatingSummary{}, err
	}
	return domain.RatingSummary{ProviderID: a.ID, AvgRating: a.AvgRating, ReviewCount: a.ReviewCount}, nil
}

// ListReviews returns a provider's reviews, newest first. Only the standard
// page sizes are cached, keyed by the provider's review count: the count only
// grows, so a page filled from an older read can never be served once a newer
// review has committed.
func (s *QueryService) ListReviews(ctx context.Context, providerID string, limit int) ([]domain.Review, error) {
	if limit <= 0 {
		limit = defaultReviewLimit
	}
	if limit > reviewLimits[len(reviewLimits)-1] {
		limit = reviewLimits[len(reviewLimits)-1]
	}
	a, err := s.provider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	key := reviewsKey(providerID, a.ReviewCount, limit)
	cacheable := cacheableLimit(limit)
	var out []domain.Review
	if cacheable && s.get(ctx, key, &out) {
		return out, nil
	}
	rs, err := s.store.ListReviews(ctx, providerID, limit)
	if err != nil {
		return nil, domain.StoreFailure("list reviews", err)
	}
	// copy so the cached value never aliases the store's backing array
	out = make([]domain.Review, len(rs))
	copy(out, rs)
	if cacheable {
		s.set(ctx, key, out)
	}
	return out, nil
}

func (s *QueryService) provider(ctx context.Context, providerID string) (domain.Account, error) {
	a, err := s.store.GetAccount(ctx, providerID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !a.IsProvider) {
		return domain.Account{}, domain.NotFound("provider %s not found", providerID)
	}
	if err != nil {
		return domain.Account{}, domain.StoreFailure("load provider", err)
	}
	return a, nil
}

func (s *QueryService) get(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	ok, _ := s.cache.Get(ctx, key, dst)
	return ok
}

func (s *QueryService) set(ctx context.Context, key string, v any) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	_ = s.cache.Set(ctx, key, v, int(s.cacheTTL.Seconds()))
}
