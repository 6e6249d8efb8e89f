package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"handyhub/internal/adapters/observability"
	"handyhub/internal/domain"
)

// RatingService accepts reviews and keeps each provider's aggregate in step
// with the full review set.
type RatingService struct {
	Deps
}

func NewRatingService(d Deps) *RatingService {
	return &RatingService{Deps: d}
}

type ReviewResult struct {
	Review  domain.Review        `json:"review"`
	Summary domain.RatingSummary `json:"rating"`
}

// SubmitReview records the client's one review of a completed engagement's
// provider. Checks run in a fixed order so the first failing one decides the
// error kind.
func (s *RatingService) SubmitReview(ctx context.Context, engagementID, providerID, actorID string, rating int, comment string) (res ReviewResult, err error) {
	ctx, span := observability.StartSpan(ctx, "ratings.SubmitReview")
	defer func() { observability.EndSpan(span, err) }()

	if err := requireActor(actorID); err != nil {
		return ReviewResult{}, err
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	e, err := loadEngagement(tctx, s.Store, engagementID)
	if err != nil {
		return ReviewResult{}, err
	}
	if err := e.Authorize(actorID, domain.RoleClient); err != nil {
		return ReviewResult{}, err
	}
	if e.Status != domain.StatusCompleted {
		return ReviewResult{}, domain.InvalidState("engagement %s is %s; only completed engagements can be reviewed", e.ID, e.Status)
	}
	if err := check(submitReviewCmd{Rating: rating, Comment: comment}); err != nil {
		return ReviewResult{}, err
	}
	if providerID == "" {
		providerID = e.ProviderID
	}
	if providerID != e.ProviderID {
		return ReviewResult{}, domain.Invalid("providerId does not match engagement %s", e.ID)
	}

	// Fast path only: the storage unique key is what actually holds the line.
	dup, err := s.Store.HasReview(tctx, providerID, actorID)
	if err != nil {
		return ReviewResult{}, domain.StoreFailure("check review", err)
	}
	if dup {
		return ReviewResult{}, domain.Duplicate("client %s already reviewed provider %s", actorID, providerID)
	}

	r := domain.Review{
		ID:           newID(),
		EngagementID: e.ID,
		ProviderID:   providerID,
		ClientID:     actorID,
		Rating:       rating,
		Comment:      comment,
		CreatedAt:    s.now(),
	}
	sum, err := s.Store.InsertReview(tctx, r)
	switch {
	case errors.Is(err, domain.ErrDuplicateReview):
		return ReviewResult{}, domain.Duplicate("client %s already reviewed provider %s", actorID, providerID)
	case errors.Is(err, domain.ErrNotFound):
		return ReviewResult{}, domain.NotFound("provider %s not found", providerID)
	case err != nil:
		return ReviewResult{}, domain.StoreFailure("insert review", err)
	}

	observability.ReviewsSubmitted.Inc()
	s.Log.Info().
		Str("engagement_id", e.ID).
		Str("provider_id", providerID).
		Int("rating", rating).
		Float64("avg_rating", sum.AvgRating).
		Int("review_count", sum.ReviewCount).
		Msg("review submitted")
	s.emit(ctx, domain.EventReviewSubmitted, "review", r.ID, ReviewResult{Review: r, Summary: sum})
	return ReviewResult{Review: r, Summary: sum}, nil
}

// RecomputeRating rebuilds one provider's aggregate from its reviews.
func (s *RatingService) RecomputeRating(ctx context.Context, providerID string) (domain.RatingSummary, error) {
	if providerID == "" {
		return domain.RatingSummary{}, domain.Invalid("provider id is required")
	}
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sum, err := s.Store.RecomputeRating(tctx, providerID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.RatingSummary{}, domain.NotFound("provider %s not found", providerID)
	}
	if err != nil {
		return domain.RatingSummary{}, domain.StoreFailure("recompute rating", err)
	}
	return sum, nil
}

// RerateReport summarizes one RecomputeAll pass.
type RerateReport struct {
	Providers int
	Failed    int
}

// RecomputeAll rebuilds the aggregate of every provider with at least one
// review, running at most workers recomputes at a time. Individual failures
// are logged and counted; only listing the providers aborts the pass.
func (s *RatingService) RecomputeAll(ctx context.Context, workers int) (RerateReport, error) {
	if workers < 1 {
		workers = 1
	}
	ids, err := s.Store.ListRatedProviders(ctx)
	if err != nil {
		return RerateReport{}, domain.StoreFailure("list rated providers", err)
	}

	sem := semaphore.NewWeighted(int64(workers))
	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	for _, id := range ids {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(providerID string) {
			defer wg.Done()
			defer sem.Release(1)

			sum, err := s.RecomputeRating(ctx, providerID)
			if err != nil {
				failed.Add(1)
				s.Log.Warn().Err(err).Str("provider_id", providerID).Msg("recompute failed")
				return
			}
			s.Log.Debug().Str("provider_id", providerID).Float64("avg_rating", sum.AvgRating).Int("review_count", sum.ReviewCount).Msg("recomputed")
		}(id)
	}
	wg.Wait()

	rep := RerateReport{Providers: len(ids), Failed: int(failed.Load())}
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}
