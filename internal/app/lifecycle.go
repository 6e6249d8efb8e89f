package app

import (
	"context"
	"errors"

	"handyhub/internal/adapters/observability"
	"handyhub/internal/domain"
)

const maxListEngagements = 100

// LifecycleService owns every Engagement status change.
type LifecycleService struct {
	Deps
}

func NewLifecycleService(d Deps) *LifecycleService {
	return &LifecycleService{Deps: d}
}

func (s *LifecycleService) CreateEngagement(ctx context.Context, clientID, providerID, detailsText string) (e domain.Engagement, err error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle.CreateEngagement")
	defer func() { observability.EndSpan(span, err) }()

	if err := requireActor(clientID); err != nil {
		return domain.Engagement{}, err
	}
	if err := check(createEngagementCmd{ClientID: clientID, ProviderID: providerID, DetailsText: detailsText}); err != nil {
		return domain.Engagement{}, err
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	provider, err := s.Store.GetAccount(tctx, providerID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !provider.IsProvider) {
		return domain.Engagement{}, domain.NotFound("provider %s not found", providerID)
	}
	if err != nil {
		return domain.Engagement{}, domain.StoreFailure("load provider", err)
	}

	now := s.now()
	e = domain.Engagement{
		ID:          newID(),
		ClientID:    clientID,
		ProviderID:  providerID,
		DetailsText: detailsText,
		Status:      domain.StatusRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Store.CreateEngagement(tctx, e); err != nil {
		return domain.Engagement{}, domain.StoreFailure("create engagement", err)
	}

	observability.ObserveTransition(string(domain.StatusRequested))
	s.Log.Info().Str("engagement_id", e.ID).Str("client_id", clientID).Str("provider_id", providerID).Msg("engagement created")
	s.emit(ctx, domain.EventEngagementCreated, "engagement", e.ID, e)
	return e, nil
}

// CreateEngagementOnce is CreateEngagement guarded by a client-supplied
// idempotency key. An empty key disables the guard.
func (s *LifecycleService) CreateEngagementOnce(ctx context.Context, key, clientID, providerID, detailsText string) (domain.Engagement, error) {
	if key == "" {
		return s.CreateEngagement(ctx, clientID, providerID, detailsText)
	}
	return once(ctx, s.Cache, idempotencyKey("engagement", clientID, key),
		func(ctx context.Context, id string) (domain.Engagement, bool) {
			e, err := s.Store.GetEngagement(ctx, id)
			return e, err == nil
		},
		func() (domain.Engagement, string, error) {
			e, err := s.CreateEngagement(ctx, clientID, providerID, detailsText)
			return e, e.ID, err
		})
}

// GetEngagement is visible to its two participants only.
func (s *LifecycleService) GetEngagement(ctx context.Context, engagementID, actorID string) (domain.Engagement, error) {
	if err := requireActor(actorID); err != nil {
		return domain.Engagement{}, err
	}
	e, err := loadEngagement(ctx, s.Store, engagementID)
	if err != nil {
		return domain.Engagement{}, err
	}
	if err := e.Authorize(actorID, domain.RoleClient, domain.RoleProvider); err != nil {
		return domain.Engagement{}, err
	}
	return e, nil
}

func (s *LifecycleService) ListEngagements(ctx context.Context, actorID string, limit int) ([]domain.Engagement, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxListEngagements {
		limit = maxListEngagements
	}
	out, err := s.Store.ListEngagements(ctx, actorID, limit)
	if err != nil {
		return nil, domain.StoreFailure("list engagements", err)
	}
	return out, nil
}

// RespondEngagement marks that a participant has engaged with the request.
// It is informational and gates nothing.
func (s *LifecycleService) RespondEngagement(ctx context.Context, engagementID, actorID string) (domain.Engagement, error) {
	return s.transition(ctx, "lifecycle.RespondEngagement", engagementID, actorID, domain.StatusResponded,
		domain.RoleClient, domain.RoleProvider)
}

// CompleteEngagement is reserved to the engagement's provider. Success makes
// the client eligible to review.
func (s *LifecycleService) CompleteEngagement(ctx context.Context, engagementID, actorID string) (domain.Engagement, error) {
	return s.transition(ctx, "lifecycle.CompleteEngagement", engagementID, actorID, domain.StatusCompleted,
		domain.RoleProvider)
}

func (s *LifecycleService) CancelEngagement(ctx context.Context, engagementID, actorID string) (domain.Engagement, error) {
	return s.transition(ctx, "lifecycle.CancelEngagement", engagementID, actorID, domain.StatusCancelled,
		domain.RoleClient, domain.RoleProvider)
}

// transition authorizes the actor, checks the edge, and applies it with a
// conditional write. Losing a race to another writer reports InvalidState
// and leaves the winner's result in place.
func (s *LifecycleService) transition(ctx context.Context, op, engagementID, actorID string, to domain.Status, allowed ...domain.Role) (e domain.Engagement, err error) {
	ctx, span := observability.StartSpan(ctx, op)
	defer func() { observability.EndSpan(span, err) }()

	if err := requireActor(actorID); err != nil {
		return domain.Engagement{}, err
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	e, err = loadEngagement(tctx, s.Store, engagementID)
	if err != nil {
		return domain.Engagement{}, err
	}
	if err := e.Authorize(actorID, allowed...); err != nil {
		return domain.Engagement{}, err
	}
	if !e.Status.CanTransition(to) {
		return domain.Engagement{}, domain.InvalidState("engagement %s is %s and cannot become %s", e.ID, e.Status, to)
	}

	now := s.now()
	ok, err := s.Store.TransitionEngagement(tctx, e.ID, sourcesOf(to), to, now)
	if err != nil {
		return domain.Engagement{}, domain.StoreFailure("update engagement", err)
	}
	if !ok {
		cur, lerr := loadEngagement(tctx, s.Store, e.ID)
		if lerr != nil {
			return domain.Engagement{}, lerr
		}
		return domain.Engagement{}, domain.InvalidState("engagement %s is %s and cannot become %s", cur.ID, cur.Status, to)
	}

	e.Status = to
	e.UpdatedAt = now
	observability.ObserveTransition(string(to))
	s.Log.Info().Str("engagement_id", e.ID).Str("actor_id", actorID).Str("status", string(to)).Msg("engagement transitioned")
	s.emit(ctx, transitionEvent(to), "engagement", e.ID, e)
	return e, nil
}

// sourcesOf lists every status with an edge into to.
func sourcesOf(to domain.Status) []domain.Status {
	var out []domain.Status
	for _, from := range domain.Open {
		if from.CanTransition(to) {
			out = append(out, from)
		}
	}
	return out
}

func transitionEvent(to domain.Status) string {
	switch to {
	case domain.StatusResponded:
		return domain.EventEngagementResponded
	case domain.StatusCompleted:
		return domain.EventEngagementCompleted
	case domain.StatusCancelled:
		return domain.EventEngagementCancelled
	}
	return "engagement." + string(to)
}
