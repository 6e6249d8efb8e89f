package app

import (
	"context"

	"handyhub/internal/adapters/observability"
	"handyhub/internal/domain"
	"handyhub/internal/fanout"
)

// MessageService is the message log: append-only, participant-only.
type MessageService struct {
	Deps
	pub      domain.Publisher
	hub      *fanout.Hub
	profiles *ProfileResolver
}

// NewMessageService wires the log to a publisher (the hub itself, or a
// cross-instance relay) and the hub readers subscribe to.
func NewMessageService(d Deps, pub domain.Publisher, hub *fanout.Hub, profiles *ProfileResolver) *MessageService {
	if pub == nil && hub != nil {
		pub = hub
	}
	return &MessageService{Deps: d, pub: pub, hub: hub, profiles: profiles}
}

// AppendMessage persists one message and pushes it to every open view of the
// engagement, the author's included. A push failure never fails the append.
func (s *MessageService) AppendMessage(ctx context.Context, engagementID, senderID, text string) (m domain.Message, err error) {
	ctx, span := observability.StartSpan(ctx, "messages.AppendMessage")
	defer func() { observability.EndSpan(span, err) }()

	if err := requireActor(senderID); err != nil {
		return domain.Message{}, err
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	e, err := loadEngagement(tctx, s.Store, engagementID)
	if err != nil {
		return domain.Message{}, err
	}
	if err := e.Authorize(senderID, domain.RoleClient, domain.RoleProvider); err != nil {
		return domain.Message{}, err
	}
	if err := check(appendMessageCmd{SenderID: senderID, Text: text}); err != nil {
		return domain.Message{}, err
	}

	m = domain.Message{
		ID:           newID(),
		EngagementID: e.ID,
		SenderID:     senderID,
		Text:         text,
		CreatedAt:    s.now(),
	}
	if err := s.Store.InsertMessage(tctx, m); err != nil {
		return domain.Message{}, domain.StoreFailure("insert message", err)
	}

	// The provider's first reply moves a fresh request to responded.
	if e.Status == domain.StatusRequested && e.RoleOf(senderID) == domain.RoleProvider {
		s.markResponded(tctx, e)
	}

	s.push(ctx, m)
	return m, nil
}

// AppendMessageOnce is AppendMessage guarded by an idempotency key.
func (s *MessageService) AppendMessageOnce(ctx context.Context, key, engagementID, senderID, text string) (domain.Message, error) {
	if key == "" {
		return s.AppendMessage(ctx, engagementID, senderID, text)
	}
	return once(ctx, s.Cache, idempotencyKey("message:"+engagementID, senderID, key),
		func(ctx context.Context, id string) (domain.Message, bool) {
			m, err := s.Store.GetMessage(ctx, id)
			return m, err == nil && m.SenderID == senderID
		},
		func() (domain.Message, string, error) {
			m, err := s.AppendMessage(ctx, engagementID, senderID, text)
			return m, m.ID, err
		})
}

func (s *MessageService) markResponded(ctx context.Context, e domain.Engagement) {
	ok, err := s.Store.TransitionEngagement(ctx, e.ID, []domain.Status{domain.StatusRequested}, domain.StatusResponded, s.now())
	if err != nil {
		s.Log.Warn().Err(err).Str("engagement_id", e.ID).Msg("mark responded failed")
		return
	}
	if !ok {
		return
	}
	e.Status = domain.StatusResponded
	observability.ObserveTransition(string(domain.StatusResponded))
	s.emit(ctx, domain.EventEngagementResponded, "engagement", e.ID, e)
}

func (s *MessageService) push(ctx context.Context, m domain.Message) {
	if s.pub == nil {
		return
	}
	ev := domain.MessageInsertedEvent{Message: m, Sender: s.profiles.Sender(ctx, m.SenderID)}
	if err := s.pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		observability.ObserveFanout("publish_failed")
		s.Log.Warn().Err(err).Str("engagement_id", m.EngagementID).Str("message_id", m.ID).Msg("publish message failed")
	}
}

// ListMessages returns the whole history ordered by (createdAt, id).
func (s *MessageService) ListMessages(ctx context.Context, engagementID, actorID string) ([]domain.Message, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	e, err := loadEngagement(ctx, s.Store, engagementID)
	if err != nil {
		return nil, err
	}
	if err := e.Authorize(actorID, domain.RoleClient, domain.RoleProvider); err != nil {
		return nil, err
	}
	ms, err := s.Store.ListMessages(ctx, e.ID)
	if err != nil {
		return nil, domain.StoreFailure("list messages", err)
	}
	domain.SortMessages(ms)
	return ms, nil
}

// Subscribe opens a push channel for one engagement. Only participants may
// listen. The caller must Close the subscription.
func (s *MessageService) Subscribe(ctx context.Context, engagementID, actorID string) (*fanout.Subscription, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	e, err := loadEngagement(ctx, s.Store, engagementID)
	if err != nil {
		return nil, err
	}
	if err := e.Authorize(actorID, domain.RoleClient, domain.RoleProvider); err != nil {
		return nil, err
	}
	if s.hub == nil {
		return nil, domain.StoreFailure("subscribe", errNoHub)
	}
	return s.hub.Subscribe(e.ID), nil
}

func (s *MessageService) Unsubscribe(sub *fanout.Subscription) {
	if s.hub != nil {
		s.hub.Unsubscribe(sub)
	}
}
