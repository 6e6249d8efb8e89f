package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"handyhub/internal/domain"
	"handyhub/internal/fanout"
)

// Source is what a view needs from the message log.
type Source interface {
	Subscribe(ctx context.Context, engagementID, actorID string) (*fanout.Subscription, error)
	ListMessages(ctx context.Context, engagementID, actorID string) ([]domain.Message, error)
}

// ErrGaveUp is returned by Run when the subscription keeps getting dropped.
var ErrGaveUp = errors.New("conversation: subscription dropped too many times")

const (
	maxResubscribes = 5
	minBackoff      = 100 * time.Millisecond
	maxBackoff      = 5 * time.Second
)

// Update is one change to the timeline. Event is set for a live push; Resync
// is set after a replay, and Added then holds whatever the gap contained.
type Update struct {
	Added  []domain.Message
	Event  *domain.MessageInsertedEvent
	Resync bool
}

// View is one participant's open conversation. It holds a fan-out
// subscription from Open until Close.
type View struct {
	src          Source
	engagementID string
	actorID      string
	log          zerolog.Logger

	timeline *Timeline

	mu     sync.Mutex
	sub    *fanout.Subscription
	closed bool
}

// Open subscribes before loading history so nothing published in between is
// lost; duplicates from the overlap are merged away.
func Open(ctx context.Context, src Source, engagementID, actorID string, l zerolog.Logger) (*View, error) {
	sub, err := src.Subscribe(ctx, engagementID, actorID)
	if err != nil {
		return nil, err
	}
	history, err := src.ListMessages(ctx, engagementID, actorID)
	if err != nil {
		sub.Close()
		return nil, err
	}
	return &View{
		src:          src,
		engagementID: engagementID,
		actorID:      actorID,
		log:          l.With().Str("engagement_id", engagementID).Str("actor_id", actorID).Logger(),
		timeline:     NewTimeline(history...),
		sub:          sub,
	}, nil
}

func (v *View) Messages() []domain.Message { return v.timeline.Messages() }

// Run feeds updates to fn until ctx ends, the view is closed, or the fan-out
// hub shuts down. A dropped subscription is replaced and the history
// replayed; fn sees only messages the timeline did not already hold.
func (v *View) Run(ctx context.Context, fn func(Update) error) error {
	attempts := 0
	for {
		sub := v.current()
		if sub == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if ok {
				attempts = 0
				if added := v.timeline.Merge(ev.Message); len(added) > 0 {
					if err := fn(Update{Added: added, Event: &ev}); err != nil {
						return err
					}
				}
				continue
			}
			if !sub.Dropped() {
				return nil
			}
			if sub.HubClosed() {
				v.log.Debug().Msg("fan-out shut down, ending view")
				return nil
			}
			attempts++
			if attempts > maxResubscribes {
				return ErrGaveUp
			}
			v.log.Debug().Int("attempt", attempts).Msg("subscription dropped, replaying")
			if err := sleep(ctx, backoff(attempts)); err != nil {
				return err
			}
			added, err := v.resubscribe(ctx)
			if err != nil {
				return err
			}
			if err := fn(Update{Added: added, Resync: true}); err != nil {
				return err
			}
		}
	}
}

func (v *View) resubscribe(ctx context.Context) ([]domain.Message, error) {
	sub, err := v.src.Subscribe(ctx, v.engagementID, v.actorID)
	if err != nil {
		return nil, fmt.Errorf("resubscribe: %w", err)
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		sub.Close()
		return nil, nil
	}
	v.sub = sub
	v.mu.Unlock()

	history, err := v.src.ListMessages(ctx, v.engagementID, v.actorID)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return v.timeline.Merge(history...), nil
}

func (v *View) current() *fanout.Subscription {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	return v.sub
}

// Close releases the subscription. Safe to call more than once and from any
// goroutine; a blocked Run returns nil.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	if v.sub != nil {
		v.sub.Close()
	}
}

func backoff(attempt int) time.Duration {
	d := minBackoff << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
