package redisad

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"handyhub/internal/adapters/observability"
	"handyhub/internal/domain"
)

const (
	channelPrefix  = "engagement:"
	channelSuffix  = ":messages"
	channelPattern = channelPrefix + "*" + channelSuffix
)

func channelFor(engagementID string) string {
	return channelPrefix + engagementID + channelSuffix
}

func engagementFromChannel(ch string) (string, bool) {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(ch, channelPrefix), channelSuffix)
	return id, id != ""
}

// Deliverer is the local end of the relay, normally a *fanout.Hub.
type Deliverer interface {
	Deliver(ev domain.MessageInsertedEvent) int
}

// Relay carries message events between API instances. Publish goes to redis
// only; every instance, the publishing one included, receives the event back
// through Run and hands it to its local hub.
type Relay struct {
	c   *redis.Client
	dst Deliverer
	log zerolog.Logger
}

func NewRelay(c *redis.Client, dst Deliverer, l zerolog.Logger) *Relay {
	return &Relay{c: c, dst: dst, log: l}
}

func (r *Relay) Publish(ctx context.Context, ev domain.MessageInsertedEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.c.Publish(ctx, channelFor(ev.Message.EngagementID), b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	observability.ObserveFanout("published")
	return nil
}

// Run relays redis messages into the local hub until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.c.PSubscribe(ctx, channelPattern)
	defer ps.Close()

	// wait for the subscription to be confirmed so nothing published after
	// Run starts is missed
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.log.Info().Str("pattern", channelPattern).Msg("fan-out relay subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(m)
		}
	}
}

func (r *Relay) handle(m *redis.Message) {
	id, ok := engagementFromChannel(m.Channel)
	if !ok {
		return
	}
	var ev domain.MessageInsertedEvent
	if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
		r.log.Warn().Err(err).Str("channel", m.Channel).Msg("bad relay payload")
		return
	}
	if ev.Message.EngagementID != id {
		r.log.Warn().Str("channel", m.Channel).Str("engagement_id", ev.Message.EngagementID).Msg("relay payload on wrong channel")
		return
	}
	r.dst.Deliver(ev)
}
