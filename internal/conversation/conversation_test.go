package conversation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handyhub/internal/conversation"
	"handyhub/internal/domain"
	"handyhub/internal/fanout"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func msg(id string, sec int) domain.Message {
	return domain.Message{ID: id, EngagementID: "e1", SenderID: "bob", Text: id, CreatedAt: t0.Add(time.Duration(sec) * time.Second)}
}

func ids(ms []domain.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestTimeline_MergeDedupesAndOrders(t *testing.T) {
	tl := conversation.NewTimeline(msg("b", 2), msg("a", 1))
	assert.Equal(t, []string{"a", "b"}, ids(tl.Messages()))

	added := tl.Merge(msg("d", 4), msg("b", 2), msg("c", 3), msg("d", 4))
	assert.Equal(t, []string{"c", "d"}, ids(added))
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(tl.Messages()))

	// same timestamp: id breaks the tie
	tl.Merge(msg("a2", 1))
	assert.Equal(t, []string{"a", "a2", "b", "c", "d"}, ids(tl.Messages()))
	assert.Nil(t, tl.Merge(msg("a", 1)))
	assert.Equal(t, 5, tl.Len())
}

// source is a message log backed by a slice plus a real hub.
type source struct {
	mu   sync.Mutex
	hub  *fanout.Hub
	msgs []domain.Message
}

func (s *source) Subscribe(_ context.Context, engagementID, _ string) (*fanout.Subscription, error) {
	return s.hub.Subscribe(engagementID), nil
}

func (s *source) ListMessages(_ context.Context, _, _ string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.msgs...), nil
}

func (s *source) append(m domain.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
	s.hub.Deliver(domain.MessageInsertedEvent{Message: m})
}

func collect(ctx context.Context, v *conversation.View) (<-chan conversation.Update, <-chan error) {
	updates := make(chan conversation.Update, 16)
	done := make(chan error, 1)
	go func() {
		done <- v.Run(ctx, func(u conversation.Update) error {
			updates <- u
			return nil
		})
	}()
	return updates, done
}

func nextUpdate(t *testing.T, ch <-chan conversation.Update) conversation.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(3 * time.Second):
		t.Fatal("no update")
	}
	return conversation.Update{}
}

func TestView_LiveEventsAreMergedOnce(t *testing.T) {
	src := &source{hub: fanout.NewHub(8, zerolog.Nop()), msgs: []domain.Message{msg("a", 1)}}
	v, err := conversation.Open(context.Background(), src, "e1", "alice", zerolog.Nop())
	require.NoError(t, err)
	defer v.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, done := collect(ctx, v)

	src.append(msg("b", 2))
	// the same insert delivered twice
	src.hub.Deliver(domain.MessageInsertedEvent{Message: msg("b", 2)})
	src.append(msg("c", 3))

	u := nextUpdate(t, updates)
	require.NotNil(t, u.Event)
	assert.Equal(t, []string{"b"}, ids(u.Added))
	assert.Equal(t, []string{"c"}, ids(nextUpdate(t, updates).Added))
	assert.Equal(t, []string{"a", "b", "c"}, ids(v.Messages()))

	v.Close()
	assert.NoError(t, <-done)
	assert.Equal(t, 0, src.hub.Subscribers("e1"))
}

func TestView_DroppedSubscriptionReplaysHistory(t *testing.T) {
	src := &source{hub: fanout.NewHub(1, zerolog.Nop())}
	v, err := conversation.Open(context.Background(), src, "e1", "alice", zerolog.Nop())
	require.NoError(t, err)
	defer v.Close()

	// Nobody is reading yet, so the second push overflows and drops the view.
	src.append(msg("a", 1))
	src.append(msg("b", 2))
	assert.Equal(t, 0, src.hub.Subscribers("e1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, _ := collect(ctx, v)

	first := nextUpdate(t, updates)
	assert.Equal(t, []string{"a"}, ids(first.Added))
	assert.False(t, first.Resync)

	resync := nextUpdate(t, updates)
	assert.True(t, resync.Resync)
	assert.Equal(t, []string{"b"}, ids(resync.Added))
	assert.Equal(t, []string{"a", "b"}, ids(v.Messages()))

	require.Eventually(t, func() bool { return src.hub.Subscribers("e1") == 1 }, time.Second, 10*time.Millisecond)
	src.append(msg("c", 3))
	assert.Equal(t, []string{"c"}, ids(nextUpdate(t, updates).Added))
}

func TestView_ContextCancelEndsRun(t *testing.T) {
	src := &source{hub: fanout.NewHub(1, zerolog.Nop())}
	v, err := conversation.Open(context.Background(), src, "e1", "alice", zerolog.Nop())
	require.NoError(t, err)
	defer v.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, done := collect(ctx, v)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestView_HubShutdownEndsRunWithoutRetrying(t *testing.T) {
	src := &source{hub: fanout.NewHub(4, zerolog.Nop())}
	v, err := conversation.Open(context.Background(), src, "e1", "alice", zerolog.Nop())
	require.NoError(t, err)
	defer v.Close()

	updates, done := collect(context.Background(), v)
	src.hub.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run kept going after the hub closed")
	}
	// a retry would have pushed a resync update before giving up
	assert.Empty(t, updates)
}
