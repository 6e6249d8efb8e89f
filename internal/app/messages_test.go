package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handyhub/internal/domain"
	"handyhub/internal/fanout"
)

func next(t *testing.T, s *fanout.Subscription) domain.MessageInsertedEvent {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	return domain.MessageInsertedEvent{}
}

func TestAppendMessage_DeliveredToBothParticipants(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eng := e.request(t)

	subA, err := e.messages.Subscribe(ctx, eng.ID, alice)
	require.NoError(t, err)
	defer subA.Close()
	subB, err := e.messages.Subscribe(ctx, eng.ID, bob)
	require.NoError(t, err)
	defer e.messages.Unsubscribe(subB)

	m, err := e.messages.AppendMessage(ctx, eng.ID, bob, "ok, tomorrow 10am")
	require.NoError(t, err)

	evA := next(t, subA)
	assert.Equal(t, m.ID, evA.Message.ID)
	assert.Equal(t, "Bob", evA.Sender.DisplayName)
	assert.True(t, evA.Sender.Known)
	// the author hears its own message too
	assert.Equal(t, m.ID, next(t, subB).Message.ID)
}

func TestAppendMessage_ProviderReplyMarksResponded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eng := e.request(t)

	_, err := e.messages.AppendMessage(ctx, eng.ID, alice, "are you free?")
	require.NoError(t, err)
	got, _ := e.store.GetEngagement(ctx, eng.ID)
	assert.Equal(t, domain.StatusRequested, got.Status)

	_, err = e.messages.AppendMessage(ctx, eng.ID, bob, "yes")
	require.NoError(t, err)
	got, _ = e.store.GetEngagement(ctx, eng.ID)
	assert.Equal(t, domain.StatusResponded, got.Status)
	assert.Contains(t, e.sink.types(), domain.EventEngagementResponded)
}

func TestAppendMessage_Rejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eng := e.request(t)

	_, err := e.messages.AppendMessage(ctx, eng.ID, carol, "hi")
	requireKind(t, domain.KindAuthorizationDenied, err)
	_, err = e.messages.AppendMessage(ctx, eng.ID, alice, " \n")
	requireKind(t, domain.KindValidation, err)
	_, err = e.messages.AppendMessage(ctx, "nope", alice, "hi")
	requireKind(t, domain.KindNotFound, err)
	_, err = e.messages.AppendMessage(ctx, eng.ID, "", "hi")
	requireKind(t, domain.KindAuthenticationRequired, err)

	_, err = e.messages.Subscribe(ctx, eng.ID, carol)
	requireKind(t, domain.KindAuthorizationDenied, err)
	_, err = e.messages.ListMessages(ctx, eng.ID, carol)
	requireKind(t, domain.KindAuthorizationDenied, err)
}

func TestAppendMessage_UnknownSenderProfileDegrades(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	// mallory is a participant with no profile record.
	eng := domain.Engagement{ID: "e-x", ClientID: "mallory", ProviderID: bob, Status: domain.StatusRequested}
	require.NoError(t, e.store.CreateEngagement(ctx, eng))

	sub, err := e.messages.Subscribe(ctx, eng.ID, bob)
	require.NoError(t, err)
	defer sub.Close()

	_, err = e.messages.AppendMessage(ctx, eng.ID, "mallory", "hello")
	require.NoError(t, err)
	ev := next(t, sub)
	assert.Equal(t, domain.UnknownSender, ev.Sender.DisplayName)
	assert.False(t, ev.Sender.Known)
}

func TestListMessages_OrderedWithoutDuplicates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eng := e.request(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := alice
			if i%2 == 0 {
				sender = bob
			}
			_, err := e.messages.AppendMessage(ctx, eng.ID, sender, "msg")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ms, err := e.messages.ListMessages(ctx, eng.ID, alice)
	require.NoError(t, err)
	require.Len(t, ms, 10)
	seen := map[string]bool{}
	for i, m := range ms {
		assert.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.False(t, m.Before(ms[i-1]), "out of order at %d", i)
		}
	}
}

func TestAppendMessageOnce_ReplaysSameKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eng := e.request(t)

	m1, err := e.messages.AppendMessageOnce(ctx, "retry-1", eng.ID, alice, "hi")
	require.NoError(t, err)
	m2, err := e.messages.AppendMessageOnce(ctx, "retry-1", eng.ID, alice, "hi")
	require.NoError(t, err)
	assert.Equal(t, m1.ID, m2.ID)

	ms, err := e.messages.ListMessages(ctx, eng.ID, bob)
	require.NoError(t, err)
	assert.Len(t, ms, 1)
}

func TestAppendMessageOnce_ConcurrentRetriesAppendOne(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eng := e.request(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.messages.AppendMessageOnce(ctx, "retry-2", eng.ID, alice, "on my way")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ms, err := e.messages.ListMessages(ctx, eng.ID, alice)
	require.NoError(t, err)
	assert.Len(t, ms, 1)
}

func TestAppendMessage_AllowedOnTerminalEngagement(t *testing.T) {
	e := newEnv(t)
	eng := e.completed(t)
	_, err := e.messages.AppendMessage(context.Background(), eng.ID, alice, "thanks!")
	require.NoError(t, err)
}
