package redisad

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handyhub/internal/domain"
)

func setup(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	return mr, New(c)
}

func TestCache_SetGetDel(t *testing.T) {
	mr, c := setup(t)
	ctx := context.Background()

	var out domain.RatingSummary
	ok, err := c.Get(ctx, "rating:bob", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	in := domain.RatingSummary{ProviderID: "bob", AvgRating: 4.5, ReviewCount: 2}
	require.NoError(t, c.Set(ctx, "rating:bob", in, 60))
	assert.Equal(t, 60*time.Second, mr.TTL("rating:bob"))

	ok, err = c.Get(ctx, "rating:bob", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, in, out)

	require.NoError(t, c.Del(ctx, "rating:bob"))
	assert.False(t, mr.Exists("rating:bob"))
}

func TestCache_ExpiresAndToleratesGarbage(t *testing.T) {
	mr, c := setup(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 1))
	mr.FastForward(2 * time.Second)
	var s string
	ok, err := c.Get(ctx, "k", &s)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mr.Set("k", "{not json"))
	ok, err = c.Get(ctx, "k", &s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_NilIsANoop(t *testing.T) {
	var c *Cache
	ok, err := c.Get(context.Background(), "k", new(string))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Set(context.Background(), "k", 1, 1))
	assert.NoError(t, c.Del(context.Background(), "k"))
	ok, err = c.SetNX(context.Background(), "k", 1, 1)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_SetNXOnlyFirstWins(t *testing.T) {
	mr, c := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := c.SetNX(ctx, "idem:k", i, 30)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 30*time.Second, mr.TTL("idem:k"))
}

func TestEngagementFromChannel(t *testing.T) {
	id, ok := engagementFromChannel(channelFor("e-42"))
	assert.True(t, ok)
	assert.Equal(t, "e-42", id)

	_, ok = engagementFromChannel("engagement::messages")
	assert.False(t, ok)
	_, ok = engagementFromChannel("other:e1")
	assert.False(t, ok)
}

type captured struct {
	mu  sync.Mutex
	evs []domain.MessageInsertedEvent
}

func (c *captured) Deliver(ev domain.MessageInsertedEvent) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
	return 1
}

func (c *captured) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evs)
}

func TestRelay_RoundTripsThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(mr.Addr(), "", 0)
	defer client.Close()

	dst := &captured{}
	relay := NewRelay(client, dst, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 1 }, 2*time.Second, 10*time.Millisecond)

	ev := domain.MessageInsertedEvent{
		Message: domain.Message{ID: "m1", EngagementID: "e1", SenderID: "bob", Text: "ok, tomorrow 10am", CreatedAt: time.Now().UTC()},
		Sender:  domain.SenderProfile{ID: "bob", DisplayName: "Bob", Known: true},
	}
	require.NoError(t, relay.Publish(ctx, ev))
	// a mismatched payload is ignored
	mr.Publish(channelFor("e2"), `{"message":{"id":"x","engagementId":"e1"}}`)

	require.Eventually(t, func() bool { return dst.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	dst.mu.Lock()
	got := dst.evs[0]
	dst.mu.Unlock()
	assert.Equal(t, "m1", got.Message.ID)
	assert.Equal(t, "Bob", got.Sender.DisplayName)
	assert.True(t, got.Message.CreatedAt.Equal(ev.Message.CreatedAt))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
