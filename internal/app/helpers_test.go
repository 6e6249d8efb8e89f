package app_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"handyhub/internal/app"
	"handyhub/internal/domain"
	"handyhub/internal/fanout"
	"handyhub/internal/storage/memory"
)

const (
	alice = "alice" // client
	bob   = "bob"   // provider
	carol = "carol" // another client
	dave  = "dave"  // another provider
)

// jsonCache behaves like the redis cache: values round-trip through JSON.
type jsonCache struct {
	mu   sync.Mutex
	data map[string][]byte
	dels []string
}

func newJSONCache() *jsonCache { return &jsonCache{data: map[string][]byte{}} }

func (c *jsonCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *jsonCache) Set(_ context.Context, key string, v any, _ int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	return nil
}

func (c *jsonCache) SetNX(_ context.Context, key string, v any, _ int) (bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = b
	return true, nil
}

func (c *jsonCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.dels = append(c.dels, key)
	return nil
}

func (c *jsonCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.DomainEvent
}

func (s *recordingSink) Emit(_ context.Context, ev domain.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

// tickingClock advances one second per reading so every write gets a
// distinct timestamp.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type env struct {
	store     *memory.Store
	cache     *jsonCache
	sink      *recordingSink
	hub       *fanout.Hub
	lifecycle *app.LifecycleService
	messages  *app.MessageService
	ratings   *app.RatingService
	queries   *app.QueryService
}

func seededStore() *memory.Store {
	store := memory.New()
	store.PutAccount(domain.Account{ID: alice, DisplayName: "Alice"})
	store.PutAccount(domain.Account{ID: carol, DisplayName: "Carol"})
	store.PutAccount(domain.Account{ID: bob, DisplayName: "Bob", AvatarURL: "https://img/bob.png", IsProvider: true})
	store.PutAccount(domain.Account{ID: dave, DisplayName: "Dave", IsProvider: true})
	return store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := seededStore()
	return newEnvWith(t, store, store)
}

func newEnvWith(t *testing.T, store *memory.Store, ds domain.Store) *env {
	t.Helper()
	cache := newJSONCache()
	sink := &recordingSink{}
	hub := fanout.NewHub(16, zerolog.Nop())
	t.Cleanup(hub.Close)

	d := app.Deps{
		Store:        ds,
		Cache:        cache,
		Events:       sink,
		Log:          zerolog.Nop(),
		WriteTimeout: time.Second,
		Now:          tickingClock(),
	}
	profiles := app.NewProfileResolver(store, cache, time.Minute, zerolog.Nop())
	return &env{
		store:     store,
		cache:     cache,
		sink:      sink,
		hub:       hub,
		lifecycle: app.NewLifecycleService(d),
		messages:  app.NewMessageService(d, hub, hub, profiles),
		ratings:   app.NewRatingService(d),
		queries:   app.NewQueryService(ds, cache, time.Minute),
	}
}

func (e *env) request(t *testing.T) domain.Engagement {
	t.Helper()
	eng, err := e.lifecycle.CreateEngagement(context.Background(), alice, bob, "fix sink")
	require.NoError(t, err)
	return eng
}

func (e *env) completed(t *testing.T) domain.Engagement {
	t.Helper()
	eng := e.request(t)
	eng, err := e.lifecycle.CompleteEngagement(context.Background(), eng.ID, bob)
	require.NoError(t, err)
	return eng
}

func requireKind(t *testing.T, want domain.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, domain.KindOf(err), "error: %v", err)
}
