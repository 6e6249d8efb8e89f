package app

import (
	"context"
	"time"

	"handyhub/internal/domain"
)

// Replayed requests carrying the same Idempotency-Key resolve to the resource
// the first attempt created. A key is reserved with SETNX before the create
// runs, so concurrent retries wait for the first attempt instead of racing it.
const (
	idempotencyTTL  = 24 * time.Hour
	reservationTTL  = 30 * time.Second
	idempotencyWait = 5 * time.Second
	idempotencyPoll = 25 * time.Millisecond

	pendingMarker = "-"
)

func idempotencyKey(op, actorID, key string) string {
	return "idem:" + op + ":" + actorID + ":" + key
}

// once runs create at most once per cache key. load resolves a recorded id;
// a recorded id that no longer loads is discarded and the key reclaimed.
// Without a cache, or when the cache fails, create runs unguarded.
func once[T any](ctx context.Context, c domain.Cache, k string,
	load func(ctx context.Context, id string) (T, bool),
	create func() (T, string, error),
) (T, error) {
	var zero T
	if c == nil {
		v, _, err := create()
		return v, err
	}

	deadline := time.Now().Add(idempotencyWait)
	for {
		if id, ok := recall(ctx, c, k); ok {
			if v, ok := load(ctx, id); ok {
				return v, nil
			}
			_ = c.Del(ctx, k)
		}
		reserved, err := c.SetNX(ctx, k, pendingMarker, int(reservationTTL.Seconds()))
		if err != nil {
			v, _, err := create()
			return v, err
		}
		if reserved {
			break
		}
		if time.Now().After(deadline) {
			return zero, domain.InvalidState("a request with this idempotency key is still in progress")
		}
		t := time.NewTimer(idempotencyPoll)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, domain.StoreFailure("await idempotent request", ctx.Err())
		case <-t.C:
		}
	}

	v, id, err := create()
	if err != nil {
		// release the reservation so a retry can try again
		_ = c.Del(ctx, k)
		return zero, err
	}
	remember(ctx, c, k, id)
	return v, nil
}

// recall returns the id recorded under k; a pending reservation is not an id.
func recall(ctx context.Context, c domain.Cache, k string) (string, bool) {
	var id string
	ok, err := c.Get(ctx, k, &id)
	if err != nil || !ok || id == "" || id == pendingMarker {
		return "", false
	}
	return id, true
}

func remember(ctx context.Context, c domain.Cache, k, id string) {
	_ = c.Set(ctx, k, id, int(idempotencyTTL.Seconds()))
}
