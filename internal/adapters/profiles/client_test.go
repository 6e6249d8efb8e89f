package profiles

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handyhub/internal/domain"
)

func TestClient_GetProfile_RetriesThenSuccess(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		switch atomic.AddInt32(&hits, 1) {
		case 1, 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "bob", "first_name": "Bob", "last_name": "Builder",
				"profile": map[string]any{"avatar": "https://img/bob.png"},
				"role":    "provider",
			})
		}
	}))
	defer ts.Close()

	cl, err := New(ts.URL, "test-key", 100, zerolog.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	p, err := cl.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.Profile{ID: "bob", DisplayName: "Bob Builder", AvatarURL: "https://img/bob.png", IsProvider: true}, p)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(3))
}

func TestClient_GetProfile_FallsBackToLegacyPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/alice" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"displayName": "Alice", "is_provider": false})
	}))
	defer ts.Close()

	cl, err := New(ts.URL, "", 100, zerolog.Nop())
	require.NoError(t, err)
	p, err := cl.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.False(t, p.IsProvider)
}

func TestClient_GetProfile_NotFoundDoesNotTrip(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	cl, err := New(ts.URL, "", 100, zerolog.Nop())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = cl.GetProfile(context.Background(), "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, cl.State())
}

func TestClient_GetProfile_BreakerOpensOnOutage(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	cl, err := New(ts.URL, "", 100, zerolog.Nop())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = cl.GetProfile(context.Background(), "bob")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cl.State())

	before := atomic.LoadInt32(&hits)
	_, err = cl.GetProfile(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, before, atomic.LoadInt32(&hits))
}

func TestRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Zero(t, retryAfter(resp))
	resp.Header.Set("Retry-After", "2")
	assert.Equal(t, 2*time.Second, retryAfter(resp))
	resp.Header.Set("Retry-After", "soon")
	assert.Zero(t, retryAfter(resp))
}

func TestEndpointOf(t *testing.T) {
	assert.Equal(t, "/accounts", endpointOf("http://x/accounts/123"))
	assert.Equal(t, "/v2/users", endpointOf("http://x/v2/users/abc"))
}

func TestMapProfile_Aliases(t *testing.T) {
	p := mapProfile(map[string]any{"user_id": 42.0, "fullName": " Dana ", "isProvider": "true", "photo": "a.png"})
	assert.Equal(t, domain.Profile{ID: "42", DisplayName: "Dana", AvatarURL: "a.png", IsProvider: true}, p)
}
