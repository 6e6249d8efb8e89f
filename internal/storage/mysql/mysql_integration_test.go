//go:build integration || !unit

package mysql_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handyhub/internal/domain"
	mysqlrepo "handyhub/internal/storage/mysql"
	"handyhub/internal/storage/mysql/mysqltest"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *mysqlrepo.Repo, accounts ...domain.Account) {
	t.Helper()
	for _, a := range accounts {
		require.NoError(t, repo.UpsertAccount(context.Background(), a))
	}
}

func TestRepo_MySQL(t *testing.T) {
	db := mysqltest.Start(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	seed(t, repo,
		domain.Account{ID: "alice", DisplayName: "Alice"},
		domain.Account{ID: "bob", DisplayName: "Bob", AvatarURL: "https://img/bob.png", IsProvider: true},
	)

	t.Run("engagement round trip and conditional transition", func(t *testing.T) {
		e := domain.Engagement{ID: "e-1", ClientID: "alice", ProviderID: "bob", DetailsText: "fix sink",
			Status: domain.StatusRequested, CreatedAt: t0, UpdatedAt: t0}
		require.NoError(t, repo.CreateEngagement(ctx, e))

		got, err := repo.GetEngagement(ctx, "e-1")
		require.NoError(t, err)
		assert.Equal(t, e, got)

		ok, err := repo.TransitionEngagement(ctx, "e-1", domain.Open, domain.StatusCompleted, t0.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.TransitionEngagement(ctx, "e-1", domain.Open, domain.StatusCancelled, t0.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		got, err = repo.GetEngagement(ctx, "e-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Minute)))

		_, err = repo.GetEngagement(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		list, err := repo.ListEngagements(ctx, "bob", 10)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("messages ordered and idempotent", func(t *testing.T) {
		m2 := domain.Message{ID: "m-2", EngagementID: "e-1", SenderID: "bob", Text: "second", CreatedAt: t0.Add(2 * time.Second)}
		m1 := domain.Message{ID: "m-1", EngagementID: "e-1", SenderID: "alice", Text: "first", CreatedAt: t0.Add(time.Second)}
		require.NoError(t, repo.InsertMessage(ctx, m2))
		require.NoError(t, repo.InsertMessage(ctx, m1))
		require.NoError(t, repo.InsertMessage(ctx, m1))

		ms, err := repo.ListMessages(ctx, "e-1")
		require.NoError(t, err)
		require.Len(t, ms, 2)
		assert.Equal(t, "m-1", ms[0].ID)
		assert.Equal(t, "m-2", ms[1].ID)

		err = repo.InsertMessage(ctx, domain.Message{ID: "m-x", EngagementID: "nope", SenderID: "alice", Text: "x", CreatedAt: t0})
		assert.Error(t, err)
	})

	t.Run("reviews unique and aggregate exact under concurrency", func(t *testing.T) {
		const n = 12
		for i := 0; i < n; i++ {
			client := fmt.Sprintf("c-%d", i)
			seed(t, repo, domain.Account{ID: client})
			require.NoError(t, repo.CreateEngagement(ctx, domain.Engagement{
				ID: fmt.Sprintf("e-c-%d", i), ClientID: client, ProviderID: "bob", DetailsText: "job",
				Status: domain.StatusCompleted, CreatedAt: t0, UpdatedAt: t0,
			}))
		}

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.InsertReview(ctx, domain.Review{
					ID: fmt.Sprintf("r-%d", i), EngagementID: fmt.Sprintf("e-c-%d", i), ProviderID: "bob",
					ClientID: fmt.Sprintf("c-%d", i), Rating: i%5 + 1, Comment: "ok", CreatedAt: t0.Add(time.Duration(i) * time.Second),
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		a, err := repo.GetAccount(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, n, a.ReviewCount)
		// ratings 1..5,1..5,1,2 -> 32/12
		assert.InDelta(t, 32.0/12.0, a.AvgRating, 1e-9)

		_, err = repo.InsertReview(ctx, domain.Review{ID: "r-dup", EngagementID: "e-c-0", ProviderID: "bob", ClientID: "c-0", Rating: 5, Comment: "again", CreatedAt: t0})
		assert.ErrorIs(t, err, domain.ErrDuplicateReview)

		has, err := repo.HasReview(ctx, "bob", "c-0")
		require.NoError(t, err)
		assert.True(t, has)

		rs, err := repo.ListReviews(ctx, "bob", 3)
		require.NoError(t, err)
		require.Len(t, rs, 3)
		assert.Equal(t, "r-11", rs[0].ID)

		ids, err := repo.ListRatedProviders(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, ids)

		sum, err := repo.RecomputeRating(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, n, sum.ReviewCount)

		_, err = repo.RecomputeRating(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("profiles", func(t *testing.T) {
		p, err := repo.GetProfile(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, domain.Profile{ID: "bob", DisplayName: "Bob", AvatarURL: "https://img/bob.png", IsProvider: true}, p)
		_, err = repo.GetProfile(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
