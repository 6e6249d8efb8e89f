// Package memory is a process-local domain.Store for development and tests.
// It enforces the same invariants as the MySQL store: conditional status
// transitions, one review per (provider, client), and an aggregate recomputed
// under the same lock as the review insert.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"handyhub/internal/domain"
)

type reviewKey struct{ provider, client string }

type Store struct {
	mu          sync.RWMutex
	accounts    map[string]domain.Account
	engagements map[string]domain.Engagement
	messages    map[string][]domain.Message // by engagement
	messageByID map[string]domain.Message
	reviews     map[string][]domain.Review // by provider
	reviewPairs map[reviewKey]struct{}
}

func New() *Store {
	return &Store{
		accounts:    make(map[string]domain.Account),
		engagements: make(map[string]domain.Engagement),
		messages:    make(map[string][]domain.Message),
		messageByID: make(map[string]domain.Message),
		reviews:     make(map[string][]domain.Review),
		reviewPairs: make(map[reviewKey]struct{}),
	}
}

// PutAccount seeds or replaces an account; the profile store owns these rows.
func (s *Store) PutAccount(a domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// Seed adds accounts from "id:Display Name[:provider]" entries.
func (s *Store) Seed(entries []string) error {
	for _, e := range entries {
		parts := strings.Split(strings.TrimSpace(e), ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return fmt.Errorf("bad account entry %q: want id:name[:provider]", e)
		}
		a := domain.Account{ID: parts[0], DisplayName: parts[1]}
		if len(parts) == 3 {
			if parts[2] != "provider" {
				return fmt.Errorf("bad account entry %q: unknown flag %q", e, parts[2])
			}
			a.IsProvider = true
		}
		s.PutAccount(a)
	}
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return domain.Profile{}, err
	}
	return a.Profile(), nil
}

func (s *Store) CreateEngagement(ctx context.Context, e domain.Engagement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engagements[e.ID] = e
	return nil
}

func (s *Store) GetEngagement(_ context.Context, id string) (domain.Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engagements[id]
	if !ok {
		return domain.Engagement{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *Store) ListEngagements(_ context.Context, participantID string, limit int) ([]domain.Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Engagement
	for _, e := range s.engagements {
		if e.ClientID == participantID || e.ProviderID == participantID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TransitionEngagement(ctx context.Context, id string, from []domain.Status, to domain.Status, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engagements[id]
	if !ok || !slices.Contains(from, e.Status) {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = at
	s.engagements[id] = e
	return true, nil
}

func (s *Store) InsertMessage(ctx context.Context, m domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.messageByID[m.ID]; dup {
		return nil
	}
	s.messageByID[m.ID] = m
	s.messages[m.EngagementID] = append(s.messages[m.EngagementID], m)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messageByID[id]
	if !ok {
		return domain.Message{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListMessages(_ context.Context, engagementID string) ([]domain.Message, error) {
	s.mu.RLock()
	out := append([]domain.Message(nil), s.messages[engagementID]...)
	s.mu.RUnlock()
	domain.SortMessages(out)
	return out, nil
}

func (s *Store) InsertReview(ctx context.Context, r domain.Review) (domain.RatingSummary, error) {
	if err := ctx.Err(); err != nil {
		return domain.RatingSummary{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[r.ProviderID]; !ok {
		return domain.RatingSummary{}, domain.ErrNotFound
	}
	k := reviewKey{r.ProviderID, r.ClientID}
	if _, dup := s.reviewPairs[k]; dup {
		return domain.RatingSummary{}, domain.ErrDuplicateReview
	}
	s.reviewPairs[k] = struct{}{}
	s.reviews[r.ProviderID] = append(s.reviews[r.ProviderID], r)
	return s.recomputeLocked(r.ProviderID), nil
}

// recomputeLocked requires the provider's account to exist.
func (s *Store) recomputeLocked(providerID string) domain.RatingSummary {
	sum := domain.Summarize(providerID, s.reviews[providerID])
	a := s.accounts[providerID]
	a.AvgRating = sum.AvgRating
	a.ReviewCount = sum.ReviewCount
	s.accounts[providerID] = a
	return sum
}

func (s *Store) HasReview(_ context.Context, providerID, clientID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.reviewPairs[reviewKey{providerID, clientID}]
	return ok, nil
}

// ListReviews returns newest first.
func (s *Store) ListReviews(_ context.Context, providerID string, limit int) ([]domain.Review, error) {
	s.mu.RLock()
	rs := append([]domain.Review(nil), s.reviews[providerID]...)
	s.mu.RUnlock()
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID > rs[j].ID
	})
	if limit > 0 && len(rs) > limit {
		rs = rs[:limit]
	}
	return rs, nil
}

func (s *Store) RecomputeRating(_ context.Context, providerID string) (domain.RatingSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[providerID]; !ok {
		return domain.RatingSummary{}, domain.ErrNotFound
	}
	return s.recomputeLocked(providerID), nil
}

func (s *Store) ListRatedProviders(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.reviews))
	for id := range s.reviews {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
