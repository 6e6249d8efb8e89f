package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"handyhub/internal/domain"
)

// ProfileResolver turns sender ids into display data for pushed messages. It
// never fails: an unresolvable sender becomes a placeholder.
type ProfileResolver struct {
	profiles domain.ProfileStore
	cache    domain.Cache
	ttl      time.Duration
	log      zerolog.Logger
}

func NewProfileResolver(p domain.ProfileStore, c domain.Cache, ttl time.Duration, l zerolog.Logger) *ProfileResolver {
	return &ProfileResolver{profiles: p, cache: c, ttl: ttl, log: l}
}

func (r *ProfileResolver) Sender(ctx context.Context, id string) domain.SenderProfile {
	if r == nil || r.profiles == nil || id == "" {
		return domain.UnknownProfile(id)
	}
	key := profileKey(id)
	var sp domain.SenderProfile
	if r.cache != nil {
		if ok, _ := r.cache.Get(ctx, key, &sp); ok {
			return sp
		}
	}
	p, err := r.profiles.GetProfile(ctx, id)
	if err != nil {
		r.log.Debug().Err(err).Str("sender_id", id).Msg("sender profile unavailable")
		return domain.UnknownProfile(id)
	}
	sp = domain.SenderProfile{ID: p.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL, Known: true}
	if sp.DisplayName == "" {
		sp.DisplayName = domain.UnknownSender
	}
	if r.cache != nil && r.ttl > 0 {
		_ = r.cache.Set(ctx, key, sp, int(r.ttl.Seconds()))
	}
	return sp
}
