package domain

import "time"

const (
	MinRating = 1
	MaxRating = 5
)

type Review struct {
	ID           string    `json:"id"`
	EngagementID string    `json:"engagementId"`
	ProviderID   string    `json:"providerId"`
	ClientID     string    `json:"clientId"`
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RatingSummary is the aggregate projection written back to the provider account.
type RatingSummary struct {
	ProviderID  string  `json:"providerId"`
	AvgRating   float64 `json:"avgRating"`
	ReviewCount int     `json:"reviewCount"`
}

// Summarize recomputes the aggregate from the full review set.
func Summarize(providerID string, rs []Review) RatingSummary {
	out := RatingSummary{ProviderID: providerID}
	if len(rs) == 0 {
		return out
	}
	sum := 0
	for _, r := range rs {
		sum += r.Rating
	}
	out.ReviewCount = len(rs)
	out.AvgRating = float64(sum) / float64(len(rs))
	return out
}
