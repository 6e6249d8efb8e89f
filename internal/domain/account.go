package domain

// Account is owned by the profile store; AvgRating and ReviewCount are only
// written by the rating aggregator.
type Account struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	AvatarURL   string  `json:"avatarUrl,omitempty"`
	IsProvider  bool    `json:"isProvider"`
	AvgRating   float64 `json:"avgRating"`
	ReviewCount int     `json:"reviewCount"`
}

type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	IsProvider  bool   `json:"isProvider"`
}

func (a Account) Profile() Profile {
	return Profile{ID: a.ID, DisplayName: a.DisplayName, AvatarURL: a.AvatarURL, IsProvider: a.IsProvider}
}

// Identity is the already-verified caller supplied by the identity service.
type Identity struct {
	SubjectID  string
	IsProvider bool
}
