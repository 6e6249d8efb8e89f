package domain

import (
	"sort"
	"time"
)

type Message struct {
	ID           string    `json:"id"`
	EngagementID string    `json:"engagementId"`
	SenderID     string    `json:"senderId"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Before orders messages by createdAt, ties broken by id.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

func SortMessages(ms []Message) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Before(ms[j]) })
}

// SenderProfile is the display data pushed alongside each message.
type SenderProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Known       bool   `json:"known"`
}

const UnknownSender = "Unknown sender"

func UnknownProfile(id string) SenderProfile {
	return SenderProfile{ID: id, DisplayName: UnknownSender}
}

// MessageInsertedEvent is what the fan-out channel delivers.
type MessageInsertedEvent struct {
	Message Message       `json:"message"`
	Sender  SenderProfile `json:"sender"`
}
