package domain

import "time"

type Status string

const (
	StatusRequested Status = "requested"
	StatusResponded Status = "responded"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Open lists the states a transition may leave.
var Open = []Status{StatusRequested, StatusResponded}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusResponded, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is an edge of the lifecycle graph.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusRequested:
		return to == StatusResponded || to == StatusCompleted || to == StatusCancelled
	case StatusResponded:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

type Engagement struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"clientId"`
	ProviderID  string    `json:"providerId"`
	DetailsText string    `json:"detailsText"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Role is the capability an actor holds on one engagement.
type Role int

const (
	RoleNone Role = iota
	RoleClient
	RoleProvider
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleProvider:
		return "provider"
	}
	return "none"
}

func (e Engagement) RoleOf(actorID string) Role {
	switch {
	case actorID == "":
		return RoleNone
	case actorID == e.ProviderID:
		return RoleProvider
	case actorID == e.ClientID:
		return RoleClient
	}
	return RoleNone
}

// Authorize is the single gate each operation passes through: the actor must
// hold one of the allowed roles on e.
func (e Engagement) Authorize(actorID string, allowed ...Role) error {
	role := e.RoleOf(actorID)
	if role != RoleNone {
		for _, a := range allowed {
			if a == role {
				return nil
			}
		}
	}
	return Denied("actor %q may not perform this action on engagement %s", actorID, e.ID)
}

func (e Engagement) IsParticipant(actorID string) bool { return e.RoleOf(actorID) != RoleNone }
