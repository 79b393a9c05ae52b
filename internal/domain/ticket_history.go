package domain

import "time"

// ActorType captures who triggered a ticket transition.
type ActorType string

const (
	ActorTypeUser   ActorType = "USER"
	ActorTypeAgent  ActorType = "AGENT"
	ActorTypeSystem ActorType = "SYSTEM"
)

// Actor identifies the originator of a transition. AgentActor and SystemActor
// carry no user id.
type Actor struct {
	Type   ActorType
	UserID *string
}

// UserActor builds an actor for an authenticated user.
func UserActor(userID string) Actor {
	return Actor{Type: ActorTypeUser, UserID: &userID}
}

// AgentActor is the automated resolution agent.
func AgentActor() Actor {
	return Actor{Type: ActorTypeAgent}
}

// SystemActor is used for sweeps and other internal maintenance transitions.
func SystemActor() Actor {
	return Actor{Type: ActorTypeSystem}
}

// HistoryEntry is an immutable audit trail record. Entries are appended by the
// lifecycle engine, exactly one per transition, and never mutated.
type HistoryEntry struct {
	ID        string
	TicketID  string
	Actor     Actor
	OldStatus TicketStatus
	NewStatus TicketStatus
	Note      string
	CreatedAt time.Time
}
