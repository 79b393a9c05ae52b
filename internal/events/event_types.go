package events

import (
	"time"

	"github.com/spec-kit/query-management/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated     EventType = "ticket_created"
	EventTicketResolved    EventType = "ticket_resolved"
	EventTicketRejected    EventType = "ticket_rejected"
	EventTicketReassigned  EventType = "ticket_reassigned"
	EventApprovalRequested EventType = "approval_requested"
	EventStatusChanged     EventType = "ticket_status_changed"
)

// Event represents a domain event emitted by the lifecycle engine after a
// transition has been committed.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	TicketID  string       `json:"ticket_id"`
	Actor     domain.Actor `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   interface{}  `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	RequestorID  string                `json:"requestor_id"`
	ManagerID    string                `json:"manager_id"`
	AssignedTeam domain.Team           `json:"assigned_team"`
	Priority     domain.TicketPriority `json:"priority"`
	Subject      string                `json:"subject"`
}

// TicketResolvedPayload payload. Informational means the ticket closed
// automatically; the manager is told, not asked.
type TicketResolvedPayload struct {
	RequestorID   string `json:"requestor_id"`
	ManagerID     string `json:"manager_id"`
	Summary       string `json:"summary"`
	AutoSolved    bool   `json:"auto_solved"`
	Informational bool   `json:"informational"`
}

// TicketRejectedPayload payload.
type TicketRejectedPayload struct {
	RequestorID string `json:"requestor_id"`
	ManagerID   string `json:"manager_id"`
	Note        string `json:"note"`
}

// TicketReassignedPayload payload.
type TicketReassignedPayload struct {
	RequestorID string      `json:"requestor_id"`
	FromTeam    domain.Team `json:"from_team"`
	ToTeam      domain.Team `json:"to_team"`
	Reason      string      `json:"reason"`
}

// ApprovalRequestedPayload payload. The notification layer mints the tokens
// and builds the approve/reject links from this.
type ApprovalRequestedPayload struct {
	RequestorID string      `json:"requestor_id"`
	ManagerID   string      `json:"manager_id"`
	Team        domain.Team `json:"team"`
	Summary     string      `json:"summary"`
	Ambiguous   bool        `json:"ambiguous"`
}

// StatusChangedPayload payload.
type StatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Note      string              `json:"note,omitempty"`
}
