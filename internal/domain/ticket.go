package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen            TicketStatus = "OPEN"
	TicketStatusPendingApproval TicketStatus = "PENDING_APPROVAL"
	TicketStatusResolved        TicketStatus = "RESOLVED"
	TicketStatusRejected        TicketStatus = "REJECTED"
	TicketStatusClosed          TicketStatus = "CLOSED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusClosed || s == TicketStatusRejected
}

// Valid reports whether s is a known lifecycle state.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusPendingApproval, TicketStatusResolved,
		TicketStatusRejected, TicketStatusClosed:
		return true
	}
	return false
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

// Team identifies the specialist group a ticket is assigned to.
type Team string

const (
	TeamAccountsPayable    Team = "AP"
	TeamAccountsReceivable Team = "AR"
	TeamGeneral            Team = "GENERAL"
)

// Ticket is the aggregate for invoice/PO queries. History entries are part of
// the aggregate and are only ever appended. Version increases by one on every
// successful save and backs the optimistic concurrency check in the store.
type Ticket struct {
	ID               string
	ExternalKey      string
	RequestorID      string
	ManagerID        string
	AssignedTeam     Team
	AssigneeID       *string
	SubjectReference *string
	Subject          string
	Description      string
	Status           TicketStatus
	Priority         TicketPriority
	// Resolution is set if and only if the ticket is Resolved or Closed.
	// ProposedResolution holds the matcher's candidate while the ticket waits
	// for manager approval and is promoted or discarded on the decision.
	Resolution         *Resolution
	ProposedResolution *Resolution
	History            []HistoryEntry
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ClosedAt           *time.Time
}

// HasResolution reports whether a resolution is attached.
func (t *Ticket) HasResolution() bool {
	return t.Resolution != nil
}
