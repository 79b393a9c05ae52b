package service

import (
	"context"
	"time"

	"github.com/spec-kit/query-management/internal/domain"
	"github.com/spec-kit/query-management/internal/engine"
	"github.com/spec-kit/query-management/internal/repository"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

// TicketService is the interactive path: role-gated reads plus transitions
// delegated to the lifecycle engine. The visibility rules here are read
// preconditions, not state-machine concerns.
type TicketService struct {
	tickets repository.TicketRepository
	refs    repository.ReferenceRepository
	engine  *engine.Engine
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo    repository.TicketRepository
	ReferenceRepo repository.ReferenceRepository
	Engine        *engine.Engine
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets: deps.TicketRepo,
		refs:    deps.ReferenceRepo,
		engine:  deps.Engine,
	}
}

// TicketListFilter describes listing parameters from the API.
type TicketListFilter struct {
	Statuses    []domain.TicketStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// CreateTicket opens a ticket for the caller.
func (s *TicketService) CreateTicket(ctx context.Context, caller *domain.User, input engine.CreateInput) (*domain.Ticket, error) {
	return s.engine.CreateTicket(ctx, caller, input)
}

// ListTickets returns tickets visible to the caller: employees see their own,
// managers their team, admins everything.
func (s *TicketService) ListTickets(ctx context.Context, caller *domain.User, filter TicketListFilter) ([]domain.Ticket, error) {
	repoFilter := repository.TicketFilter{
		Statuses:    filter.Statuses,
		CreatedFrom: filter.CreatedFrom,
		CreatedTo:   filter.CreatedTo,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}
	switch caller.Role {
	case domain.RoleAdmin:
	case domain.RoleManager:
		team := caller.Team
		repoFilter.AssignedTeam = &team
	default:
		requestor := caller.ID
		repoFilter.RequestorID = &requestor
	}
	return s.tickets.ListWithFilter(ctx, repoFilter)
}

// GetTicket fetches a ticket ensuring the caller may see it.
func (s *TicketService) GetTicket(ctx context.Context, caller *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !s.canView(caller, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return ticket, nil
}

// CloseTicket closes the caller's own ticket.
func (s *TicketService) CloseTicket(ctx context.Context, caller *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if caller.Role != domain.RoleAdmin && ticket.RequestorID != caller.ID {
		return nil, apperrors.NewForbidden("access denied")
	}
	return s.engine.CloseTicket(ctx, ticketID, domain.UserActor(caller.ID), "closed by requestor")
}

// SearchReferences exposes invoice/PO lookups to authenticated callers.
func (s *TicketService) SearchReferences(ctx context.Context, filter domain.ReferenceFilter) ([]domain.ReferenceRecord, error) {
	return s.refs.Search(ctx, filter)
}

func (s *TicketService) canView(caller *domain.User, ticket *domain.Ticket) bool {
	switch caller.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleManager:
		return ticket.AssignedTeam == caller.Team || ticket.ManagerID == caller.ID
	default:
		return ticket.RequestorID == caller.ID
	}
}
