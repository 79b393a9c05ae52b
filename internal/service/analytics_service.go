package service

import (
	"context"

	"github.com/spec-kit/query-management/internal/domain"
	"github.com/spec-kit/query-management/internal/repository"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

// TeamMetrics is the KPI summary for one team.
type TeamMetrics struct {
	Team            domain.Team `json:"team"`
	Total           int         `json:"total"`
	Open            int         `json:"open"`
	PendingApproval int         `json:"pending_approval"`
	Resolved        int         `json:"resolved"`
	Closed          int         `json:"closed"`
	Rejected        int         `json:"rejected"`
	AutoSolved      int         `json:"auto_solved"`
}

// AnalyticsService computes ticket KPIs for managers and admins.
type AnalyticsService struct {
	tickets repository.TicketRepository
}

// NewAnalyticsService constructs the service.
func NewAnalyticsService(tickets repository.TicketRepository) *AnalyticsService {
	return &AnalyticsService{tickets: tickets}
}

// TeamReport computes metrics for the given team. Managers are restricted to
// their own team; admins may ask for any.
func (s *AnalyticsService) TeamReport(ctx context.Context, caller *domain.User, team domain.Team) (*TeamMetrics, error) {
	if !caller.Role.CanViewTeam() {
		return nil, apperrors.NewForbidden("manager role required")
	}
	if caller.Role == domain.RoleManager && team != caller.Team {
		return nil, apperrors.NewForbidden("managers may only view their own team")
	}

	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		AssignedTeam: &team,
		Limit:        10000,
	})
	if err != nil {
		return nil, err
	}

	metrics := &TeamMetrics{Team: team}
	for i := range tickets {
		ticket := &tickets[i]
		metrics.Total++
		switch ticket.Status {
		case domain.TicketStatusOpen:
			metrics.Open++
		case domain.TicketStatusPendingApproval:
			metrics.PendingApproval++
		case domain.TicketStatusResolved:
			metrics.Resolved++
		case domain.TicketStatusClosed:
			metrics.Closed++
		case domain.TicketStatusRejected:
			metrics.Rejected++
		}
		if ticket.Resolution != nil && ticket.Resolution.AutoSolved {
			metrics.AutoSolved++
		}
	}
	return metrics, nil
}
