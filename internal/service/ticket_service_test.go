package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/query-management/internal/domain"
	"github.com/spec-kit/query-management/internal/engine"
	"github.com/spec-kit/query-management/internal/matcher"
	"github.com/spec-kit/query-management/internal/observability"
	"github.com/spec-kit/query-management/internal/repository"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

type serviceFixture struct {
	tickets   *TicketService
	analytics *AnalyticsService
	users     *repository.MemoryUserRepository

	employee  *domain.User
	colleague *domain.User
	manager   *domain.User
	admin     *domain.User
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	ticketRepo := repository.NewMemoryTicketRepository()
	users := repository.NewMemoryUserRepository()
	refs := repository.NewMemoryReferenceRepository()

	manager := &domain.User{
		Name: "Manager", Email: "mgr@example.com",
		Role: domain.RoleManager, Team: domain.TeamGeneral,
		Status: domain.UserStatusActive,
	}
	require.NoError(t, users.Create(context.Background(), manager))

	employee := &domain.User{
		Name: "Employee", Email: "emp@example.com",
		Role: domain.RoleEmployee, Team: domain.TeamGeneral,
		ManagerID: &manager.ID, Status: domain.UserStatusActive,
	}
	require.NoError(t, users.Create(context.Background(), employee))

	colleague := &domain.User{
		Name: "Colleague", Email: "col@example.com",
		Role: domain.RoleEmployee, Team: domain.TeamGeneral,
		ManagerID: &manager.ID, Status: domain.UserStatusActive,
	}
	require.NoError(t, users.Create(context.Background(), colleague))

	admin := &domain.User{
		Name: "Admin", Email: "adm@example.com",
		Role: domain.RoleAdmin, Team: domain.TeamGeneral,
		Status: domain.UserStatusActive,
	}
	require.NoError(t, users.Create(context.Background(), admin))

	eng := engine.New(engine.Dependencies{
		TicketRepo: ticketRepo,
		UserRepo:   users,
		Matcher:    matcher.New(refs),
		Locker:     engine.NewMemoryLocker(),
		Logger:     zap.NewNop(),
		Metrics:    observability.NewMetrics(),
	})

	return &serviceFixture{
		tickets: NewTicketService(TicketDependencies{
			TicketRepo:    ticketRepo,
			ReferenceRepo: refs,
			Engine:        eng,
		}),
		analytics: NewAnalyticsService(ticketRepo),
		users:     users,
		employee:  employee,
		colleague: colleague,
		manager:   manager,
		admin:     admin,
	}
}

func (f *serviceFixture) create(t *testing.T, caller *domain.User, subject string) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.CreateTicket(context.Background(), caller, engine.CreateInput{Subject: subject})
	require.NoError(t, err)
	return ticket
}

func TestListTicketsScopedByRole(t *testing.T) {
	f := newServiceFixture(t)

	mine := f.create(t, f.employee, "my question")
	f.create(t, f.colleague, "their question")

	// Employees see only their own tickets.
	visible, err := f.tickets.ListTickets(context.Background(), f.employee, TicketListFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, mine.ID, visible[0].ID)

	// Managers see the whole team.
	visible, err = f.tickets.ListTickets(context.Background(), f.manager, TicketListFilter{})
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	// Admins see everything.
	visible, err = f.tickets.ListTickets(context.Background(), f.admin, TicketListFilter{})
	require.NoError(t, err)
	assert.Len(t, visible, 2)
}

func TestGetTicketDeniedForOtherEmployee(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.create(t, f.colleague, "their question")

	_, err := f.tickets.GetTicket(context.Background(), f.employee, ticket.ID)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))

	got, err := f.tickets.GetTicket(context.Background(), f.manager, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)
}

func TestGetTicketUnknownID(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.tickets.GetTicket(context.Background(), f.admin, "missing")
	assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))
}

func TestCloseTicketOnlyRequestorOrAdmin(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.create(t, f.employee, "close me")

	_, err := f.tickets.CloseTicket(context.Background(), f.colleague, ticket.ID)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))

	closed, err := f.tickets.CloseTicket(context.Background(), f.employee, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
}

func TestTeamReportCountsByStatus(t *testing.T) {
	f := newServiceFixture(t)

	f.create(t, f.employee, "one")
	ticket := f.create(t, f.colleague, "two")
	_, err := f.tickets.CloseTicket(context.Background(), f.colleague, ticket.ID)
	require.NoError(t, err)

	report, err := f.analytics.TeamReport(context.Background(), f.manager, domain.TeamGeneral)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Open)
	assert.Equal(t, 1, report.Closed)
	assert.Equal(t, 0, report.AutoSolved)
}

func TestTeamReportAccessControl(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.analytics.TeamReport(context.Background(), f.employee, domain.TeamGeneral)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))

	// Managers cannot read another team's numbers.
	_, err = f.analytics.TeamReport(context.Background(), f.manager, domain.TeamAccountsPayable)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))

	_, err = f.analytics.TeamReport(context.Background(), f.admin, domain.TeamAccountsPayable)
	assert.NoError(t, err)
}
