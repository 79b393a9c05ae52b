package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/query-management/internal/approval"
	"github.com/spec-kit/query-management/internal/domain"
	"github.com/spec-kit/query-management/internal/events"
	"github.com/spec-kit/query-management/internal/matcher"
	"github.com/spec-kit/query-management/internal/observability"
	"github.com/spec-kit/query-management/internal/repository"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

type fixture struct {
	engine  *Engine
	tickets *repository.MemoryTicketRepository
	users   *repository.MemoryUserRepository
	refs    *repository.MemoryReferenceRepository
	events  *eventRecorder

	requestor *domain.User
	manager   *domain.User
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Subscribe(events.EventType, events.EventHandler) {}

func (r *eventRecorder) byType(eventType events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []events.Event
	for _, event := range r.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tickets := repository.NewMemoryTicketRepository()
	users := repository.NewMemoryUserRepository()
	refs := repository.NewMemoryReferenceRepository()
	recorder := &eventRecorder{}

	manager := &domain.User{
		Name:   "Morgan Lee",
		Email:  "morgan@example.com",
		Role:   domain.RoleManager,
		Team:   domain.TeamGeneral,
		Status: domain.UserStatusActive,
	}
	require.NoError(t, users.Create(context.Background(), manager))

	requestor := &domain.User{
		Name:      "Riley Chen",
		Email:     "riley@example.com",
		Role:      domain.RoleEmployee,
		Team:      domain.TeamGeneral,
		ManagerID: &manager.ID,
		Status:    domain.UserStatusActive,
	}
	require.NoError(t, users.Create(context.Background(), requestor))

	eng := New(Dependencies{
		TicketRepo: tickets,
		UserRepo:   users,
		Matcher:    matcher.New(refs),
		Locker:     NewMemoryLocker(),
		Dispatcher: recorder,
		Logger:     zap.NewNop(),
		Metrics:    observability.NewMetrics(),
	})

	return &fixture{
		engine:    eng,
		tickets:   tickets,
		users:     users,
		refs:      refs,
		events:    recorder,
		requestor: requestor,
		manager:   manager,
	}
}

func (f *fixture) createTicket(t *testing.T, subject, description string) *domain.Ticket {
	t.Helper()
	ticket, err := f.engine.CreateTicket(context.Background(), f.requestor, CreateInput{
		Subject:     subject,
		Description: description,
	})
	require.NoError(t, err)
	return ticket
}

func paidInvoice(identifier string) domain.ReferenceRecord {
	return domain.ReferenceRecord{
		Kind:          domain.ReferenceKindInvoice,
		Identifier:    identifier,
		VendorName:    "Acme Supplies",
		Amount:        1250.50,
		Currency:      "EUR",
		PaymentStatus: domain.PaymentStatusPaid,
		UpdatedAt:     time.Now(),
	}
}

func TestCreateTicket(t *testing.T) {
	f := newFixture(t)

	ticket := f.createTicket(t, "Status of INV-1001", "Has this invoice been paid?")

	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, f.requestor.ID, ticket.RequestorID)
	assert.Equal(t, f.manager.ID, ticket.ManagerID)
	assert.Regexp(t, `^QRY-[0-9A-F]{8}$`, ticket.ExternalKey)
	require.Len(t, ticket.History, 1)
	assert.Equal(t, "ticket created", ticket.History[0].Note)
	assert.Len(t, f.events.byType(events.EventTicketCreated), 1)
}

func TestCreateTicketFallsBackToTeamManager(t *testing.T) {
	f := newFixture(t)

	orphan := &domain.User{
		Name:   "No Manager",
		Email:  "orphan@example.com",
		Role:   domain.RoleEmployee,
		Team:   domain.TeamGeneral,
		Status: domain.UserStatusActive,
	}
	require.NoError(t, f.users.Create(context.Background(), orphan))

	ticket, err := f.engine.CreateTicket(context.Background(), orphan, CreateInput{Subject: "hello"})
	require.NoError(t, err)
	assert.Equal(t, f.manager.ID, ticket.ManagerID)
}

func TestCreateTicketRequiresSubject(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateTicket(context.Background(), f.requestor, CreateInput{Subject: "   "})
	assert.True(t, apperrors.IsCode(err, "VALIDATION_FAILED"))
}

func TestProcessTicketAutoResolvesPaidInvoice(t *testing.T) {
	f := newFixture(t)
	f.refs.Put(paidInvoice("INV-1001"))
	ticket := f.createTicket(t, "Status of INV-1001", "Has this been settled?")

	processed, err := f.engine.ProcessTicket(context.Background(), ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusClosed, processed.Status)
	require.NotNil(t, processed.Resolution)
	assert.True(t, processed.Resolution.AutoSolved)
	assert.Nil(t, processed.ProposedResolution)
	assert.NotNil(t, processed.ClosedAt)

	// Auto-close runs Open -> Resolved -> Closed: the creation entry plus
	// exactly one entry per transition.
	require.Len(t, processed.History, 3)
	assert.Equal(t, domain.TicketStatusOpen, processed.History[1].OldStatus)
	assert.Equal(t, domain.TicketStatusResolved, processed.History[1].NewStatus)
	assert.Equal(t, domain.TicketStatusResolved, processed.History[2].OldStatus)
	assert.Equal(t, domain.TicketStatusClosed, processed.History[2].NewStatus)

	resolved := f.events.byType(events.EventTicketResolved)
	require.Len(t, resolved, 1)
	payload := resolved[0].Payload.(events.TicketResolvedPayload)
	assert.True(t, payload.Informational)
}

func TestProcessTicketUnpaidInvoiceStaysOpen(t *testing.T) {
	f := newFixture(t)
	record := paidInvoice("INV-2002")
	record.PaymentStatus = domain.PaymentStatusUnpaid
	f.refs.Put(record)
	ticket := f.createTicket(t, "Status of INV-2002", "")

	processed, err := f.engine.ProcessTicket(context.Background(), ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusOpen, processed.Status)
	assert.Nil(t, processed.Resolution)
	require.Len(t, processed.History, 2)
	assert.Contains(t, processed.History[1].Note, "no match")
	assert.Contains(t, processed.History[1].Note, "not settled")
	assert.Empty(t, f.events.byType(events.EventTicketResolved))
}

func TestProcessTicketAmbiguousRequiresApproval(t *testing.T) {
	f := newFixture(t)
	older := paidInvoice("INV-3003")
	older.UpdatedAt = time.Now().Add(-48 * time.Hour)
	f.refs.Put(older)
	f.refs.Put(paidInvoice("INV-3003"))
	ticket := f.createTicket(t, "Status of INV-3003", "")

	processed, err := f.engine.ProcessTicket(context.Background(), ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusPendingApproval, processed.Status)
	assert.Nil(t, processed.Resolution)
	require.NotNil(t, processed.ProposedResolution)
	assert.True(t, processed.ProposedResolution.Ambiguous)

	requested := f.events.byType(events.EventApprovalRequested)
	require.Len(t, requested, 1)
	payload := requested[0].Payload.(events.ApprovalRequestedPayload)
	assert.Equal(t, f.manager.ID, payload.ManagerID)
	assert.True(t, payload.Ambiguous)
}

func TestProcessTicketRiskyRequestRequiresApproval(t *testing.T) {
	f := newFixture(t)
	f.refs.Put(paidInvoice("INV-4004"))
	ticket := f.createTicket(t, "Refund request for INV-4004", "Please issue a refund.")

	processed, err := f.engine.ProcessTicket(context.Background(), ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusPendingApproval, processed.Status)
	require.NotNil(t, processed.ProposedResolution)
	assert.Equal(t, domain.ConcernRisk, processed.ProposedResolution.Concern)
}

func TestProcessTicketReassignsBilling(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "Reversal needed for INV-5005", "Wrong exchange rate applied.")

	processed, err := f.engine.ProcessTicket(context.Background(), ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusOpen, processed.Status)
	assert.Equal(t, domain.TeamAccountsPayable, processed.AssignedTeam)
	require.Len(t, processed.History, 2)
	assert.Contains(t, processed.History[1].Note, "reassigned to AP")
	assert.Len(t, f.events.byType(events.EventTicketReassigned), 1)
}

func TestProcessTicketMatcherFailureLeavesOpen(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "Status of INV-6006", "")

	failing := &stubMatcher{err: errors.New("reference store timeout")}
	f.engine.matcher = failing

	processed, err := f.engine.ProcessTicket(context.Background(), ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusOpen, processed.Status)
	require.Len(t, processed.History, 2)
	assert.Contains(t, processed.History[1].Note, "matcher error")
}

func TestProcessTicketSkipsNonOpen(t *testing.T) {
	f := newFixture(t)
	f.refs.Put(paidInvoice("INV-7007"))
	ticket := f.createTicket(t, "Status of INV-7007", "")

	_, err := f.engine.ProcessTicket(context.Background(), ticket.ID)
	require.NoError(t, err)

	// Second pass sees a closed ticket and records nothing.
	again, err := f.engine.ProcessTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, again.History, 3)
	assert.Len(t, f.events.byType(events.EventTicketResolved), 1)
}

func pendingTicket(t *testing.T, f *fixture) *domain.Ticket {
	t.Helper()
	f.refs.Put(paidInvoice("INV-8008"))
	ticket := f.createTicket(t, "Refund request for INV-8008", "Please refund this invoice.")
	processed, err := f.engine.ProcessTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusPendingApproval, processed.Status)
	return processed
}

func TestApplyApprovalApprove(t *testing.T) {
	f := newFixture(t)
	ticket := pendingTicket(t, f)

	updated, result, err := f.engine.ApplyApproval(context.Background(), &approval.Grant{
		TicketID: ticket.ID,
		Action:   approval.ActionApprove,
	})
	require.NoError(t, err)

	assert.Equal(t, ApprovalApplied, result)
	assert.Equal(t, domain.TicketStatusClosed, updated.Status)
	require.NotNil(t, updated.Resolution)
	assert.Equal(t, domain.ConcernRisk, updated.Resolution.Concern)
	assert.Nil(t, updated.ProposedResolution)
}

func TestApplyApprovalReject(t *testing.T) {
	f := newFixture(t)
	ticket := pendingTicket(t, f)

	updated, result, err := f.engine.ApplyApproval(context.Background(), &approval.Grant{
		TicketID: ticket.ID,
		Action:   approval.ActionReject,
	})
	require.NoError(t, err)

	assert.Equal(t, ApprovalApplied, result)
	assert.Equal(t, domain.TicketStatusRejected, updated.Status)
	assert.Nil(t, updated.Resolution)
	assert.Nil(t, updated.ProposedResolution)
	assert.Len(t, f.events.byType(events.EventTicketRejected), 1)
}

func TestApplyApprovalReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ticket := pendingTicket(t, f)
	grant := &approval.Grant{TicketID: ticket.ID, Action: approval.ActionApprove}

	first, result, err := f.engine.ApplyApproval(context.Background(), grant)
	require.NoError(t, err)
	require.Equal(t, ApprovalApplied, result)

	second, result, err := f.engine.ApplyApproval(context.Background(), grant)
	require.NoError(t, err)

	assert.Equal(t, ApprovalAlreadyProcessed, result)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, len(first.History), len(second.History))
	// Replay publishes nothing: still exactly one resolved event.
	assert.Len(t, f.events.byType(events.EventTicketResolved), 1)
}

func TestApplyApprovalUnknownTicket(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.engine.ApplyApproval(context.Background(), &approval.Grant{
		TicketID: "no-such-ticket",
		Action:   approval.ActionApprove,
	})
	assert.True(t, apperrors.IsCode(err, "TOKEN_UNKNOWN_TICKET"))
}

func TestCloseTicketFromTerminalStateFails(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "General question", "")

	_, err := f.engine.CloseTicket(context.Background(), ticket.ID, domain.UserActor(f.requestor.ID), "done")
	require.NoError(t, err)

	_, err = f.engine.CloseTicket(context.Background(), ticket.ID, domain.UserActor(f.requestor.ID), "again")
	assert.True(t, apperrors.IsCode(err, "INVALID_TRANSITION"))
}

func TestConcurrentProcessingSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.refs.Put(paidInvoice("INV-9009"))
	ticket := f.createTicket(t, "Status of INV-9009", "")

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.engine.ProcessTicket(context.Background(), ticket.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, final.Status)
	// One worker wins; the rest observe the closed ticket and do nothing.
	assert.Len(t, final.History, 3)
	assert.Len(t, f.events.byType(events.EventTicketResolved), 1)
}

func TestVersionConflictRetries(t *testing.T) {
	f := newFixture(t)
	f.refs.Put(paidInvoice("INV-1100"))
	ticket := f.createTicket(t, "Status of INV-1100", "")

	// Bump the stored version behind the engine's back once, before the save.
	conflicting := &conflictOnceRepo{MemoryTicketRepository: f.tickets}
	f.engine.tickets = conflicting

	processed, err := f.engine.ProcessTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, processed.Status)
	assert.True(t, conflicting.conflicted)
}

func TestSweepExpiredPending(t *testing.T) {
	f := newFixture(t)
	ticket := pendingTicket(t, f)

	// Zero max age makes every pending ticket stale.
	swept, err := f.engine.SweepExpiredPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	final, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusRejected, final.Status)
	assert.Nil(t, final.ProposedResolution)
	last := final.History[len(final.History)-1]
	assert.Equal(t, "approval window elapsed", last.Note)
	assert.Equal(t, domain.ActorTypeSystem, last.Actor.Type)
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to domain.TicketStatus
		allowed  bool
	}{
		{domain.TicketStatusOpen, domain.TicketStatusPendingApproval, true},
		{domain.TicketStatusOpen, domain.TicketStatusResolved, true},
		{domain.TicketStatusOpen, domain.TicketStatusClosed, true},
		{domain.TicketStatusOpen, domain.TicketStatusRejected, false},
		{domain.TicketStatusPendingApproval, domain.TicketStatusResolved, true},
		{domain.TicketStatusPendingApproval, domain.TicketStatusRejected, true},
		{domain.TicketStatusPendingApproval, domain.TicketStatusClosed, false},
		{domain.TicketStatusResolved, domain.TicketStatusClosed, true},
		{domain.TicketStatusResolved, domain.TicketStatusOpen, false},
		{domain.TicketStatusClosed, domain.TicketStatusOpen, false},
		{domain.TicketStatusRejected, domain.TicketStatusOpen, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, isValidTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

type stubMatcher struct {
	outcome matcher.Outcome
	err     error
}

func (s *stubMatcher) Match(context.Context, *domain.Ticket) (matcher.Outcome, error) {
	return s.outcome, s.err
}

// conflictOnceRepo fails the first Save with a version conflict, simulating a
// concurrent writer.
type conflictOnceRepo struct {
	*repository.MemoryTicketRepository
	conflicted bool
}

func (r *conflictOnceRepo) Save(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error {
	if !r.conflicted {
		r.conflicted = true
		return apperrors.NewConflict("ticket version mismatch", nil)
	}
	return r.MemoryTicketRepository.Save(ctx, ticket, expectedVersion)
}
