package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/query-management/internal/approval"
	"github.com/spec-kit/query-management/internal/domain"
	"github.com/spec-kit/query-management/internal/events"
	"github.com/spec-kit/query-management/internal/matcher"
	"github.com/spec-kit/query-management/internal/observability"
	"github.com/spec-kit/query-management/internal/repository"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

// ResolutionMatcher is the matching contract the engine depends on.
type ResolutionMatcher interface {
	Match(ctx context.Context, ticket *domain.Ticket) (matcher.Outcome, error)
}

// ApprovalResult tells the approval boundary what happened so it can render a
// definitive page.
type ApprovalResult string

const (
	ApprovalApplied          ApprovalResult = "APPLIED"
	ApprovalAlreadyProcessed ApprovalResult = "ALREADY_PROCESSED"
)

// maxConflictRetries bounds the reload-and-reapply loop on version conflicts.
const maxConflictRetries = 3

// Engine owns every valid ticket transition. All mutations run under a
// per-ticket lock plus the store's optimistic version check; notification
// events are published only after the new state is committed and the lock is
// released.
type Engine struct {
	tickets repository.TicketRepository
	users   repository.UserRepository
	matcher ResolutionMatcher
	locker  Locker
	events  events.Dispatcher
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Dependencies bundles collaborators for the engine.
type Dependencies struct {
	TicketRepo repository.TicketRepository
	UserRepo   repository.UserRepository
	Matcher    ResolutionMatcher
	Locker     Locker
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// New constructs the engine.
func New(deps Dependencies) *Engine {
	return &Engine{
		tickets: deps.TicketRepo,
		users:   deps.UserRepo,
		matcher: deps.Matcher,
		locker:  deps.Locker,
		events:  deps.Dispatcher,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
}

// CreateInput describes ticket creation payload.
type CreateInput struct {
	Subject          string
	Description      string
	SubjectReference *string
	Priority         domain.TicketPriority
	Team             domain.Team
}

// CreateTicket opens a ticket for the requestor. The responsible manager is
// derived from the requestor's org record, falling back to the team manager.
func (e *Engine) CreateTicket(ctx context.Context, requestor *domain.User, input CreateInput) (*domain.Ticket, error) {
	if strings.TrimSpace(input.Subject) == "" {
		return nil, apperrors.NewValidationError("subject required", nil)
	}

	managerID, err := e.resolveManager(ctx, requestor, input.Team)
	if err != nil {
		return nil, err
	}

	team := input.Team
	if team == "" {
		team = requestor.Team
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}

	ticket := &domain.Ticket{
		ExternalKey:      generateTicketKey(),
		RequestorID:      requestor.ID,
		ManagerID:        managerID,
		AssignedTeam:     team,
		SubjectReference: normalizeReference(input.SubjectReference),
		Subject:          strings.TrimSpace(input.Subject),
		Description:      strings.TrimSpace(input.Description),
		Status:           domain.TicketStatusOpen,
		Priority:         priority,
	}
	ticket.History = append(ticket.History, domain.HistoryEntry{
		Actor:     domain.UserActor(requestor.ID),
		OldStatus: domain.TicketStatusOpen,
		NewStatus: domain.TicketStatusOpen,
		Note:      "ticket created",
	})

	if err := e.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}

	e.publish(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    domain.UserActor(requestor.ID),
		Payload: events.TicketCreatedPayload{
			RequestorID:  ticket.RequestorID,
			ManagerID:    ticket.ManagerID,
			AssignedTeam: ticket.AssignedTeam,
			Priority:     ticket.Priority,
			Subject:      ticket.Subject,
		},
	})
	return ticket, nil
}

// ProcessTicket runs one matcher evaluation against an open ticket: the batch
// path. Matcher failures leave the ticket open with a diagnostic history note
// and never abort the caller's pass.
func (e *Engine) ProcessTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return e.withTicket(ctx, ticketID, func(ticket *domain.Ticket) ([]events.Event, error) {
		if ticket.Status != domain.TicketStatusOpen {
			return nil, errNoMutation
		}

		outcome, err := e.matcher.Match(ctx, ticket)
		if err != nil {
			// Matcher dependency failure: record and leave the ticket open for
			// the next pass.
			e.appendNote(ticket, domain.AgentActor(), "matcher error: "+err.Error())
			return nil, nil
		}

		switch outcome.Kind {
		case matcher.OutcomeUnresolved:
			e.appendNote(ticket, domain.AgentActor(), "no match: "+outcome.Reason)
			return nil, nil
		case matcher.OutcomeReassign:
			return e.applyReassign(ticket, outcome), nil
		default:
			return e.applyResolution(ticket, outcome)
		}
	})
}

// ApplyApproval applies a verified approval grant. The status guard makes
// token replay idempotent: a ticket that already left PendingApproval reports
// AlreadyProcessed without mutation.
func (e *Engine) ApplyApproval(ctx context.Context, grant *approval.Grant) (*domain.Ticket, ApprovalResult, error) {
	result := ApprovalAlreadyProcessed
	ticket, err := e.withTicket(ctx, grant.TicketID, func(ticket *domain.Ticket) ([]events.Event, error) {
		if ticket.Status != domain.TicketStatusPendingApproval {
			return nil, errNoMutation
		}
		result = ApprovalApplied

		manager := domain.UserActor(ticket.ManagerID)
		if grant.Action == approval.ActionReject {
			if err := e.transition(ticket, domain.TicketStatusRejected, manager, "manager rejected"); err != nil {
				return nil, err
			}
			ticket.ProposedResolution = nil
			return []events.Event{{
				Type:     events.EventTicketRejected,
				TicketID: ticket.ID,
				Actor:    manager,
				Payload: events.TicketRejectedPayload{
					RequestorID: ticket.RequestorID,
					ManagerID:   ticket.ManagerID,
					Note:        "manager rejected",
				},
			}}, nil
		}

		if err := e.transition(ticket, domain.TicketStatusResolved, manager, "manager approved"); err != nil {
			return nil, err
		}
		ticket.Resolution = ticket.ProposedResolution
		ticket.ProposedResolution = nil
		if ticket.Resolution == nil {
			ticket.Resolution = &domain.Resolution{
				Summary:   "approved by manager",
				Concern:   domain.ConcernRisk,
				CreatedAt: time.Now(),
			}
		}
		if err := e.transition(ticket, domain.TicketStatusClosed, domain.SystemActor(), "auto-closed after approval"); err != nil {
			return nil, err
		}

		summary := ticket.Resolution.Summary
		return []events.Event{{
			Type:     events.EventTicketResolved,
			TicketID: ticket.ID,
			Actor:    manager,
			Payload: events.TicketResolvedPayload{
				RequestorID: ticket.RequestorID,
				ManagerID:   ticket.ManagerID,
				Summary:     summary,
				AutoSolved:  ticket.Resolution.AutoSolved,
			},
		}}, nil
	})
	if err != nil {
		if apperrors.IsCode(err, "NOT_FOUND") {
			return nil, "", apperrors.NewTokenUnknownTicket(grant.TicketID)
		}
		return nil, "", err
	}
	return ticket, result, nil
}

// CloseTicket closes an open or resolved ticket on behalf of the requestor.
func (e *Engine) CloseTicket(ctx context.Context, ticketID string, actor domain.Actor, note string) (*domain.Ticket, error) {
	return e.withTicket(ctx, ticketID, func(ticket *domain.Ticket) ([]events.Event, error) {
		old := ticket.Status
		if err := e.transition(ticket, domain.TicketStatusClosed, actor, note); err != nil {
			return nil, err
		}
		return []events.Event{{
			Type:     events.EventStatusChanged,
			TicketID: ticket.ID,
			Actor:    actor,
			Payload: events.StatusChangedPayload{
				OldStatus: old,
				NewStatus: domain.TicketStatusClosed,
				Note:      note,
			},
		}}, nil
	})
}

// SweepExpiredPending rejects tickets that have been waiting for approval
// longer than maxAge. Recommended housekeeping, not required for correctness:
// tokens carry their own expiry.
func (e *Engine) SweepExpiredPending(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := e.tickets.ListPendingBefore(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, apperrors.NewUpstreamUnavailable("record store", err)
	}

	swept := 0
	for i := range stale {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		_, err := e.withTicket(ctx, stale[i].ID, func(ticket *domain.Ticket) ([]events.Event, error) {
			if ticket.Status != domain.TicketStatusPendingApproval {
				return nil, errNoMutation
			}
			if err := e.transition(ticket, domain.TicketStatusRejected, domain.SystemActor(), "approval window elapsed"); err != nil {
				return nil, err
			}
			ticket.ProposedResolution = nil
			return []events.Event{{
				Type:     events.EventTicketRejected,
				TicketID: ticket.ID,
				Actor:    domain.SystemActor(),
				Payload: events.TicketRejectedPayload{
					RequestorID: ticket.RequestorID,
					ManagerID:   ticket.ManagerID,
					Note:        "approval window elapsed",
				},
			}}, nil
		})
		if err != nil {
			e.logger.Warn("pending sweep failed for ticket", zap.String("ticket_id", stale[i].ID), zap.Error(err))
			continue
		}
		swept++
	}
	return swept, nil
}

func (e *Engine) applyResolution(ticket *domain.Ticket, outcome matcher.Outcome) ([]events.Event, error) {
	agent := domain.AgentActor()

	if outcome.NeedsApproval {
		if err := e.transition(ticket, domain.TicketStatusPendingApproval, agent, "resolution requires manager approval"); err != nil {
			return nil, err
		}
		ticket.ProposedResolution = outcome.Resolution
		return []events.Event{{
			Type:     events.EventApprovalRequested,
			TicketID: ticket.ID,
			Actor:    agent,
			Payload: events.ApprovalRequestedPayload{
				RequestorID: ticket.RequestorID,
				ManagerID:   ticket.ManagerID,
				Team:        ticket.AssignedTeam,
				Summary:     outcome.Resolution.Summary,
				Ambiguous:   outcome.Resolution.Ambiguous,
			},
		}}, nil
	}

	if err := e.transition(ticket, domain.TicketStatusResolved, agent, "auto-resolved"); err != nil {
		return nil, err
	}
	ticket.Resolution = outcome.Resolution
	if err := e.transition(ticket, domain.TicketStatusClosed, domain.SystemActor(), "auto-closed"); err != nil {
		return nil, err
	}

	return []events.Event{{
		Type:     events.EventTicketResolved,
		TicketID: ticket.ID,
		Actor:    agent,
		Payload: events.TicketResolvedPayload{
			RequestorID:   ticket.RequestorID,
			ManagerID:     ticket.ManagerID,
			Summary:       outcome.Resolution.Summary,
			AutoSolved:    true,
			Informational: true,
		},
	}}, nil
}

func (e *Engine) applyReassign(ticket *domain.Ticket, outcome matcher.Outcome) []events.Event {
	from := ticket.AssignedTeam
	ticket.AssignedTeam = outcome.TargetTeam
	ticket.AssigneeID = nil
	e.appendNote(ticket, domain.AgentActor(),
		"reassigned to "+string(outcome.TargetTeam)+" team: "+outcome.Reason)

	return []events.Event{{
		Type:     events.EventTicketReassigned,
		TicketID: ticket.ID,
		Actor:    domain.AgentActor(),
		Payload: events.TicketReassignedPayload{
			RequestorID: ticket.RequestorID,
			FromTeam:    from,
			ToTeam:      outcome.TargetTeam,
			Reason:      outcome.Reason,
		},
	}}
}

// errNoMutation signals that the mutation callback decided not to change the
// ticket; the save is skipped and the last loaded state is returned.
var errNoMutation = errors.New("no mutation")

type mutateFn func(ticket *domain.Ticket) ([]events.Event, error)

// withTicket loads, mutates and saves a ticket under the per-ticket lock,
// retrying the reload-and-reapply loop on version conflicts. Events produced
// by the mutation are published after the lock is released.
func (e *Engine) withTicket(ctx context.Context, ticketID string, fn mutateFn) (*domain.Ticket, error) {
	release, err := e.locker.Acquire(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	var (
		ticket  *domain.Ticket
		pending []events.Event
	)
	err = func() error {
		defer release()

		for attempt := 0; ; attempt++ {
			ticket, err = e.tickets.GetByID(ctx, ticketID)
			if err != nil {
				return err
			}

			before := ticket.Status
			pending, err = fn(ticket)
			if errors.Is(err, errNoMutation) {
				pending = nil
				return nil
			}
			if err != nil {
				return err
			}

			saveErr := e.tickets.Save(ctx, ticket, ticket.Version)
			if saveErr == nil {
				if before != ticket.Status {
					e.metrics.RecordTransition(string(before), string(ticket.Status))
				}
				return nil
			}
			if apperrors.IsCode(saveErr, "CONFLICT") && attempt < maxConflictRetries {
				e.metrics.RecordConflictRetry()
				e.logger.Debug("version conflict, retrying",
					zap.String("ticket_id", ticketID),
					zap.Int("attempt", attempt+1))
				pending = nil
				continue
			}
			return saveErr
		}
	}()
	if err != nil {
		return nil, err
	}

	for _, event := range pending {
		e.publish(ctx, event)
	}
	return ticket, nil
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:            {domain.TicketStatusPendingApproval, domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusPendingApproval: {domain.TicketStatusResolved, domain.TicketStatusRejected},
	domain.TicketStatusResolved:        {domain.TicketStatusClosed},
	domain.TicketStatusRejected:        {},
	domain.TicketStatusClosed:          {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// transition moves the ticket to the next status, appending exactly one
// history entry.
func (e *Engine) transition(ticket *domain.Ticket, next domain.TicketStatus, actor domain.Actor, note string) error {
	if !isValidTransition(ticket.Status, next) {
		return apperrors.NewInvalidTransition(string(ticket.Status), string(next))
	}
	ticket.History = append(ticket.History, domain.HistoryEntry{
		Actor:     actor,
		OldStatus: ticket.Status,
		NewStatus: next,
		Note:      note,
	})
	ticket.Status = next
	if next == domain.TicketStatusClosed {
		now := time.Now()
		ticket.ClosedAt = &now
	}
	return nil
}

// appendNote records a status-preserving history entry, e.g. a failed match
// or a team reassignment.
func (e *Engine) appendNote(ticket *domain.Ticket, actor domain.Actor, note string) {
	ticket.History = append(ticket.History, domain.HistoryEntry{
		Actor:     actor,
		OldStatus: ticket.Status,
		NewStatus: ticket.Status,
		Note:      note,
	})
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = e.events.Publish(ctx, event)
}

func (e *Engine) resolveManager(ctx context.Context, requestor *domain.User, team domain.Team) (string, error) {
	if requestor.ManagerID != nil && *requestor.ManagerID != "" {
		return *requestor.ManagerID, nil
	}
	if team == "" {
		team = requestor.Team
	}
	manager, err := e.users.GetManagerForTeam(ctx, team)
	if err != nil {
		return "", err
	}
	return manager.ID, nil
}

func generateTicketKey() string {
	return "QRY-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func normalizeReference(ref *string) *string {
	if ref == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*ref)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
