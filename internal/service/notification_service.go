package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/query-management/internal/approval"
	"github.com/spec-kit/query-management/internal/config"
	"github.com/spec-kit/query-management/internal/events"
	"github.com/spec-kit/query-management/internal/repository"
)

// NotificationKind enumerates the message intents the engine can produce.
type NotificationKind string

const (
	KindManagerApprovalRequest NotificationKind = "ManagerApprovalRequest"
	KindManagerInfo            NotificationKind = "ManagerInfo"
	KindRequestorResolved      NotificationKind = "RequestorResolved"
	KindRequestorRejected      NotificationKind = "RequestorRejected"
	KindTeamReassigned         NotificationKind = "TeamReassigned"
)

// Notification is a fully built message intent. Transport is someone else's
// problem; delivery failures never roll back ticket state.
type Notification struct {
	RecipientID string
	Recipient   string
	Kind        NotificationKind
	Subject     string
	Body        string
}

// Notifier delivers notifications fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}

// LogNotifier is the stub transport: it logs the message and, when a webhook
// URL is configured, would post there. Real SMTP is out of scope.
type LogNotifier struct {
	logger *zap.Logger
	cfg    config.NotificationConfig
}

// NewLogNotifier creates the stub transport.
func NewLogNotifier(logger *zap.Logger, cfg config.NotificationConfig) *LogNotifier {
	return &LogNotifier{logger: logger, cfg: cfg}
}

func (n *LogNotifier) Notify(_ context.Context, notification Notification) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Info("notification",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("to", notification.Recipient),
		zap.String("kind", string(notification.Kind)),
		zap.String("subject", notification.Subject))
	n.logger.Debug("notification body", zap.String("body", notification.Body))
}

// NotificationService turns committed domain events into notifications.
// Approval links are minted here, after the transition is already durable.
type NotificationService struct {
	dispatcher events.Dispatcher
	tokens     *approval.TokenService
	users      repository.UserRepository
	notifier   Notifier
	logger     *zap.Logger
	baseURL    string
}

// NotificationDependencies bundles collaborators.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	Tokens     *approval.TokenService
	UserRepo   repository.UserRepository
	Notifier   Notifier
	Logger     *zap.Logger
	BaseURL    string
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		tokens:     deps.Tokens,
		users:      deps.UserRepo,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		baseURL:    strings.TrimRight(deps.BaseURL, "/"),
	}
}

// RegisterHandlers subscribes to engine events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventApprovalRequested, n.handleApprovalRequested)
	n.dispatcher.Subscribe(events.EventTicketResolved, n.handleTicketResolved)
	n.dispatcher.Subscribe(events.EventTicketRejected, n.handleTicketRejected)
	n.dispatcher.Subscribe(events.EventTicketReassigned, n.handleTicketReassigned)
}

func (n *NotificationService) handleApprovalRequested(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ApprovalRequestedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload for %s", event.Type)
	}

	approveLink, err := n.approvalLink(event.TicketID, approval.ActionApprove)
	if err != nil {
		return err
	}
	rejectLink, err := n.approvalLink(event.TicketID, approval.ActionReject)
	if err != nil {
		return err
	}

	manager, err := n.users.GetByID(ctx, payload.ManagerID)
	if err != nil {
		return err
	}

	body := fmt.Sprintf(`Hello %s,

The resolution agent recommends closing ticket %s.

Team: %s
Proposed resolution:
%s

Please review:
APPROVE: %s
REJECT: %s
`, manager.Name, event.TicketID, payload.Team, payload.Summary, approveLink, rejectLink)

	n.notifier.Notify(ctx, Notification{
		RecipientID: manager.ID,
		Recipient:   manager.Email,
		Kind:        KindManagerApprovalRequest,
		Subject:     fmt.Sprintf("Approval required: ticket %s", event.TicketID),
		Body:        body,
	})
	return nil
}

func (n *NotificationService) handleTicketResolved(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketResolvedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload for %s", event.Type)
	}

	requestor, err := n.users.GetByID(ctx, payload.RequestorID)
	if err != nil {
		return err
	}
	n.notifier.Notify(ctx, Notification{
		RecipientID: requestor.ID,
		Recipient:   requestor.Email,
		Kind:        KindRequestorResolved,
		Subject:     fmt.Sprintf("Update on ticket %s", event.TicketID),
		Body:        payload.Summary,
	})

	// Auto-closed tickets inform the manager; approved ones were already in
	// the manager's hands.
	if payload.Informational {
		manager, err := n.users.GetByID(ctx, payload.ManagerID)
		if err != nil {
			return err
		}
		n.notifier.Notify(ctx, Notification{
			RecipientID: manager.ID,
			Recipient:   manager.Email,
			Kind:        KindManagerInfo,
			Subject:     fmt.Sprintf("Ticket %s auto-resolved", event.TicketID),
			Body:        payload.Summary,
		})
	}
	return nil
}

func (n *NotificationService) handleTicketRejected(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketRejectedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload for %s", event.Type)
	}

	requestor, err := n.users.GetByID(ctx, payload.RequestorID)
	if err != nil {
		return err
	}
	n.notifier.Notify(ctx, Notification{
		RecipientID: requestor.ID,
		Recipient:   requestor.Email,
		Kind:        KindRequestorRejected,
		Subject:     fmt.Sprintf("Ticket %s was rejected", event.TicketID),
		Body:        payload.Note,
	})
	return nil
}

func (n *NotificationService) handleTicketReassigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketReassignedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload for %s", event.Type)
	}

	requestor, err := n.users.GetByID(ctx, payload.RequestorID)
	if err != nil {
		return err
	}
	n.notifier.Notify(ctx, Notification{
		RecipientID: requestor.ID,
		Recipient:   requestor.Email,
		Kind:        KindTeamReassigned,
		Subject:     fmt.Sprintf("Ticket %s reassigned for specialist review", event.TicketID),
		Body:        fmt.Sprintf("Your ticket was reassigned to the %s team. Reason: %s", payload.ToTeam, payload.Reason),
	})

	teamManager, err := n.users.GetManagerForTeam(ctx, payload.ToTeam)
	if err != nil {
		n.logger.Warn("no manager found for reassignment target team",
			zap.String("team", string(payload.ToTeam)), zap.Error(err))
		return nil
	}
	n.notifier.Notify(ctx, Notification{
		RecipientID: teamManager.ID,
		Recipient:   teamManager.Email,
		Kind:        KindTeamReassigned,
		Subject:     fmt.Sprintf("New ticket assigned: %s (%s)", event.TicketID, payload.ToTeam),
		Body:        fmt.Sprintf("Ticket %s was reassigned to %s. Reason: %s", event.TicketID, payload.ToTeam, payload.Reason),
	})
	return nil
}

func (n *NotificationService) approvalLink(ticketID string, action approval.Action) (string, error) {
	token, _, err := n.tokens.Issue(ticketID, action, 0)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/approvals/%s?token=%s", n.baseURL, action, token), nil
}
