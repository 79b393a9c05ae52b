package matcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spec-kit/query-management/internal/domain"
	"github.com/spec-kit/query-management/internal/repository"
)

// OutcomeKind enumerates what the matcher decided.
type OutcomeKind string

const (
	OutcomeResolved   OutcomeKind = "RESOLVED"
	OutcomeUnresolved OutcomeKind = "UNRESOLVED"
	OutcomeReassign   OutcomeKind = "REASSIGN"
)

// Outcome is the matcher verdict for a single ticket. Resolved outcomes carry
// a resolution and whether it must be routed through manager approval instead
// of auto-closing. Reassign outcomes name the specialist team.
type Outcome struct {
	Kind          OutcomeKind
	Resolution    *domain.Resolution
	NeedsApproval bool
	Reason        string
	TargetTeam    domain.Team
}

// Matcher inspects reference records and decides whether a ticket is
// resolvable. It has no side effects; every call is a pure function over a
// consistent snapshot of the reference store.
type Matcher struct {
	refs repository.ReferenceRepository
}

// New constructs a matcher over the given reference store.
func New(refs repository.ReferenceRepository) *Matcher {
	return &Matcher{refs: refs}
}

var identifierPattern = regexp.MustCompile(`\b(?:INV|PO|REF)-[A-Za-z0-9]{3,}\b`)

var (
	documentTerms = []string{"copy", "remittance", "proof of payment", "send invoice", "send the invoice", "document", "duplicate invoice"}
	riskTerms     = []string{"refund", "on hold", "put on hold", "early payment", "validate vendor", "vendor details", "block invoice", "cancellation", "customer details"}
	billingAP     = []string{"reversal", "exchange rate"}
	billingAR     = []string{"credit memo", "debit memo", "partial credit"}
)

// Match evaluates the ticket against the reference store.
func (m *Matcher) Match(ctx context.Context, ticket *domain.Ticket) (Outcome, error) {
	concern := classify(ticket)

	if team, ok := billingTeam(ticket); concern == domain.ConcernBilling && ok {
		if ticket.AssignedTeam == team {
			return Outcome{
				Kind:   OutcomeUnresolved,
				Reason: "requires billing specialist on current team",
			}, nil
		}
		return Outcome{
			Kind:       OutcomeReassign,
			TargetTeam: team,
			Reason:     "billing specialist handling required",
		}, nil
	}

	identifier := subjectIdentifier(ticket)
	if identifier == "" {
		return Outcome{Kind: OutcomeUnresolved, Reason: "no reference"}, nil
	}

	records, err := m.refs.FindByIdentifier(ctx, identifier)
	if err != nil {
		return Outcome{}, fmt.Errorf("reference lookup for %s: %w", identifier, err)
	}
	if len(records) == 0 {
		return Outcome{Kind: OutcomeUnresolved, Reason: "reference " + identifier + " not found"}, nil
	}

	// Duplicate identifiers: prefer the most recently updated record and flag
	// the resolution so the engine routes it through manager approval.
	record := mostRecent(records)
	ambiguous := len(records) > 1

	switch concern {
	case domain.ConcernRisk:
		res := buildResolution(record, concern, ambiguous,
			fmt.Sprintf("Requested action on %s has financial or policy impact and needs manager sign-off.", record.Identifier))
		return Outcome{Kind: OutcomeResolved, Resolution: res, NeedsApproval: true}, nil
	case domain.ConcernDocument:
		res := buildResolution(record, concern, ambiguous,
			fmt.Sprintf("Document generation for %s is currently unavailable; the requester is advised to contact the %s team for a manual copy.", record.Identifier, ticket.AssignedTeam))
		return Outcome{Kind: OutcomeResolved, Resolution: res, NeedsApproval: ambiguous}, nil
	default:
		if !settled(record) {
			return Outcome{
				Kind:   OutcomeUnresolved,
				Reason: fmt.Sprintf("reference %s not settled (payment status %s)", record.Identifier, record.PaymentStatus),
			}, nil
		}
		res := buildResolution(record, domain.ConcernInfo, ambiguous, infoSummary(record))
		return Outcome{Kind: OutcomeResolved, Resolution: res, NeedsApproval: ambiguous}, nil
	}
}

func classify(ticket *domain.Ticket) domain.ConcernKind {
	text := strings.ToLower(ticket.Subject + " " + ticket.Description)
	if containsAny(text, billingAP) || containsAny(text, billingAR) {
		return domain.ConcernBilling
	}
	if containsAny(text, riskTerms) {
		return domain.ConcernRisk
	}
	if containsAny(text, documentTerms) {
		return domain.ConcernDocument
	}
	return domain.ConcernInfo
}

func billingTeam(ticket *domain.Ticket) (domain.Team, bool) {
	text := strings.ToLower(ticket.Subject + " " + ticket.Description)
	if containsAny(text, billingAP) {
		return domain.TeamAccountsPayable, true
	}
	if containsAny(text, billingAR) {
		return domain.TeamAccountsReceivable, true
	}
	return "", false
}

// subjectIdentifier returns the explicit subject reference, or an identifier
// extracted from the ticket text.
func subjectIdentifier(ticket *domain.Ticket) string {
	if ticket.SubjectReference != nil && strings.TrimSpace(*ticket.SubjectReference) != "" {
		return strings.TrimSpace(*ticket.SubjectReference)
	}
	return identifierPattern.FindString(ticket.Subject + " " + ticket.Description)
}

func mostRecent(records []domain.ReferenceRecord) domain.ReferenceRecord {
	best := records[0]
	for _, candidate := range records[1:] {
		if candidate.UpdatedAt.After(best.UpdatedAt) {
			best = candidate
		}
	}
	return best
}

func settled(record domain.ReferenceRecord) bool {
	if record.Kind == domain.ReferenceKindPurchaseOrder {
		return record.Fulfilled
	}
	return record.PaymentStatus == domain.PaymentStatusPaid
}

func infoSummary(record domain.ReferenceRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s for %.2f %s is %s", strings.ToLower(string(record.Kind)),
		record.Identifier, record.Amount, record.Currency, strings.ToLower(string(record.PaymentStatus)))
	if record.ClearingDate != nil {
		fmt.Fprintf(&b, ", cleared on %s", record.ClearingDate.Format("2006-01-02"))
	} else if record.DueDate != nil {
		fmt.Fprintf(&b, ", due on %s", record.DueDate.Format("2006-01-02"))
	}
	b.WriteString(".")
	return b.String()
}

func buildResolution(record domain.ReferenceRecord, concern domain.ConcernKind, ambiguous bool, summary string) *domain.Resolution {
	fields := map[string]string{
		"identifier":     record.Identifier,
		"payment_status": string(record.PaymentStatus),
		"amount":         fmt.Sprintf("%.2f %s", record.Amount, record.Currency),
	}
	if record.ClearingDate != nil {
		fields["clearing_date"] = record.ClearingDate.Format("2006-01-02")
	}
	if record.DueDate != nil {
		fields["due_date"] = record.DueDate.Format("2006-01-02")
	}
	return &domain.Resolution{
		Summary:    summary,
		Concern:    concern,
		Evidence:   []domain.Evidence{{ReferenceID: record.ID, MatchedFields: fields}},
		Ambiguous:  ambiguous,
		AutoSolved: true,
		CreatedAt:  time.Now(),
	}
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
