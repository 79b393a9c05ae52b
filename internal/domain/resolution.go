package domain

import "time"

// ConcernKind classifies what a ticket is asking for. The categories mirror
// the closure rules applied by the resolution agent: informational requests
// close automatically, document requests close with a notice, risk-bearing
// actions require manager sign-off and billing work is reassigned to a
// specialist team.
type ConcernKind string

const (
	ConcernInfo     ConcernKind = "INFO"
	ConcernDocument ConcernKind = "DOCUMENT"
	ConcernRisk     ConcernKind = "RISK"
	ConcernBilling  ConcernKind = "BILLING"
)

// Evidence points at the reference record fields that justified a resolution.
type Evidence struct {
	ReferenceID   string            `json:"reference_id"`
	MatchedFields map[string]string `json:"matched_fields"`
}

// Resolution is the evidence-backed answer produced by the matcher. It is
// owned exclusively by the ticket that produced it. DocumentID references an
// externally generated document and is carried by id only.
type Resolution struct {
	Summary    string      `json:"summary"`
	Concern    ConcernKind `json:"concern"`
	Evidence   []Evidence  `json:"evidence"`
	Ambiguous  bool        `json:"ambiguous"`
	AutoSolved bool        `json:"auto_solved"`
	DocumentID *string     `json:"document_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}
