package dto

import (
	"time"

	"github.com/spec-kit/query-management/internal/domain"
)

type CreateTicketRequest struct {
	Subject          string `json:"subject"`
	Description      string `json:"description"`
	SubjectReference string `json:"subject_reference,omitempty"`
	Team             string `json:"team,omitempty"`
	Priority         string `json:"priority,omitempty"`
}

type ResolutionResponse struct {
	Summary    string            `json:"summary"`
	Concern    string            `json:"concern,omitempty"`
	Ambiguous  bool              `json:"ambiguous"`
	AutoSolved bool              `json:"auto_solved"`
	Reference  string            `json:"reference,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	DocumentID string            `json:"document_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type HistoryEntryResponse struct {
	ID        string    `json:"id"`
	ActorType string    `json:"actor_type"`
	ActorID   string    `json:"actor_id,omitempty"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type TicketSummary struct {
	ID           string     `json:"id"`
	ExternalKey  string     `json:"external_key"`
	Subject      string     `json:"subject"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	AssignedTeam string     `json:"assigned_team"`
	RequestorID  string     `json:"requestor_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

type TicketDetail struct {
	TicketSummary
	Description      string                 `json:"description"`
	SubjectReference string                 `json:"subject_reference,omitempty"`
	ManagerID        string                 `json:"manager_id,omitempty"`
	Resolution       *ResolutionResponse    `json:"resolution,omitempty"`
	History          []HistoryEntryResponse `json:"history"`
	Version          int64                  `json:"version"`
}

type ReferenceResponse struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Identifier    string     `json:"identifier"`
	PONumber      string     `json:"po_number,omitempty"`
	VendorName    string     `json:"vendor_name,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	PaymentStatus string     `json:"payment_status"`
	Fulfilled     bool       `json:"fulfilled"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func ToTicketSummary(t *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:           t.ID,
		ExternalKey:  t.ExternalKey,
		Subject:      t.Subject,
		Status:       string(t.Status),
		Priority:     string(t.Priority),
		AssignedTeam: string(t.AssignedTeam),
		RequestorID:  t.RequestorID,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		ClosedAt:     t.ClosedAt,
	}
}

func ToTicketDetail(t *domain.Ticket) TicketDetail {
	detail := TicketDetail{
		TicketSummary: ToTicketSummary(t),
		Description:   t.Description,
		ManagerID:     t.ManagerID,
		Version:       t.Version,
		History:       make([]HistoryEntryResponse, 0, len(t.History)),
	}
	if t.SubjectReference != nil {
		detail.SubjectReference = *t.SubjectReference
	}
	if t.Resolution != nil {
		detail.Resolution = toResolutionResponse(t.Resolution)
	}
	for i := range t.History {
		detail.History = append(detail.History, toHistoryEntry(&t.History[i]))
	}
	return detail
}

func toResolutionResponse(r *domain.Resolution) *ResolutionResponse {
	resp := &ResolutionResponse{
		Summary:    r.Summary,
		Concern:    string(r.Concern),
		Ambiguous:  r.Ambiguous,
		AutoSolved: r.AutoSolved,
		CreatedAt:  r.CreatedAt,
	}
	if r.DocumentID != nil {
		resp.DocumentID = *r.DocumentID
	}
	if len(r.Evidence) > 0 {
		resp.Reference = r.Evidence[0].ReferenceID
		resp.Fields = r.Evidence[0].MatchedFields
	}
	return resp
}

func toHistoryEntry(h *domain.HistoryEntry) HistoryEntryResponse {
	entry := HistoryEntryResponse{
		ID:        h.ID,
		ActorType: string(h.Actor.Type),
		OldStatus: string(h.OldStatus),
		NewStatus: string(h.NewStatus),
		Note:      h.Note,
		CreatedAt: h.CreatedAt,
	}
	if h.Actor.UserID != nil {
		entry.ActorID = *h.Actor.UserID
	}
	return entry
}

func ToReferenceResponse(r *domain.ReferenceRecord) ReferenceResponse {
	resp := ReferenceResponse{
		ID:            r.ID,
		Kind:          string(r.Kind),
		Identifier:    r.Identifier,
		VendorName:    r.VendorName,
		CustomerName:  r.CustomerName,
		Amount:        r.Amount,
		Currency:      r.Currency,
		PaymentStatus: string(r.PaymentStatus),
		Fulfilled:     r.Fulfilled,
		DueDate:       r.DueDate,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.PONumber != nil {
		resp.PONumber = *r.PONumber
	}
	return resp
}
