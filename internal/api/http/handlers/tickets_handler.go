package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/query-management/internal/api/dto"
	"github.com/spec-kit/query-management/internal/auth"
	"github.com/spec-kit/query-management/internal/domain"
	"github.com/spec-kit/query-management/internal/engine"
	"github.com/spec-kit/query-management/internal/service"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

// TicketsHandler serves the interactive ticket endpoints.
type TicketsHandler struct {
	tickets *service.TicketService
}

func NewTicketsHandler(tickets *service.TicketService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets}
}

func (h *TicketsHandler) Create(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}

	input := engine.CreateInput{
		Subject:     strings.TrimSpace(req.Subject),
		Description: strings.TrimSpace(req.Description),
		Priority:    parsePriority(req.Priority),
		Team:        domain.Team(strings.ToUpper(req.Team)),
	}
	if ref := strings.TrimSpace(req.SubjectReference); ref != "" {
		input.SubjectReference = &ref
	}

	ticket, err := h.tickets.CreateTicket(c.Context(), principal.User, input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.ToTicketDetail(ticket))
}

func (h *TicketsHandler) List(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	filter := service.TicketListFilter{
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := domain.TicketStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !status.Valid() {
				return apperrors.NewValidationError("unknown status filter", map[string]any{"status": part})
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := c.Query("created_from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apperrors.NewValidationError("created_from must be RFC3339", nil)
		}
		filter.CreatedFrom = &from
	}
	if raw := c.Query("created_to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apperrors.NewValidationError("created_to must be RFC3339", nil)
		}
		filter.CreatedTo = &to
	}

	tickets, err := h.tickets.ListTickets(c.Context(), principal.User, filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.ToTicketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"items": items, "count": len(items)})
}

func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	ticket, err := h.tickets.GetTicket(c.Context(), principal.User, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.ToTicketDetail(ticket))
}

func (h *TicketsHandler) Close(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	ticket, err := h.tickets.CloseTicket(c.Context(), principal.User, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.ToTicketDetail(ticket))
}

// SearchReferences exposes invoice and purchase order lookup.
func (h *TicketsHandler) SearchReferences(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	filter := domain.ReferenceFilter{Limit: c.QueryInt("limit", 50)}
	if v := strings.TrimSpace(c.Query("identifier")); v != "" {
		filter.Identifier = &v
	}
	if v := strings.TrimSpace(c.Query("po_number")); v != "" {
		filter.PONumber = &v
	}
	if v := strings.TrimSpace(c.Query("vendor")); v != "" {
		filter.VendorName = &v
	}
	if v := strings.TrimSpace(c.Query("customer")); v != "" {
		filter.CustomerName = &v
	}
	if v := strings.ToUpper(strings.TrimSpace(c.Query("payment_status"))); v != "" {
		status := domain.PaymentStatus(v)
		filter.PaymentStatus = &status
	}

	records, err := h.tickets.SearchReferences(c.Context(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.ReferenceResponse, 0, len(records))
	for i := range records {
		items = append(items, dto.ToReferenceResponse(&records[i]))
	}
	return c.JSON(fiber.Map{"items": items, "count": len(items)})
}

func parsePriority(raw string) domain.TicketPriority {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(domain.TicketPriorityHigh):
		return domain.TicketPriorityHigh
	case string(domain.TicketPriorityLow):
		return domain.TicketPriorityLow
	default:
		return domain.TicketPriorityMedium
	}
}
