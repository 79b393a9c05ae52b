package handlers

import (
	"html/template"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/query-management/internal/approval"
	"github.com/spec-kit/query-management/internal/engine"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

var decisionPageTmpl = template.Must(template.New("decision").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Query Approval</title>
  <style>
    body{font-family:ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial; margin:24px; color:#0f172a; background:#ffffff}
    .card{max-width:640px; border:1px solid #e2e8f0; border-radius:12px; padding:18px; box-shadow:0 1px 2px rgba(0,0,0,.04)}
    .pill{display:inline-block; padding:4px 10px; border-radius:999px; font-size:12px; background:#f1f5f9}
    .ok{background:#dcfce7}
    .warn{background:#fef9c3}
    .bad{background:#fee2e2}
    .muted{color:#475569; font-size:13px}
    code{background:#f1f5f9; padding:2px 6px; border-radius:6px}
    h1{font-size:18px; margin:0 0 12px 0}
  </style>
</head>
<body>
  <div class="card">
    <h1>Query Approval</h1>
    <p><span class="pill {{.Tone}}">{{.Headline}}</span></p>
    <p class="muted">{{.Detail}}</p>
    {{if .TicketKey}}<p class="muted">Ticket <code>{{.TicketKey}}</code></p>{{end}}
  </div>
</body>
</html>`))

type decisionView struct {
	Tone      string
	Headline  string
	Detail    string
	TicketKey string
}

// ApprovalsHandler serves the unauthenticated email-link endpoints. Responses
// are rendered pages, never raw errors: managers click these from their inbox.
type ApprovalsHandler struct {
	tokens *approval.TokenService
	engine *engine.Engine
	logger *zap.Logger
}

func NewApprovalsHandler(tokens *approval.TokenService, eng *engine.Engine, logger *zap.Logger) *ApprovalsHandler {
	return &ApprovalsHandler{tokens: tokens, engine: eng, logger: logger}
}

// Approve handles GET /approvals/approve?token=...
func (h *ApprovalsHandler) Approve(c *fiber.Ctx) error {
	return h.decide(c, approval.ActionApprove)
}

// Reject handles GET /approvals/reject?token=...
func (h *ApprovalsHandler) Reject(c *fiber.Ctx) error {
	return h.decide(c, approval.ActionReject)
}

func (h *ApprovalsHandler) decide(c *fiber.Ctx, expected approval.Action) error {
	token := c.Query("token")
	if token == "" {
		return h.render(c, http.StatusBadRequest, decisionView{
			Tone:     "bad",
			Headline: "Link incomplete",
			Detail:   "This approval link is missing its token. Use the link from the notification email.",
		})
	}

	grant, err := h.tokens.Verify(token)
	if err != nil {
		return h.renderError(c, err, "")
	}
	if grant.Action != expected {
		return h.render(c, http.StatusBadRequest, decisionView{
			Tone:     "bad",
			Headline: "Link invalid",
			Detail:   "This link does not match the requested action. Use the link from the notification email.",
		})
	}

	ticket, result, err := h.engine.ApplyApproval(c.Context(), grant)
	if err != nil {
		return h.renderError(c, err, grant.TicketID)
	}

	view := decisionView{TicketKey: ticket.ExternalKey}
	switch {
	case result == engine.ApprovalAlreadyProcessed:
		view.Tone = "warn"
		view.Headline = "Already processed"
		view.Detail = "A decision was already recorded for this ticket. Nothing has changed."
	case grant.Action == approval.ActionApprove:
		view.Tone = "ok"
		view.Headline = "Resolution approved"
		view.Detail = "The proposed resolution has been applied and the ticket is closed."
	default:
		view.Tone = "ok"
		view.Headline = "Resolution rejected"
		view.Detail = "The proposed resolution was discarded and the requestor has been notified."
	}
	return h.render(c, http.StatusOK, view)
}

func (h *ApprovalsHandler) renderError(c *fiber.Ctx, err error, ticketID string) error {
	switch {
	case apperrors.IsCode(err, "TOKEN_EXPIRED"):
		return h.render(c, http.StatusGone, decisionView{
			Tone:     "bad",
			Headline: "Link expired",
			Detail:   "This approval link is no longer valid. Ask the requestor to resubmit the query.",
		})
	case apperrors.IsCode(err, "TOKEN_MALFORMED"):
		return h.render(c, http.StatusBadRequest, decisionView{
			Tone:     "bad",
			Headline: "Link invalid",
			Detail:   "This approval link could not be verified. Use the link from the notification email.",
		})
	case apperrors.IsCode(err, "TOKEN_UNKNOWN_TICKET"):
		return h.render(c, http.StatusNotFound, decisionView{
			Tone:     "bad",
			Headline: "Ticket not found",
			Detail:   "The ticket this link refers to no longer exists.",
		})
	default:
		h.logger.Error("approval decision failed",
			zap.String("ticket_id", ticketID),
			zap.Error(err))
		return h.render(c, http.StatusInternalServerError, decisionView{
			Tone:     "bad",
			Headline: "Something went wrong",
			Detail:   "The decision could not be recorded. Try the link again in a moment.",
		})
	}
}

func (h *ApprovalsHandler) render(c *fiber.Ctx, status int, view decisionView) error {
	c.Set("Content-Type", "text/html; charset=utf-8")
	c.Set("Cache-Control", "no-store")
	c.Status(status)
	return decisionPageTmpl.Execute(c, view)
}
