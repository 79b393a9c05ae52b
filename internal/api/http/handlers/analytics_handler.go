package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/query-management/internal/api/dto"
	"github.com/spec-kit/query-management/internal/auth"
	"github.com/spec-kit/query-management/internal/domain"
	"github.com/spec-kit/query-management/internal/service"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

// AnalyticsHandler serves team KPI reports.
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
}

func NewAnalyticsHandler(analytics *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

func (h *AnalyticsHandler) TeamReport(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	team := domain.Team(strings.ToUpper(strings.TrimSpace(c.Query("team"))))
	if team == "" {
		team = principal.User.Team
	}

	metrics, err := h.analytics.TeamReport(c.Context(), principal.User, team)
	if err != nil {
		return err
	}

	resp := dto.TeamReportResponse{
		Team:            string(metrics.Team),
		Total:           metrics.Total,
		Open:            metrics.Open,
		PendingApproval: metrics.PendingApproval,
		Resolved:        metrics.Resolved,
		Rejected:        metrics.Rejected,
		Closed:          metrics.Closed,
		AutoSolved:      metrics.AutoSolved,
	}
	if metrics.Total > 0 {
		resp.AutoSolvedRate = float64(metrics.AutoSolved) / float64(metrics.Total)
	}
	return c.JSON(resp)
}
