package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/query-management/internal/api/http/handlers"
	"github.com/spec-kit/query-management/internal/auth"
	"github.com/spec-kit/query-management/internal/domain"
	"github.com/spec-kit/query-management/internal/observability"
)

// RouterDependencies bundles everything the HTTP surface needs.
type RouterDependencies struct {
	ReadTimeout time.Duration

	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Auth      *auth.AuthMiddleware
	Health    *handlers.HealthHandler
	Users     *handlers.UsersHandler
	Tickets   *handlers.TicketsHandler
	Analytics *handlers.AnalyticsHandler
	Approvals *handlers.ApprovalsHandler
}

// NewApp wires the fiber application: middleware, public routes, protected
// routes. Approval links are public on purpose; the token is the credential.
func NewApp(deps RouterDependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "query-management",
		ReadTimeout:  deps.ReadTimeout,
		ErrorHandler: ErrorHandler(deps.Logger, deps.Metrics),
	})

	app.Use(Recover(deps.Logger))
	app.Use(observability.RequestLogger(deps.Logger, deps.Metrics))

	app.Get("/health/live", deps.Health.Live)
	app.Get("/health/ready", deps.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", deps.Users.Register)
	authGroup.Post("/login", deps.Users.Login)

	approvals := app.Group("/approvals")
	approvals.Get("/approve", deps.Approvals.Approve)
	approvals.Get("/reject", deps.Approvals.Reject)

	api := app.Group("/api/v1", deps.Auth.Handle)
	api.Get("/me", deps.Users.Me)

	tickets := api.Group("/tickets")
	tickets.Post("/", deps.Tickets.Create)
	tickets.Get("/", deps.Tickets.List)
	tickets.Get("/:id", deps.Tickets.Get)
	tickets.Post("/:id/close", deps.Tickets.Close)

	api.Get("/references", deps.Tickets.SearchReferences)

	api.Get("/analytics/team", auth.RequireRole(domain.RoleManager), deps.Analytics.TeamReport)

	return app
}
