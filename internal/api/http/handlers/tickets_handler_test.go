package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/query-management/internal/auth"
	"github.com/spec-kit/query-management/internal/domain"
	"github.com/spec-kit/query-management/internal/engine"
	"github.com/spec-kit/query-management/internal/matcher"
	"github.com/spec-kit/query-management/internal/observability"
	"github.com/spec-kit/query-management/internal/repository"
	"github.com/spec-kit/query-management/internal/service"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

type ticketsFixture struct {
	app       *fiber.App
	tokens    *auth.TokenManager
	employee  *domain.User
	colleague *domain.User
	manager   *domain.User
}

func newTicketsFixture(t *testing.T) *ticketsFixture {
	t.Helper()

	tickets := repository.NewMemoryTicketRepository()
	users := repository.NewMemoryUserRepository()
	refs := repository.NewMemoryReferenceRepository()

	manager := &domain.User{
		Name: "Morgan Lee", Email: "morgan@example.com",
		Role: domain.RoleManager, Team: domain.TeamGeneral,
		Status: domain.UserStatusActive,
	}
	require.NoError(t, users.Create(context.Background(), manager))
	employee := &domain.User{
		Name: "Riley Chen", Email: "riley@example.com",
		Role: domain.RoleEmployee, Team: domain.TeamGeneral,
		ManagerID: &manager.ID, Status: domain.UserStatusActive,
	}
	require.NoError(t, users.Create(context.Background(), employee))
	colleague := &domain.User{
		Name: "Sam Park", Email: "sam@example.com",
		Role: domain.RoleEmployee, Team: domain.TeamGeneral,
		ManagerID: &manager.ID, Status: domain.UserStatusActive,
	}
	require.NoError(t, users.Create(context.Background(), colleague))

	refs.Put(domain.ReferenceRecord{
		Kind:          domain.ReferenceKindInvoice,
		Identifier:    "INV-100",
		Amount:        250,
		Currency:      "EUR",
		PaymentStatus: domain.PaymentStatusPaid,
		UpdatedAt:     time.Now(),
	})

	eng := engine.New(engine.Dependencies{
		TicketRepo: tickets,
		UserRepo:   users,
		Matcher:    matcher.New(refs),
		Locker:     engine.NewMemoryLocker(),
		Logger:     zap.NewNop(),
		Metrics:    observability.NewMetrics(),
	})
	svc := service.NewTicketService(service.TicketDependencies{
		TicketRepo:    tickets,
		ReferenceRepo: refs,
		Engine:        eng,
	})

	tokens := auth.NewTokenManager("test-secret", 60)
	authMW := auth.NewAuthMiddleware(tokens, users)
	handler := NewTicketsHandler(svc)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).JSON(fiber.Map{
				"error": fiber.Map{"code": de.Code, "message": de.Message},
			})
		},
	})
	api := app.Group("/api/v1", authMW.Handle)
	api.Post("/tickets", handler.Create)
	api.Get("/tickets", handler.List)
	api.Get("/tickets/:id", handler.Get)
	api.Post("/tickets/:id/close", handler.Close)
	api.Get("/references", handler.SearchReferences)

	return &ticketsFixture{
		app:       app,
		tokens:    tokens,
		employee:  employee,
		colleague: colleague,
		manager:   manager,
	}
}

func (f *ticketsFixture) tokenFor(t *testing.T, user *domain.User) string {
	t.Helper()
	token, _, err := f.tokens.GenerateToken(user.ID, user.Role)
	require.NoError(t, err)
	return token
}

func (f *ticketsFixture) do(t *testing.T, method, path, token string, payload any) (int, map[string]any) {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	decoded := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestCreateTicketReturnsDetail(t *testing.T) {
	f := newTicketsFixture(t)
	token := f.tokenFor(t, f.employee)

	status, body := f.do(t, http.MethodPost, "/api/v1/tickets", token, map[string]any{
		"subject":           "Payment status for INV-100",
		"description":       "Has this been paid?",
		"subject_reference": "INV-100",
	})

	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "OPEN", body["status"])
	assert.Equal(t, "INV-100", body["subject_reference"])
	assert.Equal(t, f.employee.ID, body["requestor_id"])
	assert.Regexp(t, `^QRY-[0-9A-F]{8}$`, body["external_key"])
	assert.Len(t, body["history"], 1)
}

func TestCreateTicketWithoutReference(t *testing.T) {
	f := newTicketsFixture(t)
	token := f.tokenFor(t, f.employee)

	status, body := f.do(t, http.MethodPost, "/api/v1/tickets", token, map[string]any{
		"subject": "General question about vendor onboarding",
	})

	require.Equal(t, http.StatusCreated, status)
	_, present := body["subject_reference"]
	assert.False(t, present, "empty reference must be omitted from the payload")
}

func TestCreateGetCloseRoundTrip(t *testing.T) {
	f := newTicketsFixture(t)
	token := f.tokenFor(t, f.employee)

	status, created := f.do(t, http.MethodPost, "/api/v1/tickets", token, map[string]any{
		"subject":           "Copy of invoice INV-100",
		"subject_reference": "INV-100",
	})
	require.Equal(t, http.StatusCreated, status)
	id := created["id"].(string)

	status, fetched := f.do(t, http.MethodGet, "/api/v1/tickets/"+id, token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created["external_key"], fetched["external_key"])
	assert.Equal(t, "INV-100", fetched["subject_reference"])

	status, closed := f.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/close", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CLOSED", closed["status"])
	assert.NotEmpty(t, closed["closed_at"])
	assert.Len(t, closed["history"], 2)
}

func TestGetTicketDeniedForColleague(t *testing.T) {
	f := newTicketsFixture(t)

	status, created := f.do(t, http.MethodPost, "/api/v1/tickets", f.tokenFor(t, f.employee), map[string]any{
		"subject": "Refund for INV-100",
	})
	require.Equal(t, http.StatusCreated, status)
	id := created["id"].(string)

	status, body := f.do(t, http.MethodGet, "/api/v1/tickets/"+id, f.tokenFor(t, f.colleague), nil)
	assert.Equal(t, http.StatusForbidden, status)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "FORBIDDEN", errObj["code"])
}

func TestListTicketsScopedToRequestor(t *testing.T) {
	f := newTicketsFixture(t)

	for _, sub := range []string{"first question", "second question"} {
		status, _ := f.do(t, http.MethodPost, "/api/v1/tickets", f.tokenFor(t, f.employee), map[string]any{
			"subject": sub,
		})
		require.Equal(t, http.StatusCreated, status)
	}
	status, _ := f.do(t, http.MethodPost, "/api/v1/tickets", f.tokenFor(t, f.colleague), map[string]any{
		"subject": "colleague question",
	})
	require.Equal(t, http.StatusCreated, status)

	status, body := f.do(t, http.MethodGet, "/api/v1/tickets", f.tokenFor(t, f.employee), nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["count"])

	status, body = f.do(t, http.MethodGet, "/api/v1/tickets", f.tokenFor(t, f.manager), nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["count"])
}

func TestListTicketsRejectsUnknownStatus(t *testing.T) {
	f := newTicketsFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/v1/tickets?status=BOGUS", f.tokenFor(t, f.employee), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_FAILED", errObj["code"])
}

func TestCreateTicketRequiresSubject(t *testing.T) {
	f := newTicketsFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/v1/tickets", f.tokenFor(t, f.employee), map[string]any{
		"subject": "   ",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_FAILED", errObj["code"])
}

func TestTicketEndpointsRequireAuth(t *testing.T) {
	f := newTicketsFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/v1/tickets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "UNAUTHORIZED", errObj["code"])
}

func TestSearchReferencesByIdentifier(t *testing.T) {
	f := newTicketsFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/v1/references?identifier=INV-100", f.tokenFor(t, f.employee), nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])
	items := body["items"].([]any)
	record := items[0].(map[string]any)
	assert.Equal(t, "INV-100", record["identifier"])
	assert.Equal(t, "PAID", record["payment_status"])
}
