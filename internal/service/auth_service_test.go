package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/query-management/internal/config"
	"github.com/spec-kit/query-management/internal/domain"
	"github.com/spec-kit/query-management/internal/repository"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

func newAuthService() (*AuthService, *repository.MemoryUserRepository) {
	users := repository.NewMemoryUserRepository()
	cfg := config.Config{
		Auth: config.AuthConfig{
			JWTSecret:             "test-secret",
			AccessTokenTTLMinutes: 30,
			BcryptCost:            4, // minimum cost keeps the test fast
		},
	}
	return NewAuthService(cfg, users), users
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newAuthService()

	user, token, _, err := svc.Register(context.Background(), "Riley", "riley@example.com", "hunter2hunter2", domain.TeamAccountsPayable)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, domain.RoleEmployee, user.Role)
	assert.Equal(t, domain.TeamAccountsPayable, user.Team)
	assert.NotEqual(t, "hunter2hunter2", user.PasswordHash)

	loggedIn, token, _, err := svc.Login(context.Background(), "riley@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)

	claims, err := svc.TokenManager().ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, domain.RoleEmployee, claims.Role)
}

func TestRegisterDefaultsToGeneralTeam(t *testing.T) {
	svc, _ := newAuthService()

	user, _, _, err := svc.Register(context.Background(), "Riley", "riley@example.com", "hunter2hunter2", "")
	require.NoError(t, err)
	assert.Equal(t, domain.TeamGeneral, user.Team)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newAuthService()

	_, _, _, err := svc.Register(context.Background(), "Riley", "riley@example.com", "hunter2hunter2", "")
	require.NoError(t, err)

	_, _, _, err = svc.Register(context.Background(), "Other", "riley@example.com", "hunter2hunter2", "")
	assert.True(t, apperrors.IsCode(err, "CONFLICT"))
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newAuthService()

	_, _, _, err := svc.Register(context.Background(), "Riley", "riley@example.com", "hunter2hunter2", "")
	require.NoError(t, err)

	_, _, _, err = svc.Login(context.Background(), "riley@example.com", "wrong")
	assert.True(t, apperrors.IsCode(err, "UNAUTHORIZED"))
}

func TestLoginUnknownEmail(t *testing.T) {
	svc, _ := newAuthService()

	_, _, _, err := svc.Login(context.Background(), "nobody@example.com", "whatever")
	assert.True(t, apperrors.IsCode(err, "UNAUTHORIZED"))
}

func TestLoginSuspendedAccount(t *testing.T) {
	svc, users := newAuthService()

	user, _, _, err := svc.Register(context.Background(), "Riley", "riley@example.com", "hunter2hunter2", "")
	require.NoError(t, err)

	stored, err := users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	stored.Status = domain.UserStatusSuspended
	require.NoError(t, users.Update(context.Background(), stored))

	_, _, _, err = svc.Login(context.Background(), "riley@example.com", "hunter2hunter2")
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))
}
