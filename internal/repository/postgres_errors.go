package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/spec-kit/query-management/pkg/util"
)

const uniqueViolationCode = "23505"

// translateError maps driver-level errors onto the application error codes the
// service layer matches on. Unmapped errors pass through unchanged.
func translateError(err error, resource string, details map[string]any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, details)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return apperrors.NewConflict(resource+" already exists", details)
	}
	return err
}
