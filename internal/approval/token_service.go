package approval

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/query-management/internal/config"
	apperrors "github.com/spec-kit/query-management/pkg/util"
)

// Action enumerates what an approval link authorizes.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Grant is the verified content of an approval token. Tokens are stateless:
// a grant says nothing about whether the ticket is still pending, that guard
// belongs to the lifecycle engine.
type Grant struct {
	TicketID string
	Action   Action
	IssuedAt time.Time
}

type tokenClaims struct {
	TicketID string `json:"ticket_id"`
	Action   Action `json:"action"`
	jwt.RegisteredClaims
}

// TokenService mints and validates signed, time-bound approval tokens for
// out-of-band manager actions.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService builds the service from approval configuration.
func NewTokenService(cfg config.ApprovalConfig) *TokenService {
	return &TokenService{secret: []byte(cfg.Secret), ttl: cfg.TTL()}
}

// Issue signs a token authorizing the action on the ticket. A non-positive
// ttl falls back to the configured default.
func (s *TokenService) Issue(ticketID string, action Action, ttl time.Duration) (string, time.Time, error) {
	if action != ActionApprove && action != ActionReject {
		return "", time.Time{}, errors.New("unknown approval action")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := &tokenClaims{
		TicketID: ticketID,
		Action:   action,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ticketID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify validates the signature and expiry and returns the grant. Expired
// tokens fail with TOKEN_EXPIRED, anything else that does not parse fails
// with TOKEN_MALFORMED. Whether the referenced ticket still exists is checked
// by the caller against the record store.
func (s *TokenService) Verify(tokenStr string) (*Grant, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.NewTokenExpired()
		}
		return nil, apperrors.NewTokenMalformed(err)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, apperrors.NewTokenMalformed(errors.New("invalid token claims"))
	}
	if claims.TicketID == "" {
		return nil, apperrors.NewTokenMalformed(errors.New("missing ticket id"))
	}
	if claims.Action != ActionApprove && claims.Action != ActionReject {
		return nil, apperrors.NewTokenMalformed(errors.New("unknown approval action"))
	}

	grant := &Grant{TicketID: claims.TicketID, Action: claims.Action}
	if claims.IssuedAt != nil {
		grant.IssuedAt = claims.IssuedAt.Time
	}
	return grant, nil
}
