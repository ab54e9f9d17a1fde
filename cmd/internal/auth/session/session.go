// Package session decides whether a presented access token still names a
// live session.
//
// The decision is two-phase. Phase one is cryptographic: the token package
// proves the server minted the token and it has not expired. Phase two is
// authoritative: the credential store's ledgers decide whether the grant is
// still honored. A token can pass phase one and fail phase two — after a
// logout, a logout-all, or an account deactivation — and it is phase two
// that wins.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/token"
)

// Rejection sentinels. Every non-storage failure below maps onto exactly one
// of these, so transports can translate without string matching.
var (
	ErrMissingToken       = errors.New("session: missing token")
	ErrTokenInvalid       = errors.New("session: token invalid")
	ErrTokenExpired       = errors.New("session: token expired")
	ErrTokenRevoked       = errors.New("session: token revoked")
	ErrUserNotFound       = errors.New("session: user not found")
	ErrAccountDeactivated = errors.New("session: account deactivated")
)

// IsRejection reports whether err is an authentication rejection (a 401-class
// outcome) as opposed to an infrastructure failure (a 500-class outcome).
func IsRejection(err error) bool {
	for _, sentinel := range []error{
		ErrMissingToken, ErrTokenInvalid, ErrTokenExpired,
		ErrTokenRevoked, ErrUserNotFound, ErrAccountDeactivated,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// Code returns the stable rejection code for err, used as the error query
// parameter on web redirects. Unknown errors code as "invalid".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing-token"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenRevoked):
		return "token-revoked"
	case errors.Is(err, ErrUserNotFound):
		return "user-not-found"
	case errors.Is(err, ErrAccountDeactivated):
		return "account-deactivated"
	default:
		return "invalid"
	}
}

// Verifier is the cryptographic half of the check.
type Verifier interface {
	Verify(raw string, now time.Time) (token.Claims, error)
}

// UserSource is the authoritative half: user lookup plus ledger membership.
type UserSource interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
	IsTokenValid(ctx context.Context, id, tok string) (bool, error)
}

// Authority performs the full two-phase session check.
type Authority struct {
	tokens Verifier
	users  UserSource
	now    func() time.Time
}

// New builds an Authority over a token verifier and a credential store.
func New(tokens Verifier, users UserSource) (*Authority, error) {
	if tokens == nil {
		return nil, fmt.Errorf("session: nil verifier")
	}
	if users == nil {
		return nil, fmt.Errorf("session: nil user source")
	}
	return &Authority{tokens: tokens, users: users, now: time.Now}, nil
}

// Authenticate validates raw end to end and returns the session's user.
//
// The order is fixed: signature and expiry first (cheap, no I/O), then user
// existence, then the active flag, then ledger membership. Storage failures
// pass through unmapped so callers answer 500, never a misleading 401.
func (a *Authority) Authenticate(ctx context.Context, raw string) (identity.User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return identity.User{}, ErrMissingToken
	}

	now := a.now().UTC()

	claims, err := a.tokens.Verify(raw, now)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return identity.User{}, ErrTokenExpired
		}
		return identity.User{}, ErrTokenInvalid
	}

	u, err := a.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, ErrUserNotFound
		}
		return identity.User{}, err
	}

	if !u.IsActive {
		return identity.User{}, ErrAccountDeactivated
	}

	ok, err := a.users.IsTokenValid(ctx, u.ID, raw)
	if err != nil {
		return identity.User{}, err
	}
	if !ok {
		return identity.User{}, ErrTokenRevoked
	}

	return u, nil
}
