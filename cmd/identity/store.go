package identity

import (
	"context"
	"time"
)

// Field bounds enforced at signup and profile update.
const (
	MaxNameLen    = 50
	MinPasswordLen = 8
)

// CreateUserInput describes a signup request.
// Email arrives in plaintext; the store seals and digests it before persisting.
type CreateUserInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Now       time.Time
}

// ProfileUpdate carries optional profile field changes.
// Nil means "leave unchanged".
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
}

// Store is the credential persistence boundary.
//
// Every operation is fallible on the underlying storage layer; such failures
// satisfy errors.Is(err, ErrStorage) and are never reported as ErrNotFound or
// as a token being invalid.
type Store interface {
	// CreateUser validates, seals the email, hashes the password, and
	// persists a new user. At most one user may exist per email digest;
	// a second signup with the same normalized email fails with ErrConflict.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// FindByEmail resolves a user by the digest of the normalized address.
	// It never scans rows decrypting emails.
	FindByEmail(ctx context.Context, plainEmail string) (User, error)

	// FindByID resolves a user by id.
	FindByID(ctx context.Context, id string) (User, error)

	// UpdateProfile applies the given field changes and bumps UpdatedAt.
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (User, error)

	// TouchLastLogin records a successful login time.
	TouchLastLogin(ctx context.Context, id string, now time.Time) error

	// AddValidToken purges expired grants then appends token to the user's
	// valid ledger, persisting the result.
	AddValidToken(ctx context.Context, id, token string, issuedAt, expiresAt time.Time) error

	// BlacklistToken moves token from the valid ledger to the blacklist
	// (idempotent on the blacklist side) and persists.
	BlacklistToken(ctx context.Context, id, token string) error

	// IsTokenValid reports whether token is currently usable for the user:
	// false immediately when blacklisted, otherwise true iff an unexpired
	// grant exists after lazy purge. The purge is persisted.
	IsTokenValid(ctx context.Context, id, token string) (bool, error)

	// LogoutAllDevices moves every valid grant into the blacklist and
	// empties the valid ledger. Idempotent.
	LogoutAllDevices(ctx context.Context, id string) error

	// Deactivate clears the active flag. Users are never hard-deleted here.
	Deactivate(ctx context.Context, id string) error
}
