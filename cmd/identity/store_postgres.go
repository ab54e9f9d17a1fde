package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/security/emailcrypto"
)

// PostgresStore implements credential persistence over PostgreSQL.
//
// The users table is treated as a document store: the token ledgers live in
// jsonb columns and every ledger mutation is a read-modify-write of the whole
// record. No storage-level array operations are assumed, so two concurrent
// mutations against the same user are last-writer-wins on the full document.
//
// Expected schema (managed externally, not by this store):
//
//	CREATE TABLE parley.users (
//	    id                 text PRIMARY KEY,
//	    first_name         text NOT NULL,
//	    last_name          text NOT NULL,
//	    email_ciphertext   text NOT NULL,
//	    email_digest       text NOT NULL UNIQUE,
//	    password_hash      text NOT NULL,
//	    is_active          boolean NOT NULL DEFAULT true,
//	    last_login         timestamptz,
//	    valid_tokens       jsonb NOT NULL DEFAULT '[]'::jsonb,
//	    blacklisted_tokens jsonb NOT NULL DEFAULT '[]'::jsonb,
//	    created_at         timestamptz NOT NULL,
//	    updated_at         timestamptz NOT NULL
//	);
//
// Lookup by email goes through email_digest only; email_ciphertext is opaque
// to every query.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string

	crypto             *emailcrypto.Crypto
	bcryptCost         int
	blacklistRetention time.Duration
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "parley").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) PostgresOption {
	return func(s *PostgresStore) error {
		s.bcryptCost = cost
		return nil
	}
}

// WithBlacklistRetention overrides blacklist pruning; zero disables it.
func WithBlacklistRetention(d time.Duration) PostgresOption {
	return func(s *PostgresStore) error {
		s.blacklistRetention = d
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore. The pool is owned by the
// caller; this store must not close it.
func NewPostgresStore(pool *pgxpool.Pool, crypto *emailcrypto.Crypto, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	if crypto == nil {
		return nil, fmt.Errorf("identity: nil crypto")
	}

	s := &PostgresStore{
		pool:               pool,
		schema:             "parley",
		crypto:             crypto,
		bcryptCost:         BcryptCostFromEnv(),
		blacklistRetention: defaultBlacklistRetention,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PostgresStore) usersTable() string {
	return fmt.Sprintf("%q.%q", s.schema, "users")
}

const userColumns = `id, first_name, last_name, email_ciphertext, email_digest,
password_hash, is_active, last_login, valid_tokens, blacklisted_tokens,
created_at, updated_at`

// CreateUser validates, seals, hashes, and inserts a new user row.
// Digest uniqueness is enforced by the database; a duplicate surfaces as
// ErrConflict regardless of which writer loses the race.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	u, err := buildUser(op, in, s.crypto, s.bcryptCost)
	if err != nil {
		return User{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.usersTable()+` (
		     id, first_name, last_name, email_ciphertext, email_digest,
		     password_hash, is_active, last_login, valid_tokens, blacklisted_tokens,
		     created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, '[]'::jsonb, '[]'::jsonb, $8, $8)`,
		u.ID, u.FirstName, u.LastName, u.EmailCiphertext, u.EmailDigest,
		u.PasswordHash, u.IsActive, u.CreatedAt,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, storeFail(op, err)
	}

	return u, nil
}

// FindByEmail resolves a user by email digest.
func (s *PostgresStore) FindByEmail(ctx context.Context, plainEmail string) (User, error) {
	const op = "identity.FindByEmail"

	digest, err := s.crypto.SearchDigest(plainEmail)
	if err != nil {
		return User{}, invalid(op, "please enter a valid email address")
	}

	return s.selectUser(ctx, op, `email_digest = $1`, digest)
}

// FindByID resolves a user by id.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindByID"
	return s.selectUser(ctx, op, `id = $1`, id)
}

func (s *PostgresStore) selectUser(ctx context.Context, op, where string, arg any) (User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.usersTable()+` WHERE `+where, arg)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notFound(op)
		}
		return User{}, storeFail(op, err)
	}
	return u, nil
}

// UpdateProfile applies optional name changes and bumps updated_at.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (User, error) {
	const op = "identity.UpdateProfile"

	clean, err := validateProfileUpdate(op, upd)
	if err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.usersTable()+`
		    SET first_name = COALESCE($2, first_name),
		        last_name  = COALESCE($3, last_name),
		        updated_at = $4
		  WHERE id = $1
		  RETURNING `+userColumns,
		id, clean.FirstName, clean.LastName, now,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notFound(op)
		}
		return User{}, storeFail(op, err)
	}
	return u, nil
}

// TouchLastLogin records a successful login time.
func (s *PostgresStore) TouchLastLogin(ctx context.Context, id string, now time.Time) error {
	const op = "identity.TouchLastLogin"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.usersTable()+` SET last_login = $2, updated_at = $2 WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return storeFail(op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

// AddValidToken purges dead grants, appends the new one, and writes back.
func (s *PostgresStore) AddValidToken(ctx context.Context, id, token string, issuedAt, expiresAt time.Time) error {
	const op = "identity.AddValidToken"

	if token == "" {
		return invalid(op, "missing token")
	}
	if expiresAt.IsZero() {
		return invalid(op, "missing expiry")
	}

	return s.mutateLedgers(ctx, op, id, func(u *User) bool {
		u.GrantToken(token, issuedAt, expiresAt)
		return true
	})
}

// BlacklistToken moves token from the valid ledger to the blacklist.
func (s *PostgresStore) BlacklistToken(ctx context.Context, id, token string) error {
	const op = "identity.BlacklistToken"

	if token == "" {
		return invalid(op, "missing token")
	}

	now := time.Now().UTC()
	return s.mutateLedgers(ctx, op, id, func(u *User) bool {
		changed := u.RevokeToken(token, now)
		if u.PruneBlacklist(now, s.blacklistRetention) {
			changed = true
		}
		return changed
	})
}

// IsTokenValid checks the blacklist, lazily purges, then checks membership.
// The purge is written back so a later ledger read no longer sees dead grants.
func (s *PostgresStore) IsTokenValid(ctx context.Context, id, token string) (bool, error) {
	const op = "identity.IsTokenValid"

	u, err := s.selectUser(ctx, op, `id = $1`, id)
	if err != nil {
		return false, err
	}

	valid, purged := u.TokenValid(token, time.Now().UTC())
	if purged {
		if err := s.writeLedgers(ctx, op, &u); err != nil {
			return false, err
		}
	}
	return valid, nil
}

// LogoutAllDevices blacklists every valid grant and empties the valid ledger.
func (s *PostgresStore) LogoutAllDevices(ctx context.Context, id string) error {
	const op = "identity.LogoutAllDevices"

	now := time.Now().UTC()
	return s.mutateLedgers(ctx, op, id, func(u *User) bool {
		changed := u.RevokeAllTokens(now)
		if u.PruneBlacklist(now, s.blacklistRetention) {
			changed = true
		}
		return changed
	})
}

// Deactivate clears the active flag.
func (s *PostgresStore) Deactivate(ctx context.Context, id string) error {
	const op = "identity.Deactivate"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.usersTable()+` SET is_active = false, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return storeFail(op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

// mutateLedgers runs one read-modify-write cycle over a user's token ledgers.
// fn reports whether anything changed; unchanged documents are not rewritten.
func (s *PostgresStore) mutateLedgers(ctx context.Context, op, id string, fn func(*User) bool) error {
	u, err := s.selectUser(ctx, op, `id = $1`, id)
	if err != nil {
		return err
	}

	if !fn(&u) {
		return nil
	}
	return s.writeLedgers(ctx, op, &u)
}

func (s *PostgresStore) writeLedgers(ctx context.Context, op string, u *User) error {
	validJSON, err := json.Marshal(u.ValidTokens)
	if err != nil {
		return storeFail(op, err)
	}
	blackJSON, err := json.Marshal(u.BlacklistedTokens)
	if err != nil {
		return storeFail(op, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.usersTable()+`
		    SET valid_tokens = $2::jsonb, blacklisted_tokens = $3::jsonb, updated_at = $4
		  WHERE id = $1`,
		u.ID, string(validJSON), string(blackJSON), time.Now().UTC(),
	)
	if err != nil {
		return storeFail(op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u         User
		validRaw  []byte
		blackRaw  []byte
		lastLogin *time.Time
	)

	err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.EmailCiphertext, &u.EmailDigest,
		&u.PasswordHash, &u.IsActive, &lastLogin, &validRaw, &blackRaw,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	u.LastLogin = lastLogin
	if len(validRaw) > 0 {
		if err := json.Unmarshal(validRaw, &u.ValidTokens); err != nil {
			return User{}, fmt.Errorf("decode valid_tokens: %w", err)
		}
	}
	if len(blackRaw) > 0 {
		if err := json.Unmarshal(blackRaw, &u.BlacklistedTokens); err != nil {
			return User{}, fmt.Errorf("decode blacklisted_tokens: %w", err)
		}
	}

	return u, nil
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
