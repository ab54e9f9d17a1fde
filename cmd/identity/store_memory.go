package identity

import (
	"context"
	"sync"
	"time"

	"parley/cmd/security/emailcrypto"
)

// defaultBlacklistRetention keeps revoked tokens well past any issuable token
// lifetime before lazy pruning. See User.PruneBlacklist.
const defaultBlacklistRetention = 90 * 24 * time.Hour

// MemoryStore is the dev/test fallback when no database is configured.
// It keeps whole user documents under a single mutex, which makes the
// read-modify-write ledger semantics trivially last-writer-wins — the same
// boundary the Postgres store has.
type MemoryStore struct {
	mu sync.Mutex

	crypto             *emailcrypto.Crypto
	bcryptCost         int
	blacklistRetention time.Duration

	byID     map[string]*User
	byDigest map[string]string // email digest -> user id
}

// MemoryOption configures the store.
type MemoryOption func(*MemoryStore)

// WithMemoryBcryptCost overrides the hashing cost (tests use the bcrypt
// minimum to stay fast).
func WithMemoryBcryptCost(cost int) MemoryOption {
	return func(s *MemoryStore) { s.bcryptCost = cost }
}

// WithMemoryBlacklistRetention overrides blacklist pruning; zero disables it.
func WithMemoryBlacklistRetention(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.blacklistRetention = d }
}

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore(crypto *emailcrypto.Crypto, opts ...MemoryOption) (*MemoryStore, error) {
	if crypto == nil {
		return nil, invalid("identity.NewMemoryStore", "nil crypto")
	}

	s := &MemoryStore{
		crypto:             crypto,
		bcryptCost:         BcryptCostFromEnv(),
		blacklistRetention: defaultBlacklistRetention,
		byID:               make(map[string]*User),
		byDigest:           make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// CreateUser validates, seals, hashes, and stores a new user document.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, storeFail(op, err)
	}

	u, err := buildUser(op, in, s.crypto, s.bcryptCost)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byDigest[u.EmailDigest]; exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	stored := u.Clone()
	s.byID[u.ID] = &stored
	s.byDigest[u.EmailDigest] = u.ID

	return u, nil
}

// FindByEmail resolves a user via the email digest. Never decrypt-scans.
func (s *MemoryStore) FindByEmail(ctx context.Context, plainEmail string) (User, error) {
	const op = "identity.FindByEmail"

	if err := ctx.Err(); err != nil {
		return User{}, storeFail(op, err)
	}

	digest, err := s.crypto.SearchDigest(plainEmail)
	if err != nil {
		return User{}, invalid(op, "please enter a valid email address")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return User{}, notFound(op)
	}
	return s.byID[id].Clone(), nil
}

// FindByID resolves a user by id.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindByID"

	if err := ctx.Err(); err != nil {
		return User{}, storeFail(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, notFound(op)
	}
	return u.Clone(), nil
}

// UpdateProfile applies optional name changes and bumps UpdatedAt.
func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (User, error) {
	const op = "identity.UpdateProfile"

	if err := ctx.Err(); err != nil {
		return User{}, storeFail(op, err)
	}

	clean, err := validateProfileUpdate(op, upd)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, notFound(op)
	}

	if clean.FirstName != nil {
		u.FirstName = *clean.FirstName
	}
	if clean.LastName != nil {
		u.LastName = *clean.LastName
	}
	u.UpdatedAt = time.Now().UTC()

	return u.Clone(), nil
}

// TouchLastLogin records a successful login time.
func (s *MemoryStore) TouchLastLogin(ctx context.Context, id string, now time.Time) error {
	const op = "identity.TouchLastLogin"

	if err := ctx.Err(); err != nil {
		return storeFail(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}

	ll := now
	u.LastLogin = &ll
	u.UpdatedAt = now
	return nil
}

// AddValidToken purges dead grants, appends the new one, and persists.
func (s *MemoryStore) AddValidToken(ctx context.Context, id, token string, issuedAt, expiresAt time.Time) error {
	const op = "identity.AddValidToken"

	if err := ctx.Err(); err != nil {
		return storeFail(op, err)
	}
	if token == "" {
		return invalid(op, "missing token")
	}
	if expiresAt.IsZero() {
		return invalid(op, "missing expiry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}

	u.GrantToken(token, issuedAt, expiresAt)
	u.UpdatedAt = issuedAt
	return nil
}

// BlacklistToken moves token from the valid ledger to the blacklist.
func (s *MemoryStore) BlacklistToken(ctx context.Context, id, token string) error {
	const op = "identity.BlacklistToken"

	if err := ctx.Err(); err != nil {
		return storeFail(op, err)
	}
	if token == "" {
		return invalid(op, "missing token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}

	now := time.Now().UTC()
	u.RevokeToken(token, now)
	u.PruneBlacklist(now, s.blacklistRetention)
	u.UpdatedAt = now
	return nil
}

// IsTokenValid checks the blacklist, lazily purges, then checks membership.
func (s *MemoryStore) IsTokenValid(ctx context.Context, id, token string) (bool, error) {
	const op = "identity.IsTokenValid"

	if err := ctx.Err(); err != nil {
		return false, storeFail(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return false, notFound(op)
	}

	valid, _ := u.TokenValid(token, time.Now().UTC())
	return valid, nil
}

// LogoutAllDevices blacklists every valid grant and empties the valid ledger.
func (s *MemoryStore) LogoutAllDevices(ctx context.Context, id string) error {
	const op = "identity.LogoutAllDevices"

	if err := ctx.Err(); err != nil {
		return storeFail(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}

	now := time.Now().UTC()
	u.RevokeAllTokens(now)
	u.PruneBlacklist(now, s.blacklistRetention)
	u.UpdatedAt = now
	return nil
}

// Deactivate clears the active flag.
func (s *MemoryStore) Deactivate(ctx context.Context, id string) error {
	const op = "identity.Deactivate"

	if err := ctx.Err(); err != nil {
		return storeFail(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}

	u.IsActive = false
	u.UpdatedAt = time.Now().UTC()
	return nil
}

var _ Store = (*MemoryStore)(nil)
