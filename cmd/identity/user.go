package identity

import (
	"strings"
	"time"
)

// User is parley's canonical security principal.
//
// The aggregate exclusively owns both token ledgers: no other component holds
// or caches tokens beyond the transient copy used during a single
// authentication check. Ledger mutations are applied as read-modify-write of
// the whole record; two concurrent mutations against the same user race at
// the application level and the last writer wins. That weak-consistency
// boundary is accepted, not a serializability guarantee.
type User struct {
	ID        string
	FirstName string
	LastName  string

	// EmailCiphertext is the sealed address; plaintext is never persisted.
	// EmailDigest is the deterministic equality key used for lookup.
	EmailCiphertext string
	EmailDigest     string

	PasswordHash string

	IsActive  bool
	LastLogin *time.Time

	ValidTokens       []TokenGrant
	BlacklistedTokens []RevokedToken

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenGrant is an issued, not-yet-revoked session credential.
// ExpiresAt is always set; entries at or past it are logically dead and must
// be treated as absent by every read path even while physically present.
type TokenGrant struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RevokedToken is a token string revoked ahead of its natural expiry.
// Once listed here the token is permanently invalid for this user, regardless
// of what the valid ledger says.
type RevokedToken struct {
	Token         string    `json:"token"`
	BlacklistedAt time.Time `json:"blacklistedAt"`
}

// FullName returns the display name used in chat greetings.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// PurgeExpiredTokens drops dead entries from the valid ledger.
// This is the lazy cleanup path; there is no background sweep.
// It reports whether the ledger changed so callers know to persist.
func (u *User) PurgeExpiredTokens(now time.Time) bool {
	kept := u.ValidTokens[:0]
	for _, g := range u.ValidTokens {
		if g.ExpiresAt.After(now) {
			kept = append(kept, g)
		}
	}
	changed := len(kept) != len(u.ValidTokens)
	u.ValidTokens = kept
	return changed
}

// GrantToken purges expired entries, then appends a fresh grant.
func (u *User) GrantToken(token string, issuedAt, expiresAt time.Time) {
	u.PurgeExpiredTokens(issuedAt)
	u.ValidTokens = append(u.ValidTokens, TokenGrant{
		Token:     token,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	})
}

// IsBlacklisted reports whether token appears in the blacklist ledger.
func (u *User) IsBlacklisted(token string) bool {
	for _, r := range u.BlacklistedTokens {
		if r.Token == token {
			return true
		}
	}
	return false
}

// RevokeToken atomically moves token from the valid ledger to the blacklist.
// The blacklist append is idempotent. Reports whether anything changed.
func (u *User) RevokeToken(token string, now time.Time) bool {
	changed := false

	kept := u.ValidTokens[:0]
	for _, g := range u.ValidTokens {
		if g.Token == token {
			changed = true
			continue
		}
		kept = append(kept, g)
	}
	u.ValidTokens = kept

	if !u.IsBlacklisted(token) {
		u.BlacklistedTokens = append(u.BlacklistedTokens, RevokedToken{
			Token:         token,
			BlacklistedAt: now,
		})
		changed = true
	}

	return changed
}

// RevokeAllTokens moves every valid entry into the blacklist (deduplicated)
// and empties the valid ledger. Calling it twice in a row is a no-op the
// second time.
func (u *User) RevokeAllTokens(now time.Time) bool {
	changed := false

	for _, g := range u.ValidTokens {
		if u.IsBlacklisted(g.Token) {
			continue
		}
		u.BlacklistedTokens = append(u.BlacklistedTokens, RevokedToken{
			Token:         g.Token,
			BlacklistedAt: now,
		})
		changed = true
	}

	if len(u.ValidTokens) > 0 {
		u.ValidTokens = nil
		changed = true
	}

	return changed
}

// TokenValid reports whether token is usable right now: not blacklisted, and
// present in the valid ledger with an unexpired grant. Unknown tokens are
// simply invalid, never an error.
//
// It purges expired entries first and reports via purged whether the ledger
// changed, so the caller can persist the lazy cleanup.
func (u *User) TokenValid(token string, now time.Time) (valid bool, purged bool) {
	if u.IsBlacklisted(token) {
		return false, false
	}

	purged = u.PurgeExpiredTokens(now)

	for _, g := range u.ValidTokens {
		if g.Token == token && g.ExpiresAt.After(now) {
			return true, purged
		}
	}
	return false, purged
}

// PruneBlacklist drops blacklist entries older than retainFor.
//
// Retention decision: a blacklist entry only matters while its original token
// could still verify, so entries far past any issuable token lifetime are
// safe to drop. retainFor must stay comfortably above the issuer's maximum
// TTL; zero disables pruning entirely.
func (u *User) PruneBlacklist(now time.Time, retainFor time.Duration) bool {
	if retainFor <= 0 {
		return false
	}

	cutoff := now.Add(-retainFor)
	kept := u.BlacklistedTokens[:0]
	for _, r := range u.BlacklistedTokens {
		if r.BlacklistedAt.After(cutoff) {
			kept = append(kept, r)
		}
	}
	changed := len(kept) != len(u.BlacklistedTokens)
	u.BlacklistedTokens = kept
	return changed
}

// Clone returns a deep copy so callers can mutate ledgers without sharing
// slices with store internals.
func (u *User) Clone() User {
	out := *u
	if u.LastLogin != nil {
		ll := *u.LastLogin
		out.LastLogin = &ll
	}
	out.ValidTokens = append([]TokenGrant(nil), u.ValidTokens...)
	out.BlacklistedTokens = append([]RevokedToken(nil), u.BlacklistedTokens...)
	return out
}
