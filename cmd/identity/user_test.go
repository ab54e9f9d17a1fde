package identity

import (
	"testing"
	"time"
)

func grant(token string, issued, expires time.Time) TokenGrant {
	return TokenGrant{Token: token, IssuedAt: issued, ExpiresAt: expires}
}

func TestPurgeExpiredTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	u := User{ValidTokens: []TokenGrant{
		grant("dead", now.Add(-48*time.Hour), now.Add(-time.Hour)),
		grant("live", now.Add(-time.Hour), now.Add(time.Hour)),
		grant("edge", now.Add(-24*time.Hour), now), // expiry == now is dead
	}}

	if !u.PurgeExpiredTokens(now) {
		t.Fatal("expected purge to report a change")
	}
	if len(u.ValidTokens) != 1 || u.ValidTokens[0].Token != "live" {
		t.Fatalf("valid ledger after purge = %+v", u.ValidTokens)
	}
	if u.PurgeExpiredTokens(now) {
		t.Fatal("second purge should be a no-op")
	}
}

func TestRevokeTokenMovesBetweenLedgers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	u := User{ValidTokens: []TokenGrant{
		grant("a", now.Add(-time.Hour), now.Add(time.Hour)),
		grant("b", now.Add(-time.Hour), now.Add(time.Hour)),
	}}

	if !u.RevokeToken("a", now) {
		t.Fatal("expected revoke to report a change")
	}
	if len(u.ValidTokens) != 1 || u.ValidTokens[0].Token != "b" {
		t.Fatalf("valid ledger = %+v", u.ValidTokens)
	}
	if !u.IsBlacklisted("a") {
		t.Fatal("revoked token missing from blacklist")
	}

	// Revoking again must not duplicate the blacklist entry.
	u.RevokeToken("a", now.Add(time.Minute))
	if len(u.BlacklistedTokens) != 1 {
		t.Fatalf("blacklist grew on repeat revoke: %+v", u.BlacklistedTokens)
	}
}

func TestRevokeUnknownTokenStillBlacklists(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var u User
	if !u.RevokeToken("never-granted", now) {
		t.Fatal("expected blacklist append for unknown token")
	}
	if !u.IsBlacklisted("never-granted") {
		t.Fatal("unknown token not blacklisted")
	}
}

func TestRevokeAllTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	u := User{
		ValidTokens: []TokenGrant{
			grant("a", now.Add(-time.Hour), now.Add(time.Hour)),
			grant("b", now.Add(-time.Hour), now.Add(2*time.Hour)),
		},
		BlacklistedTokens: []RevokedToken{{Token: "a", BlacklistedAt: now.Add(-time.Minute)}},
	}

	if !u.RevokeAllTokens(now) {
		t.Fatal("expected change")
	}
	if len(u.ValidTokens) != 0 {
		t.Fatalf("valid ledger not emptied: %+v", u.ValidTokens)
	}
	// "a" was already blacklisted; it must not appear twice.
	if len(u.BlacklistedTokens) != 2 {
		t.Fatalf("blacklist = %+v", u.BlacklistedTokens)
	}

	if u.RevokeAllTokens(now) {
		t.Fatal("revoke-all on empty ledger should be a no-op")
	}
}

func TestTokenValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		user       User
		token      string
		wantValid  bool
		wantPurged bool
	}{
		{
			name: "live membership",
			user: User{ValidTokens: []TokenGrant{
				grant("tok", now.Add(-time.Hour), now.Add(time.Hour)),
			}},
			token:     "tok",
			wantValid: true,
		},
		{
			name:      "unknown token",
			user:      User{},
			token:     "tok",
			wantValid: false,
		},
		{
			name: "expired grant purged",
			user: User{ValidTokens: []TokenGrant{
				grant("tok", now.Add(-48*time.Hour), now.Add(-time.Hour)),
			}},
			token:      "tok",
			wantValid:  false,
			wantPurged: true,
		},
		{
			name: "blacklist wins over live grant",
			user: User{
				ValidTokens: []TokenGrant{
					grant("tok", now.Add(-time.Hour), now.Add(time.Hour)),
				},
				BlacklistedTokens: []RevokedToken{{Token: "tok", BlacklistedAt: now.Add(-time.Minute)}},
			},
			token:     "tok",
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.user
			valid, purged := u.TokenValid(tt.token, now)
			if valid != tt.wantValid {
				t.Errorf("valid = %v, want %v", valid, tt.wantValid)
			}
			if purged != tt.wantPurged {
				t.Errorf("purged = %v, want %v", purged, tt.wantPurged)
			}
		})
	}
}

func TestPruneBlacklist(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	retain := 90 * 24 * time.Hour

	u := User{BlacklistedTokens: []RevokedToken{
		{Token: "ancient", BlacklistedAt: now.Add(-retain - time.Hour)},
		{Token: "recent", BlacklistedAt: now.Add(-time.Hour)},
	}}

	if !u.PruneBlacklist(now, retain) {
		t.Fatal("expected prune to report a change")
	}
	if len(u.BlacklistedTokens) != 1 || u.BlacklistedTokens[0].Token != "recent" {
		t.Fatalf("blacklist after prune = %+v", u.BlacklistedTokens)
	}

	// Zero retention disables pruning entirely.
	u.BlacklistedTokens = append(u.BlacklistedTokens,
		RevokedToken{Token: "ancient2", BlacklistedAt: now.Add(-400 * 24 * time.Hour)})
	if u.PruneBlacklist(now, 0) {
		t.Fatal("zero retention must not prune")
	}
}

func TestFullName(t *testing.T) {
	u := User{FirstName: "Ada", LastName: "Lovelace"}
	if got := u.FullName(); got != "Ada Lovelace" {
		t.Fatalf("FullName() = %q", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	u := &User{
		ID:                "u1",
		LastLogin:         &now,
		ValidTokens:       []TokenGrant{grant("tok", now, now.Add(time.Hour))},
		BlacklistedTokens: []RevokedToken{{Token: "old", BlacklistedAt: now}},
	}

	c := u.Clone()
	c.ValidTokens[0].Token = "mutated"
	c.BlacklistedTokens[0].Token = "mutated"
	*c.LastLogin = now.Add(time.Hour)

	if u.ValidTokens[0].Token != "tok" {
		t.Fatal("clone shares valid ledger backing array")
	}
	if u.BlacklistedTokens[0].Token != "old" {
		t.Fatal("clone shares blacklist backing array")
	}
	if !u.LastLogin.Equal(now) {
		t.Fatal("clone shares LastLogin pointer")
	}
}
