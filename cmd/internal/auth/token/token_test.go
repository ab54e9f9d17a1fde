package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	m, err := New("0123456789abcdef0123456789abcdef", ttl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"24h", 24 * time.Hour},
		{"1h", time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"30d", 30 * 24 * time.Hour},
		{" 12h ", 12 * time.Hour},
		{"", DefaultTTL},
		{"90m", DefaultTTL},
		{"h", DefaultTTL},
		{"7dd", DefaultTTL},
		{"-3h", DefaultTTL},
		{"0h", DefaultTTL},
	}

	for _, tt := range tests {
		if got := ParseTTL(tt.in); got != tt.want {
			t.Errorf("ParseTTL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewRejectsShortSecret(t *testing.T) {
	if _, err := New("short", time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvSecret, "0123456789abcdef0123456789abcdef")
	t.Setenv(EnvTTL, "7d")

	m, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if m.TTL() != 7*24*time.Hour {
		t.Fatalf("TTL = %v, want 168h", m.TTL())
	}

	t.Setenv(EnvSecret, "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected hard failure without secret")
	}
}

func TestIssueAndVerify(t *testing.T) {
	m := newTestManager(t, time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, expiresAt, err := m.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expiresAt = %v, want %v", expiresAt, now.Add(time.Hour))
	}
	if strings.Count(raw, ".") != 2 {
		t.Fatalf("token does not look like a JWT: %q", raw)
	}

	claims, err := m.Verify(raw, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("UserID = %q", claims.UserID)
	}
	if !claims.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("claim expiry = %v, want %v", claims.ExpiresAt, expiresAt)
	}
}

func TestVerifyExpired(t *testing.T) {
	m := newTestManager(t, time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, _, err := m.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := m.Verify(raw, now.Add(2*time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	a := newTestManager(t, time.Hour)
	b, err := New("ffffffffffffffffffffffffffffffff", time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now := time.Now().UTC()
	raw, _, err := a.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := b.Verify(raw, now); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("err = %v, want ErrTokenMalformed", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := newTestManager(t, time.Hour)
	now := time.Now().UTC()

	for _, raw := range []string{"", "   ", "not-a-token", "a.b.c"} {
		if _, err := m.Verify(raw, now); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("Verify(%q) err = %v, want ErrTokenMalformed", raw, err)
		}
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	m := newTestManager(t, time.Hour)
	now := time.Now().UTC()

	raw, _, err := m.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(raw, ".")
	parts[1] = parts[1][:len(parts[1])-2] + "xx"
	tampered := strings.Join(parts, ".")

	if _, err := m.Verify(tampered, now); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("err = %v, want ErrTokenMalformed", err)
	}
}
