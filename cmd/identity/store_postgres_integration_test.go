package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/security/emailcrypto"
)

// Integration tests for the Postgres-backed credential store. They are gated
// by PARLEY_TEST_DATABASE_URL; each run creates a throwaway schema so tests
// never touch production data or each other.

func TestPostgresStoreUserLifecycle(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	defer mustDropSchema(t, pool, schema)
	mustApplyUsersSchema(t, pool, schema)

	s := mustNewPostgresStore(t, pool, schema)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, CreateUserInput{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Password:  "correct horse",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || u.EmailCiphertext == "ada@example.com" {
		t.Fatalf("user not sealed: %+v", u)
	}

	// Duplicate digest must surface as a conflict from the unique index.
	_, err = s.CreateUser(ctx, CreateUserInput{
		FirstName: "Other",
		LastName:  "Person",
		Email:     "ADA@example.com",
		Password:  "another pass",
	})
	if !IsConflict(err) {
		t.Fatalf("duplicate email err = %v, want conflict", err)
	}

	got, err := s.FindByEmail(ctx, "ada@example.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("FindByEmail = %+v, %v", got, err)
	}

	got, err = s.FindByID(ctx, u.ID)
	if err != nil || got.ID != u.ID {
		t.Fatalf("FindByID = %+v, %v", got, err)
	}

	if _, err := s.FindByEmail(ctx, "nobody@example.com"); !IsNotFound(err) {
		t.Fatalf("missing user err = %v, want not found", err)
	}
}

func TestPostgresStoreTokenLedgers(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	defer mustDropSchema(t, pool, schema)
	mustApplyUsersSchema(t, pool, schema)

	s := mustNewPostgresStore(t, pool, schema)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, CreateUserInput{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ledger@example.com",
		Password:  "correct horse",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	now := time.Now().UTC()
	if err := s.AddValidToken(ctx, u.ID, "tok-live", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("AddValidToken: %v", err)
	}
	if err := s.AddValidToken(ctx, u.ID, "tok-stale", now.Add(-2*time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatalf("AddValidToken(stale): %v", err)
	}

	ok, err := s.IsTokenValid(ctx, u.ID, "tok-live")
	if err != nil || !ok {
		t.Fatalf("IsTokenValid(live) = %v, %v", ok, err)
	}
	ok, err = s.IsTokenValid(ctx, u.ID, "tok-stale")
	if err != nil || ok {
		t.Fatalf("IsTokenValid(stale) = %v, %v", ok, err)
	}

	// The lazy purge above must have been written back.
	got, err := s.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	for _, g := range got.ValidTokens {
		if g.Token == "tok-stale" {
			t.Fatal("stale grant survived the purge")
		}
	}

	if err := s.BlacklistToken(ctx, u.ID, "tok-live"); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	ok, err = s.IsTokenValid(ctx, u.ID, "tok-live")
	if err != nil || ok {
		t.Fatalf("IsTokenValid(blacklisted) = %v, %v", ok, err)
	}

	if err := s.AddValidToken(ctx, u.ID, "tok-2", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("AddValidToken(tok-2): %v", err)
	}
	if err := s.LogoutAllDevices(ctx, u.ID); err != nil {
		t.Fatalf("LogoutAllDevices: %v", err)
	}
	ok, err = s.IsTokenValid(ctx, u.ID, "tok-2")
	if err != nil || ok {
		t.Fatalf("IsTokenValid after logout-all = %v, %v", ok, err)
	}
}

func TestPostgresStoreProfileAndFlags(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	defer mustDropSchema(t, pool, schema)
	mustApplyUsersSchema(t, pool, schema)

	s := mustNewPostgresStore(t, pool, schema)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, CreateUserInput{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "flags@example.com",
		Password:  "correct horse",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	first := "Grace"
	got, err := s.UpdateProfile(ctx, u.ID, ProfileUpdate{FirstName: &first})
	if err != nil || got.FirstName != "Grace" {
		t.Fatalf("UpdateProfile = %+v, %v", got, err)
	}

	when := time.Now().UTC().Truncate(time.Microsecond)
	if err := s.TouchLastLogin(ctx, u.ID, when); err != nil {
		t.Fatalf("TouchLastLogin: %v", err)
	}
	got, err = s.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.LastLogin == nil || !got.LastLogin.Equal(when) {
		t.Fatalf("LastLogin = %v, want %v", got.LastLogin, when)
	}

	if err := s.Deactivate(ctx, u.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	got, err = s.FindByID(ctx, u.ID)
	if err != nil || got.IsActive {
		t.Fatalf("after Deactivate: %+v, %v", got, err)
	}

	if err := s.Deactivate(ctx, "missing-id"); !IsNotFound(err) {
		t.Fatalf("Deactivate(missing) = %v, want not found", err)
	}
}

// ---- helpers ----

func mustNewPostgresStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()

	crypto, err := emailcrypto.New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("emailcrypto.New: %v", err)
	}
	s, err := NewPostgresStore(pool, crypto, WithSchema(schema), WithBcryptCost(10))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return s
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("PARLEY_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PARLEY_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse PARLEY_TEST_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (PARLEY_TEST_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("new ulid: %v", err)
	}
	schema := "parley_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+fmt.Sprintf("%q", schema)); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+fmt.Sprintf("%q", schema)+` CASCADE`)
}

func mustApplyUsersSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	users := fmt.Sprintf("%q.%q", schema, "users")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id                 TEXT PRIMARY KEY,
  first_name         TEXT NOT NULL,
  last_name          TEXT NOT NULL,
  email_ciphertext   TEXT NOT NULL,
  email_digest       TEXT NOT NULL,
  password_hash      TEXT NOT NULL,
  is_active          BOOLEAN NOT NULL DEFAULT TRUE,
  last_login         TIMESTAMPTZ NULL,
  valid_tokens       JSONB NOT NULL DEFAULT '[]'::jsonb,
  blacklisted_tokens JSONB NOT NULL DEFAULT '[]'::jsonb,
  created_at         TIMESTAMPTZ NOT NULL,
  updated_at         TIMESTAMPTZ NOT NULL,

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_users_email_digest_len CHECK (char_length(email_digest) = 64),
  CONSTRAINT uq_users_email_digest UNIQUE (email_digest)
);
`, users)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
