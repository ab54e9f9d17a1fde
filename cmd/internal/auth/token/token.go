// Package token issues and verifies the signed access tokens that carry a
// session between requests.
//
// A token is a compact HS256 JWT whose claims bind it to one user:
//
//	{ "userId": "<id>", "type": "access", "iat": ..., "exp": ... }
//
// Verification here proves only that the server minted the token and that it
// has not expired. Whether the token is still *honored* is a separate,
// server-authoritative question answered by the credential store's ledgers;
// see the session package.
package token

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// EnvSecret names the environment variable carrying the signing secret.
	// There is no fallback: a missing secret is a startup failure, never a
	// silent default.
	EnvSecret = "PARLEY_JWT_SECRET"

	// EnvTTL names the optional token lifetime override.
	EnvTTL = "PARLEY_JWT_EXPIRES_IN"

	// ClaimType is the fixed type claim stamped on every access token.
	ClaimType = "access"

	minSecretBytes = 32
)

var (
	// ErrTokenExpired reports a well-formed, correctly signed token whose
	// lifetime has passed.
	ErrTokenExpired = errors.New("token: expired")

	// ErrTokenMalformed covers every other verification failure: bad
	// signature, wrong algorithm, missing or foreign claims, garbage input.
	ErrTokenMalformed = errors.New("token: malformed")
)

// DefaultTTL applies when no lifetime is configured or the configured value
// does not parse.
const DefaultTTL = 24 * time.Hour

var ttlRe = regexp.MustCompile(`^(\d+)([hd])$`)

// ParseTTL parses the compact lifetime syntax: "<n>h" for hours, "<n>d" for
// days. Anything else, including the empty string, yields DefaultTTL.
func ParseTTL(s string) time.Duration {
	m := ttlRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return DefaultTTL
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultTTL
	}
	switch m[2] {
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	}
	return DefaultTTL
}

// Claims is the verified payload of an access token.
type Claims struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type accessClaims struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// Manager mints and verifies access tokens with a single shared secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// New builds a Manager. The secret must be at least 32 bytes; HS256 with a
// short secret is brute-forceable offline.
func New(secret string, ttl time.Duration) (*Manager, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("token: secret must be at least %d bytes", minSecretBytes)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl}, nil
}

// FromEnv builds a Manager from PARLEY_JWT_SECRET and PARLEY_JWT_EXPIRES_IN.
func FromEnv() (*Manager, error) {
	secret := strings.TrimSpace(os.Getenv(EnvSecret))
	if secret == "" {
		return nil, fmt.Errorf("token: %s is required", EnvSecret)
	}
	return New(secret, ParseTTL(os.Getenv(EnvTTL)))
}

// TTL reports the configured token lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// ExpiresAt reports when a token issued at now would expire.
func (m *Manager) ExpiresAt(now time.Time) time.Time {
	return now.Add(m.ttl).UTC()
}

// Issue mints a signed access token for userID.
func (m *Manager) Issue(userID string, now time.Time) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("token: empty user id")
	}

	now = now.UTC()
	expiresAt := m.ExpiresAt(now)

	claims := accessClaims{
		UserID: userID,
		Type:   ClaimType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and lifetime of raw and returns its claims.
// Expiry is reported as ErrTokenExpired; every other failure collapses to
// ErrTokenMalformed so callers cannot leak parser detail to clients.
func (m *Manager) Verify(raw string, now time.Time) (Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return Claims{}, ErrTokenMalformed
	}

	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now.UTC() }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenMalformed
	}

	if claims.UserID == "" || claims.Type != ClaimType {
		return Claims{}, ErrTokenMalformed
	}

	out := Claims{UserID: claims.UserID}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}
