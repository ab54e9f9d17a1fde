// Package identity password hashing (bcrypt).
//
// bcrypt is deliberate here: a slow, salted, one-way function with a
// configurable cost factor. The cost can be tuned via PARLEY_BCRYPT_COST
// without code changes; verification reads the cost from the stored hash, so
// old hashes keep verifying after a tune.
package identity

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost matches the historical baseline of 12 rounds.
	DefaultBcryptCost = 12

	minBcryptCost = 10
	maxBcryptCost = 16
)

// BcryptCostFromEnv reads PARLEY_BCRYPT_COST, clamped to a sane range.
// Anything unparsable or out of range falls back to the default.
func BcryptCostFromEnv() int {
	v := strings.TrimSpace(os.Getenv("PARLEY_BCRYPT_COST"))
	if v == "" {
		return DefaultBcryptCost
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < minBcryptCost || n > maxBcryptCost {
		return DefaultBcryptCost
	}
	return n
}

// HashPassword returns a bcrypt hash of the password at the given cost.
// Enforces the minimum length baseline before doing any work.
func HashPassword(plain string, cost int) (string, error) {
	if len(plain) < MinPasswordLen {
		return "", invalid("identity.HashPassword", "password must be at least 8 characters long")
	}
	if cost < minBcryptCost || cost > maxBcryptCost {
		cost = DefaultBcryptCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyPassword checks a candidate password against a stored bcrypt hash.
// A mismatch is (false, nil); only malformed hashes or internal failures
// return an error. bcrypt's comparison is constant-time on the derived key.
func VerifyPassword(candidate, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(candidate))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
