package emailcrypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"regexp"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// EnvKey is the env var name for the email sealing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	EnvKey = "PARLEY_EMAIL_KEY"

	// minKeyBytes is the minimum accepted secret length.
	// We measure bytes (not runes) because the key is used as raw material.
	minKeyBytes = 16
)

// emailRe matches the address shape accepted at signup. Kept deliberately
// simple: the digest is an equality key, not an RFC 5322 validator.
var emailRe = regexp.MustCompile(`^\w+([.-]?\w+)*@\w+([.-]?\w+)*(\.\w{2,3})+$`)

// Crypto seals and digests email addresses under a process-wide secret.
// The secret is read-only after construction and safe for concurrent use.
type Crypto struct {
	aeadKey    [chacha20poly1305.KeySize]byte
	digestKey  []byte
	digestSize int
}

// New constructs a Crypto from the given secret.
//
// The AEAD key is derived from the secret with SHA-256 so operators can supply
// an arbitrary-length passphrase. The digest key is the raw secret, matching
// the keyed-hash contract (digest of normalized address under the secret).
func New(secret string) (*Crypto, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minKeyBytes {
		return nil, ErrKeyMissing
	}

	c := &Crypto{
		digestKey:  []byte(secret),
		digestSize: sha256.Size,
	}
	c.aeadKey = sha256.Sum256([]byte(secret))
	return c, nil
}

// FromEnv constructs a Crypto from PARLEY_EMAIL_KEY.
// Missing or short keys are a hard error; there is no insecure default.
func FromEnv() (*Crypto, error) {
	return New(os.Getenv(EnvKey))
}

// Normalize canonicalizes an email address for sealing and digesting.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Encrypt normalizes and seals an email address.
// Output is base64url(nonce || ciphertext), safe to store as text.
func (c *Crypto) Encrypt(plainEmail string) (string, error) {
	if c == nil {
		return "", ErrKeyMissing
	}

	normalized := Normalize(plainEmail)
	if normalized == "" {
		return "", ErrEncrypt
	}

	aead, err := chacha20poly1305.NewX(c.aeadKey[:])
	if err != nil {
		return "", ErrEncrypt
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", ErrEncrypt
	}

	sealed := aead.Seal(nonce, nonce, []byte(normalized), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt is the inverse of Encrypt.
func (c *Crypto) Decrypt(ciphertext string) (string, error) {
	if c == nil {
		return "", ErrKeyMissing
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", ErrDecrypt
	}

	aead, err := chacha20poly1305.NewX(c.aeadKey[:])
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrDecrypt
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(plain) == 0 {
		return "", ErrDecrypt
	}

	return string(plain), nil
}

// SearchDigest returns the deterministic equality key for an email address:
// hex HMAC-SHA256 of the normalized address under the sealing secret.
//
// Same normalized input always yields the same digest under the same secret,
// which is what makes lookup-by-digest possible without decrypting rows.
func (c *Crypto) SearchDigest(plainEmail string) (string, error) {
	if c == nil {
		return "", ErrKeyMissing
	}

	normalized := Normalize(plainEmail)
	if !emailRe.MatchString(normalized) {
		return "", ErrInvalidEmail
	}

	m := hmac.New(sha256.New, c.digestKey)
	_, _ = m.Write([]byte(normalized))
	return hex.EncodeToString(m.Sum(nil)), nil
}

// ValidEmail reports whether the input normalizes to an acceptable address.
func ValidEmail(email string) bool {
	return emailRe.MatchString(Normalize(email))
}
