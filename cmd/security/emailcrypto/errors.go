package emailcrypto

import "errors"

// Public, stable errors for callers.
var (
	// ErrKeyMissing is returned when the sealing secret is absent or too short.
	ErrKeyMissing = errors.New("email sealing key missing or too short")

	// ErrEncrypt is returned when sealing an address fails.
	ErrEncrypt = errors.New("email encryption failed")

	// ErrDecrypt is returned when a ciphertext is malformed, was produced
	// under a different key, or opens to an empty string.
	ErrDecrypt = errors.New("email decryption failed")

	// ErrInvalidEmail is returned when the input does not look like an email
	// address after normalization.
	ErrInvalidEmail = errors.New("invalid email format")
)
