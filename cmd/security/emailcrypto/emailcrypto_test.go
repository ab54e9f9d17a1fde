package emailcrypto

import (
	"strings"
	"testing"
)

func newTestCrypto(t *testing.T, secret string) *Crypto {
	t.Helper()
	c, err := New(secret)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RejectsMissingOrShortKey(t *testing.T) {
	t.Parallel()

	for _, secret := range []string{"", "   ", "short"} {
		if _, err := New(secret); err != ErrKeyMissing {
			t.Fatalf("New(%q): expected ErrKeyMissing, got %v", secret, err)
		}
	}
}

func TestFromEnv_MissingKeyFailsHard(t *testing.T) {
	t.Setenv(EnvKey, "")

	if _, err := FromEnv(); err != ErrKeyMissing {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestCrypto(t, "unit-test-email-sealing-secret")

	cases := []struct {
		in   string
		want string
	}{
		{in: "a@b.com", want: "a@b.com"},
		{in: "  Mixed.Case@Example.COM  ", want: "mixed.case@example.com"},
		{in: "first.last@sub.example.org", want: "first.last@sub.example.org"},
	}

	for _, tc := range cases {
		ct, err := c.Encrypt(tc.in)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", tc.in, err)
		}
		if ct == tc.want || strings.Contains(ct, "@") {
			t.Fatalf("ciphertext leaks plaintext: %q", ct)
		}

		got, err := c.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != tc.want {
			t.Fatalf("round trip: got %q want %q", got, tc.want)
		}
	}
}

func TestEncrypt_NotDeterministic(t *testing.T) {
	t.Parallel()

	c := newTestCrypto(t, "unit-test-email-sealing-secret")

	a, err := c.Encrypt("a@b.com")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := c.Encrypt("a@b.com")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a == b {
		t.Fatalf("expected random nonces to produce distinct ciphertexts")
	}
}

func TestDecrypt_WrongKeyOrGarbage(t *testing.T) {
	t.Parallel()

	c1 := newTestCrypto(t, "unit-test-email-sealing-secret")
	c2 := newTestCrypto(t, "a-completely-different-secret!!")

	ct, err := c1.Encrypt("a@b.com")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := c2.Decrypt(ct); err != ErrDecrypt {
		t.Fatalf("cross-key decrypt: expected ErrDecrypt, got %v", err)
	}
	if _, err := c1.Decrypt("not-base64-%%%"); err != ErrDecrypt {
		t.Fatalf("garbage input: expected ErrDecrypt, got %v", err)
	}
	if _, err := c1.Decrypt("c2hvcnQ"); err != ErrDecrypt {
		t.Fatalf("truncated input: expected ErrDecrypt, got %v", err)
	}
}

func TestSearchDigest_DeterministicAndNormalized(t *testing.T) {
	t.Parallel()

	c := newTestCrypto(t, "unit-test-email-sealing-secret")

	base, err := c.SearchDigest("user@example.com")
	if err != nil {
		t.Fatalf("SearchDigest: %v", err)
	}
	if len(base) != 64 {
		t.Fatalf("expected 64-char hex digest, got %d chars", len(base))
	}

	// Case and surrounding whitespace must not change the digest.
	for _, variant := range []string{"USER@example.com", "  user@EXAMPLE.com  ", "User@Example.Com"} {
		got, err := c.SearchDigest(variant)
		if err != nil {
			t.Fatalf("SearchDigest(%q): %v", variant, err)
		}
		if got != base {
			t.Fatalf("digest not stable for %q: got %q want %q", variant, got, base)
		}
	}

	// A different key must produce a different digest.
	other := newTestCrypto(t, "a-completely-different-secret!!")
	got, err := other.SearchDigest("user@example.com")
	if err != nil {
		t.Fatalf("SearchDigest: %v", err)
	}
	if got == base {
		t.Fatalf("digest must depend on the secret")
	}
}

func TestSearchDigest_RejectsBadFormats(t *testing.T) {
	t.Parallel()

	c := newTestCrypto(t, "unit-test-email-sealing-secret")

	for _, in := range []string{"", "plainaddress", "@no-local.com", "user@", "user @example.com"} {
		if _, err := c.SearchDigest(in); err != ErrInvalidEmail {
			t.Fatalf("SearchDigest(%q): expected ErrInvalidEmail, got %v", in, err)
		}
	}
}
