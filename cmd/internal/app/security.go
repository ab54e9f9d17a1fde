package app

import (
	"fmt"
	"os"
	"strings"

	"parley/cmd/internal/auth/token"
	"parley/cmd/security/emailcrypto"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Fail-fast is intentional: silently running without a signing secret or an
// email key would mean unverifiable sessions and plaintext identities, so a
// missing secret stops the process before it binds a port.
func ValidateSecurityConfig() error {
	secret := strings.TrimSpace(os.Getenv(token.EnvSecret))
	if secret == "" {
		return fmt.Errorf("security policy: %s is required", token.EnvSecret)
	}
	if len(secret) < 32 {
		return fmt.Errorf("security policy: %s is too short (min 32 bytes)", token.EnvSecret)
	}

	if _, err := emailcrypto.FromEnv(); err != nil {
		return fmt.Errorf("security policy: %w", err)
	}

	return nil
}
