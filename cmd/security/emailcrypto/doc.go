// Package emailcrypto keeps user email addresses confidential at rest while
// preserving exact-match lookup.
//
// It is the single source of truth for email sealing behavior.
//
// Design goals:
//   - Emails are stored as ciphertext, never plaintext. A data-store compromise
//     exposes sealed blobs only.
//   - Equality lookup works without decrypting rows: a deterministic keyed
//     digest of the normalized address is stored alongside the ciphertext.
//   - The trade-off is explicit: no range/prefix search and no key rotation.
//
// Environment:
//   - PARLEY_EMAIL_KEY: the process-wide sealing secret. There is no fallback;
//     startup must fail when it is missing.
package emailcrypto
