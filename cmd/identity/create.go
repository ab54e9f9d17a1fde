package identity

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"parley/cmd/security/emailcrypto"
)

// buildUser runs the persistence-independent half of CreateUser: field
// validation, email sealing + digest, and password hashing. Both store
// implementations share it so validation can never drift between them.
func buildUser(op string, in CreateUserInput, crypto *emailcrypto.Crypto, bcryptCost int) (User, error) {
	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)

	if firstName == "" {
		return User{}, invalid(op, "first name is required")
	}
	if lastName == "" {
		return User{}, invalid(op, "last name is required")
	}
	if utf8.RuneCountInString(firstName) > MaxNameLen {
		return User{}, invalid(op, "first name cannot exceed 50 characters")
	}
	if utf8.RuneCountInString(lastName) > MaxNameLen {
		return User{}, invalid(op, "last name cannot exceed 50 characters")
	}
	if strings.TrimSpace(in.Email) == "" {
		return User{}, invalid(op, "email is required")
	}
	if len(in.Password) < MinPasswordLen {
		return User{}, invalid(op, "password must be at least 8 characters long")
	}

	digest, err := crypto.SearchDigest(in.Email)
	if err != nil {
		if errors.Is(err, emailcrypto.ErrInvalidEmail) {
			return User{}, invalid(op, "please enter a valid email address")
		}
		return User{}, err
	}

	ciphertext, err := crypto.Encrypt(in.Email)
	if err != nil {
		return User{}, err
	}

	pwHash, err := HashPassword(in.Password, bcryptCost)
	if err != nil {
		return User{}, invalid(op, err.Error())
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	return User{
		ID:              id,
		FirstName:       firstName,
		LastName:        lastName,
		EmailCiphertext: ciphertext,
		EmailDigest:     digest,
		PasswordHash:    pwHash,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// validateProfileUpdate trims and bounds-checks optional profile fields.
func validateProfileUpdate(op string, upd ProfileUpdate) (ProfileUpdate, error) {
	out := ProfileUpdate{}

	if upd.FirstName != nil {
		v := strings.TrimSpace(*upd.FirstName)
		if v == "" {
			return ProfileUpdate{}, invalid(op, "first name cannot be empty")
		}
		if utf8.RuneCountInString(v) > MaxNameLen {
			return ProfileUpdate{}, invalid(op, "first name cannot exceed 50 characters")
		}
		out.FirstName = &v
	}
	if upd.LastName != nil {
		v := strings.TrimSpace(*upd.LastName)
		if v == "" {
			return ProfileUpdate{}, invalid(op, "last name cannot be empty")
		}
		if utf8.RuneCountInString(v) > MaxNameLen {
			return ProfileUpdate{}, invalid(op, "last name cannot exceed 50 characters")
		}
		out.LastName = &v
	}

	return out, nil
}
