package authapi

import (
	"errors"
	"log/slog"

	"parley/cmd/identity"
)

// emailPlaceholder stands in for an address that failed to unseal. Surfacing
// the decrypt failure as a request error would lock the owner out of their
// own profile, so the projection degrades instead.
const emailPlaceholder = "[Email Protected]"

func (h *Handler) toUserResponse(u identity.User) userResponse {
	email := emailPlaceholder
	if plain, err := h.crypto.Decrypt(u.EmailCiphertext); err == nil {
		email = plain
	} else {
		h.log.Warn("auth.email.unseal.fail", slog.String("user_id", u.ID))
	}

	return userResponse{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     email,
		IsActive:  u.IsActive,
		LastLogin: u.LastLogin,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// userMessage extracts the client-safe message from a validation error.
func userMessage(err error) string {
	var opErr identity.OpError
	if errors.As(err, &opErr) && opErr.Msg != "" {
		return opErr.Msg
	}
	return "invalid request"
}
