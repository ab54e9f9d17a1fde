package authapi

import "time"

type signupRequest struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileUpdateRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

// userResponse is the public projection of a user. The password hash, the
// email digest, and the raw ciphertext never appear here; Email carries the
// decrypted address or a placeholder when unsealing fails.
type userResponse struct {
	ID        string     `json:"id"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email"`
	IsActive  bool       `json:"isActive"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type authResponse struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// validateResponse deliberately carries a minimal identity: enough for a
// client to render "signed in as", nothing more.
type validateResponse struct {
	Success bool         `json:"success"`
	User    validateUser `json:"user"`
}

type validateUser struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type profileResponse struct {
	Success bool         `json:"success"`
	User    userResponse `json:"user"`
}
