// Package authapi is the HTTP transport for accounts and sessions: signup,
// login, logout, token validation, and profile management, plus the
// middleware other surfaces use to guard their routes.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/auth/token"
	"parley/cmd/internal/observe"
	"parley/cmd/security/emailcrypto"
)

// invalidCredentials is the single message used for every login failure that
// traces back to the submitted credentials. Unknown account and wrong
// password must be indistinguishable on the wire.
const invalidCredentials = "Invalid email or password"

// Handler wires the auth HTTP endpoints to the credential store and token
// manager.
type Handler struct {
	log       *slog.Logger
	cfg       Config
	store     identity.Store
	tokens    *token.Manager
	authority *session.Authority
	crypto    *emailcrypto.Crypto
	metrics   *observe.Metrics

	dummyHash string
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *observe.Metrics) HandlerOption {
	return func(h *Handler) {
		if h == nil || m == nil {
			return
		}
		h.metrics = m
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, store identity.Store, tokens *token.Manager, crypto *emailcrypto.Crypto, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("auth: nil store")
	}
	if tokens == nil {
		return nil, errors.New("auth: nil token manager")
	}
	if crypto == nil {
		return nil, errors.New("auth: nil email crypto")
	}

	authority, err := session.New(tokens, store)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		log:       log,
		cfg:       cfg,
		store:     store,
		tokens:    tokens,
		authority: authority,
		crypto:    crypto,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	// Dummy hash for timing-resistant login checks against unknown accounts.
	if hash, err := identity.HashPassword("dummy-password-for-timing-only", identity.DefaultBcryptCost); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Authority exposes the session authority for other transports (websocket).
func (h *Handler) Authority() *session.Authority {
	if h == nil {
		return nil
	}
	return h.authority
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/signup", h.handleSignup)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/logout", h.RequireAuth(h.handleLogout))
	mux.HandleFunc("/auth/logout-all", h.RequireAuth(h.handleLogoutAll))
	mux.HandleFunc("/auth/validate", h.RequireAuth(h.handleValidate))
	mux.HandleFunc("/auth/profile", h.RequireAuth(h.handleProfile))
}

func (h *Handler) observeAuth(outcome string) {
	if h.metrics != nil {
		h.metrics.AuthAttempts.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) observeLogin(outcome string) {
	if h.metrics != nil {
		h.metrics.Logins.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) observeSignup(outcome string) {
	if h.metrics != nil {
		h.metrics.Signups.WithLabelValues(outcome).Inc()
	}
}

// ---- handlers ----

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Password != req.ConfirmPassword {
		h.observeSignup("invalid")
		writeFail(w, http.StatusBadRequest, "passwords do not match")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	u, err := h.store.CreateUser(ctx, identity.CreateUserInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Now:       now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			h.observeSignup("conflict")
			writeFail(w, http.StatusBadRequest, "an account with this email already exists")
		case identity.IsInvalidInput(err):
			h.observeSignup("invalid")
			writeFail(w, http.StatusBadRequest, userMessage(err))
		default:
			h.observeSignup("error")
			h.log.Error("auth.signup.fail", slog.String("err", err.Error()))
			writeFail(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	raw, expiresAt, err := h.issueAndRecord(r, u.ID, now)
	if err != nil {
		h.observeSignup("error")
		h.log.Error("auth.signup.issue.fail", slog.String("err", err.Error()))
		writeFail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.observeSignup("ok")
	h.log.Info("auth.signup.ok", slog.String("user_id", u.ID))
	h.setSessionCookie(w, raw, expiresAt)
	writeJSON(w, http.StatusCreated, authResponse{
		Success:   true,
		Message:   "user registered successfully",
		User:      h.toUserResponse(u),
		Token:     raw,
		ExpiresAt: expiresAt,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.observeLogin("rejected")
		writeFail(w, http.StatusBadRequest, "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	u, err := h.store.FindByEmail(ctx, req.Email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			// Timing resistance: verify against a dummy hash so a missing
			// account costs the same as a wrong password.
			if h.dummyHash != "" {
				_, _ = identity.VerifyPassword(req.Password, h.dummyHash)
			}
			h.observeLogin("rejected")
			writeFail(w, http.StatusUnauthorized, invalidCredentials)
			return
		}
		h.observeLogin("error")
		h.log.Error("auth.login.lookup.fail", slog.String("err", err.Error()))
		writeFail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	ok, err := identity.VerifyPassword(req.Password, u.PasswordHash)
	if err != nil {
		h.observeLogin("error")
		h.log.Error("auth.login.verify.fail", slog.String("err", err.Error()))
		writeFail(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok || !u.IsActive {
		h.observeLogin("rejected")
		writeFail(w, http.StatusUnauthorized, invalidCredentials)
		return
	}

	raw, expiresAt, err := h.issueAndRecord(r, u.ID, now)
	if err != nil {
		h.observeLogin("error")
		h.log.Error("auth.login.issue.fail", slog.String("err", err.Error()))
		writeFail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.store.TouchLastLogin(ctx, u.ID, now); err != nil {
		// Login stands even if the timestamp write fails.
		h.log.Warn("auth.login.touch.fail", slog.String("err", err.Error()))
	} else {
		u.LastLogin = &now
	}

	h.observeLogin("ok")
	h.log.Info("auth.login.ok", slog.String("user_id", u.ID))
	h.setSessionCookie(w, raw, expiresAt)
	writeJSON(w, http.StatusOK, authResponse{
		Success:   true,
		Message:   "login successful",
		User:      h.toUserResponse(u),
		Token:     raw,
		ExpiresAt: expiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, _ := UserFromContext(r.Context())
	raw, _ := TokenFromContext(r.Context())

	if err := h.store.BlacklistToken(r.Context(), u.ID, raw); err != nil {
		h.log.Error("auth.logout.fail", slog.String("err", err.Error()))
		writeFail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.log.Info("auth.logout.ok", slog.String("user_id", u.ID))
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "logged out successfully"})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, _ := UserFromContext(r.Context())

	if err := h.store.LogoutAllDevices(r.Context(), u.ID); err != nil {
		h.log.Error("auth.logout_all.fail", slog.String("err", err.Error()))
		writeFail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.log.Info("auth.logout_all.ok", slog.String("user_id", u.ID))
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "logged out from all devices"})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, _ := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, validateResponse{
		Success: true,
		User:    validateUser{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName},
	})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		u, _ := UserFromContext(r.Context())
		writeJSON(w, http.StatusOK, profileResponse{Success: true, User: h.toUserResponse(u)})

	case http.MethodPut:
		var req profileUpdateRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeFail(w, http.StatusBadRequest, "invalid request body")
			return
		}

		u, _ := UserFromContext(r.Context())
		updated, err := h.store.UpdateProfile(r.Context(), u.ID, identity.ProfileUpdate{
			FirstName: req.FirstName,
			LastName:  req.LastName,
		})
		if err != nil {
			switch {
			case identity.IsInvalidInput(err):
				writeFail(w, http.StatusBadRequest, userMessage(err))
			case identity.IsNotFound(err):
				writeFail(w, http.StatusUnauthorized, "user not found")
			default:
				h.log.Error("auth.profile.update.fail", slog.String("err", err.Error()))
				writeFail(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}

		writeJSON(w, http.StatusOK, profileResponse{Success: true, User: h.toUserResponse(updated)})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// issueAndRecord mints an access token and records the grant in the user's
// valid ledger. The recorded expiry matches the claim's expiry exactly.
func (h *Handler) issueAndRecord(r *http.Request, userID string, now time.Time) (string, time.Time, error) {
	raw, expiresAt, err := h.tokens.Issue(userID, now)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := h.store.AddValidToken(r.Context(), userID, raw, now, expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return raw, expiresAt, nil
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, raw string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    raw,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
