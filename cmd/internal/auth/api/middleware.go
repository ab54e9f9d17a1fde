package authapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
)

type ctxKey int

const (
	userCtxKey ctxKey = iota
	tokenCtxKey
)

// UserFromContext returns the authenticated user attached by the middleware.
func UserFromContext(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(userCtxKey).(identity.User)
	return u, ok
}

// TokenFromContext returns the raw access token the request authenticated
// with. Logout needs it to blacklist the exact grant.
func TokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenCtxKey).(string)
	return t, ok
}

// withSession stores the authenticated user and its raw token on the context.
func withSession(ctx context.Context, u identity.User, raw string) context.Context {
	ctx = context.WithValue(ctx, userCtxKey, u)
	return context.WithValue(ctx, tokenCtxKey, raw)
}

// BearerToken extracts the access token from an API request: the
// Authorization header first ("Bearer <token>"), then the x-auth-token
// header. Empty string when neither is present.
func BearerToken(r *http.Request) string {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		scheme, rest, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("x-auth-token"))
}

// webToken extracts the token for page requests: the API sources plus the
// token query parameter and the session cookie.
func (h *Handler) webToken(r *http.Request) string {
	if tok := BearerToken(r); tok != "" {
		return tok
	}
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	if c, err := r.Cookie(h.cfg.CookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// RequireAuth wraps an API handler with the JSON 401 variant of the session
// check. Rejections answer 401 with the failure envelope; storage failures
// answer 500 and are logged, never disclosed.
func (h *Handler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := BearerToken(r)

		u, err := h.authority.Authenticate(r.Context(), raw)
		if err != nil {
			h.observeAuth(session.Code(err))
			if session.IsRejection(err) {
				writeFail(w, http.StatusUnauthorized, rejectionMessage(err))
				return
			}
			h.log.Error("auth.check.fail", slog.String("err", err.Error()))
			writeFail(w, http.StatusInternalServerError, "internal server error")
			return
		}

		h.observeAuth("ok")
		next(w, r.WithContext(withSession(r.Context(), u, raw)))
	}
}

// RequireAuthWeb wraps a page handler with the redirect variant: rejected
// requests bounce to the login page carrying a stable error code, so the
// page can explain why the session ended.
func (h *Handler) RequireAuthWeb(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := h.webToken(r)

		u, err := h.authority.Authenticate(r.Context(), raw)
		if err != nil {
			h.observeAuth(session.Code(err))
			if session.IsRejection(err) {
				dest := h.cfg.LoginPath + "?error=" + url.QueryEscape(session.Code(err))
				http.Redirect(w, r, dest, http.StatusFound)
				return
			}
			h.log.Error("auth.check.fail", slog.String("err", err.Error()))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		h.observeAuth("ok")
		next(w, r.WithContext(withSession(r.Context(), u, raw)))
	}
}

// rejectionMessage maps a session rejection to its client-facing message.
// The wording never distinguishes signature failures from ledger failures
// beyond what the client must know to react.
func rejectionMessage(err error) string {
	switch session.Code(err) {
	case "missing-token":
		return "access denied, no token provided"
	case "expired":
		return "token expired"
	case "token-revoked":
		return "token has been invalidated"
	case "user-not-found":
		return "user not found"
	case "account-deactivated":
		return "account is deactivated"
	default:
		return "invalid token"
	}
}
