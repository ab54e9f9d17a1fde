package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parley/cmd/identity"
	authapi "parley/cmd/internal/auth/api"
	"parley/cmd/internal/auth/token"
	"parley/cmd/security/emailcrypto"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	crypto, err := emailcrypto.New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("emailcrypto.New: %v", err)
	}
	store, err := identity.NewMemoryStore(crypto, identity.WithMemoryBcryptCost(10))
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	tokens, err := token.New("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth, err := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), store, tokens, crypto)
	if err != nil {
		t.Fatalf("authapi.NewHandler: %v", err)
	}
	pages, err := NewHandler(log, auth)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	auth.Register(mux)
	pages.Register(mux)
	return mux
}

func signupToken(t *testing.T, mux *http.ServeMux) string {
	t.Helper()

	body, err := json.Marshal(map[string]string{
		"firstName":       "Ada",
		"lastName":        "Lovelace",
		"email":           "ada@example.com",
		"password":        "correct horse",
		"confirmPassword": "correct horse",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Token
}

func TestLoginPage(t *testing.T) {
	mux := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Sign in") {
		t.Fatalf("login page missing form: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login?error=expired", nil))
	if !strings.Contains(rec.Body.String(), "expired") {
		t.Fatal("expired session message not rendered")
	}
}

func TestHomeRedirectsToLogin(t *testing.T) {
	mux := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Fatalf("status = %d, location = %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/no-such-page", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", rec.Code)
	}
}

func TestChatPageRequiresSession(t *testing.T) {
	mux := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "/login?error=") {
		t.Fatalf("location = %q", rec.Header().Get("Location"))
	}
}

func TestChatPageRendersForSession(t *testing.T) {
	mux := newTestMux(t)
	tok := signupToken(t, mux)

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.AddCookie(&http.Cookie{Name: "authToken", Value: tok})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Ada") {
		t.Fatal("chat page not personalized")
	}
}
