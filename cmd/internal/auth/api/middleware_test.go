package authapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func okProbe(t *testing.T) (http.HandlerFunc, *bool) {
	t.Helper()
	called := false
	return func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := UserFromContext(r.Context()); !ok {
			t.Error("no user on context inside protected handler")
		}
		w.WriteHeader(http.StatusOK)
	}, &called
}

func TestRequireAuthRejections(t *testing.T) {
	h, _, mux := newTestHandler(t)
	resp := mustSignup(t, mux, "ada@example.com")

	expiredManager := h.tokens
	expiredRaw, _, err := expiredManager.Issue(resp.User.ID, time.Now().UTC().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name   string
		header map[string]string
	}{
		{"no token", nil},
		{"garbage token", map[string]string{"Authorization": "Bearer nonsense"}},
		{"expired token", map[string]string{"Authorization": "Bearer " + expiredRaw}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe, called := okProbe(t)
			protected := h.RequireAuth(probe)

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			protected(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if *called {
				t.Fatal("protected handler ran for a rejected request")
			}

			var body failResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Success || body.Message == "" {
				t.Fatalf("body = %+v", body)
			}
		})
	}
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	h, _, mux := newTestHandler(t)
	resp := mustSignup(t, mux, "ada@example.com")

	probe, called := okProbe(t)
	protected := h.RequireAuth(probe)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	protected(rec, req)

	if rec.Code != http.StatusOK || !*called {
		t.Fatalf("status = %d, called = %v", rec.Code, *called)
	}
}

func TestRequireAuthWebRedirects(t *testing.T) {
	h, _, mux := newTestHandler(t)
	resp := mustSignup(t, mux, "ada@example.com")

	expiredRaw, _, err := h.tokens.Issue(resp.User.ID, time.Now().UTC().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name     string
		token    string
		wantCode string
	}{
		{"no token", "", "missing-token"},
		{"garbage token", "nonsense", "invalid"},
		{"expired token", expiredRaw, "expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe, called := okProbe(t)
			protected := h.RequireAuthWeb(probe)

			target := "/chat"
			if tt.token != "" {
				target += "?token=" + url.QueryEscape(tt.token)
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			rec := httptest.NewRecorder()
			protected(rec, req)

			if rec.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", rec.Code)
			}
			if *called {
				t.Fatal("protected handler ran for a rejected request")
			}

			loc, err := url.Parse(rec.Header().Get("Location"))
			if err != nil {
				t.Fatalf("parse Location: %v", err)
			}
			if loc.Path != "/login" {
				t.Fatalf("redirect path = %q", loc.Path)
			}
			if got := loc.Query().Get("error"); got != tt.wantCode {
				t.Fatalf("error code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestRequireAuthWebCookieFallback(t *testing.T) {
	h, _, mux := newTestHandler(t)
	resp := mustSignup(t, mux, "ada@example.com")

	probe, called := okProbe(t)
	protected := h.RequireAuthWeb(probe)

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.AddCookie(&http.Cookie{Name: h.cfg.CookieName, Value: resp.Token})
	rec := httptest.NewRecorder()
	protected(rec, req)

	if rec.Code != http.StatusOK || !*called {
		t.Fatalf("status = %d, called = %v", rec.Code, *called)
	}
}

func TestRequireAuthWebRevokedTokenRedirects(t *testing.T) {
	h, _, mux := newTestHandler(t)
	resp := mustSignup(t, mux, "ada@example.com")

	// Revoke via the API, then retry the page with the same token.
	rec := doJSON(t, mux, http.MethodPost, "/auth/logout", nil,
		map[string]string{"Authorization": "Bearer " + resp.Token})
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}

	probe, called := okProbe(t)
	protected := h.RequireAuthWeb(probe)

	req := httptest.NewRequest(http.MethodGet, "/chat?token="+url.QueryEscape(resp.Token), nil)
	out := httptest.NewRecorder()
	protected(out, req)

	if out.Code != http.StatusFound || *called {
		t.Fatalf("status = %d, called = %v", out.Code, *called)
	}
	loc, err := url.Parse(out.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if got := loc.Query().Get("error"); got != "token-revoked" {
		t.Fatalf("error code = %q, want token-revoked", got)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer abc"}, "abc"},
		{"bearer case-insensitive", map[string]string{"Authorization": "bearer abc"}, "abc"},
		{"x-auth-token", map[string]string{"x-auth-token": "xyz"}, "xyz"},
		{"authorization wins", map[string]string{"Authorization": "Bearer abc", "x-auth-token": "xyz"}, "abc"},
		{"wrong scheme", map[string]string{"Authorization": "Basic abc"}, ""},
		{"nothing", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := BearerToken(req); got != tt.want {
				t.Errorf("BearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
