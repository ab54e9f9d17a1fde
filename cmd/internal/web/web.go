// Package web serves the HTML pages: login, signup, and the chat room.
// Pages are template-rendered server-side; the chat page talks to the
// websocket and JSON endpoints from the browser.
package web

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	authapi "parley/cmd/internal/auth/api"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// Handler renders the page surface.
type Handler struct {
	log  *slog.Logger
	auth *authapi.Handler
	tmpl *template.Template
}

// NewHandler parses the embedded templates.
func NewHandler(log *slog.Logger, auth *authapi.Handler) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if auth == nil {
		return nil, errors.New("web: nil auth handler")
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, err
	}
	return &Handler{log: log, auth: auth, tmpl: tmpl}, nil
}

// Register wires the page routes onto the mux. The chat page sits behind the
// redirect variant of the session check.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/", h.handleHome)
	mux.HandleFunc("/login", h.handleLogin)
	mux.HandleFunc("/signup", h.handleSignup)
	mux.HandleFunc("/chat", h.auth.RequireAuthWeb(h.handleChat))
}

// loginErrorMessages maps the redirect error codes to copy shown above the
// login form.
var loginErrorMessages = map[string]string{
	"missing-token":       "Please sign in to continue.",
	"invalid":             "Your session is invalid. Please sign in again.",
	"expired":             "Your session has expired. Please sign in again.",
	"token-revoked":       "You have been signed out. Please sign in again.",
	"user-not-found":      "Please sign in to continue.",
	"account-deactivated": "This account has been deactivated.",
}

type loginData struct {
	Error string
}

type chatData struct {
	FirstName string
	LastName  string
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	// "/" matches everything; anything but the root is a 404 here.
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	data := loginData{}
	if code := r.URL.Query().Get("error"); code != "" {
		msg, ok := loginErrorMessages[code]
		if !ok {
			msg = loginErrorMessages["invalid"]
		}
		data.Error = msg
	}
	h.render(w, "login.html.tmpl", data)
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.render(w, "signup.html.tmpl", nil)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, _ := authapi.UserFromContext(r.Context())
	h.render(w, "chat.html.tmpl", chatData{FirstName: u.FirstName, LastName: u.LastName})
}

func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		h.log.Error("web.render.fail", slog.String("template", name), slog.String("err", err.Error()))
	}
}
