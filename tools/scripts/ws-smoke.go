// Package main provides a CI-friendly smoke test for the parley chat socket.
//
// It validates:
//   - signup/login over the JSON auth API to obtain a session token
//   - websocket handshake with handshake-time authentication
//   - the personalized welcome frame
//   - send -> echo -> typing on/off -> assistant reply
//   - rejection of the handshake when no token is presented
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type outFrame struct {
	Type      string     `json:"type"`
	Text      string     `json:"text,omitempty"`
	HTML      string     `json:"html,omitempty"`
	Typing    *bool      `json:"typing,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type inFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type authEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

func main() {
	var (
		baseURL  = flag.String("base-url", "http://127.0.0.1:8080", "HTTP base URL of the server")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like handshake)")
		email    = flag.String("email", "", "Account email (default: throwaway per run)")
		password = flag.String("password", "smoke-test-password", "Account password")
		text     = flag.String("text", "hello", "Message text to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -base-url: %v", err)
	}

	addr := *email
	if addr == "" {
		addr = fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())
	}

	root := context.Background()

	token := mustObtainToken(root, *baseURL, addr, *password, *timeout)
	if *verbose {
		fmt.Printf("session token obtained for %s\n", addr)
	}

	wsURL := toWSURL(*baseURL) + "/ws?token=" + url.QueryEscape(token)

	mustRejectWithoutToken(root, toWSURL(*baseURL)+"/ws", *origin, *timeout)

	conn := mustDial(root, wsURL, *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	welcome := mustRead(root, conn, *timeout)
	if welcome.Type != "bot_message" {
		fatalf("expected welcome bot_message, got %q", welcome.Type)
	}
	if *verbose {
		fmt.Printf("welcome: %s\n", welcome.Text)
	}

	mustWrite(root, conn, inFrame{Type: "user_message", Text: *text}, *timeout)

	echo := mustRead(root, conn, *timeout)
	if echo.Type != "user_message_echo" || echo.Text != *text {
		fatalf("expected echo of %q, got type=%q text=%q", *text, echo.Type, echo.Text)
	}

	typingOn := mustRead(root, conn, *timeout)
	if typingOn.Type != "bot_typing" || typingOn.Typing == nil || !*typingOn.Typing {
		fatalf("expected bot_typing on, got %+v", typingOn)
	}

	typingOff := mustRead(root, conn, *timeout)
	if typingOff.Type != "bot_typing" || typingOff.Typing == nil || *typingOff.Typing {
		fatalf("expected bot_typing off, got %+v", typingOff)
	}

	reply := mustRead(root, conn, *timeout)
	if reply.Type != "bot_message" {
		fatalf("expected bot_message reply, got %q", reply.Type)
	}
	if strings.TrimSpace(reply.Text) == "" {
		fatalf("assistant reply has empty text")
	}
	if strings.TrimSpace(reply.HTML) == "" {
		fatalf("assistant reply has empty html")
	}
	if reply.Timestamp == nil || reply.Timestamp.IsZero() {
		fatalf("assistant reply missing timestamp")
	}

	fmt.Printf("OK: email=%s reply=%q\n", addr, reply.Text)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func toWSURL(base string) string {
	if rest, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}

// mustObtainToken signs the throwaway account up, falling back to login when
// the account already exists.
func mustObtainToken(parent context.Context, baseURL, email, password string, stepTimeout time.Duration) string {
	signup := map[string]string{
		"firstName":       "Smoke",
		"lastName":        "Test",
		"email":           email,
		"password":        password,
		"confirmPassword": password,
	}
	if env, status := postJSON(parent, baseURL+"/auth/signup", signup, stepTimeout); status == http.StatusCreated && env.Token != "" {
		return env.Token
	}

	login := map[string]string{"email": email, "password": password}
	env, status := postJSON(parent, baseURL+"/auth/login", login, stepTimeout)
	if status != http.StatusOK || env.Token == "" {
		fatalf("login failed: status=%d message=%q", status, env.Message)
	}
	return env.Token
}

func postJSON(parent context.Context, dest string, payload any, stepTimeout time.Duration) (authEnvelope, int) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, bytes.NewReader(body))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", dest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env authEnvelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return env, resp.StatusCode
}

func mustRejectWithoutToken(parent context.Context, wsURL, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL, dialOptions(origin))
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "unexpected")
		fatalf("handshake without token succeeded; expected rejection")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		fatalf("handshake without token: status=%d want=401", resp.StatusCode)
	}
}

func dialOptions(origin string) *websocket.DialOptions {
	if strings.TrimSpace(origin) == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Origin", origin)
	return &websocket.DialOptions{HTTPHeader: h}
}

func mustDial(parent context.Context, wsURL, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL, dialOptions(origin))
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustRead(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) outFrame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read: %v", err)
	}
	var f outFrame
	if err := json.Unmarshal(data, &f); err != nil {
		fatalf("bad frame json: %v", err)
	}
	if f.Type == "error" {
		fatalf("server error frame: %q", f.Message)
	}
	return f
}

func mustWrite(parent context.Context, conn *websocket.Conn, f inFrame, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
