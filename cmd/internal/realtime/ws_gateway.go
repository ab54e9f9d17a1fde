// Package realtime is the websocket chat surface: one authenticated user per
// socket, one assistant conversation per connection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/observe"
)

const (
	wsDefaultSendQueueSize = 64
	wsMinSendQueueSize     = 16

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 5 * time.Minute
	wsDefaultReplyTimeout = 30 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default; only localhost is allowed out of the box.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Authenticator is the session check the gateway runs at handshake time.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (identity.User, error)
}

// WSGateway upgrades HTTP requests to chat sockets.
//
// Authentication happens before the upgrade: a request that fails the
// session check is answered with a plain 401 and the websocket handshake
// never completes. Once accepted, the connection carries its user and its
// conversation history for its whole lifetime; the token is not re-checked
// per message, so a mid-session revocation takes effect on the next connect.
type WSGateway struct {
	log       *slog.Logger
	authority Authenticator
	assistant Assistant
	metrics   *observe.Metrics

	originRequired bool
	allowedOrigins []string
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	replyTimeout    time.Duration
	sendQueueSize   int
	historyCap      int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
}

// GatewayOption configures optional gateway dependencies.
type GatewayOption func(*WSGateway)

// WithGatewayMetrics attaches Prometheus instrumentation.
func WithGatewayMetrics(m *observe.Metrics) GatewayOption {
	return func(g *WSGateway) {
		if g == nil || m == nil {
			return
		}
		g.metrics = m
	}
}

// NewWSGateway constructs a gateway with secure defaults. A nil assistant
// falls back to the scripted responder.
func NewWSGateway(log *slog.Logger, authority Authenticator, assistant Assistant, opts ...GatewayOption) (*WSGateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if authority == nil {
		return nil, errors.New("realtime: nil authority")
	}
	if assistant == nil {
		assistant = ScriptedAssistant{}
	}

	g := &WSGateway{log: log, authority: authority, assistant: assistant}

	g.originRequired = envBoolWS("PARLEY_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("PARLEY_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy: same-host is fine,
	// cross-origin needs OriginPatterns. Derive the patterns from the
	// allowlist so the two layers agree.
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)

	g.writeTimeout = envDurationWS("PARLEY_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("PARLEY_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)
	g.replyTimeout = envDurationWS("PARLEY_WS_REPLY_TIMEOUT", wsDefaultReplyTimeout)

	g.sendQueueSize = envIntWS("PARLEY_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}
	g.historyCap = envIntWS("PARLEY_WS_HISTORY_CAP", defaultHistoryCap)

	g.heartbeatEvery = envDurationWS("PARLEY_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("PARLEY_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}

	return g, nil
}

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// socketToken extracts the access token from a handshake request: the token
// query parameter first (browser WebSocket clients cannot set headers), then
// the Authorization and x-auth-token headers.
func socketToken(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		scheme, rest, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("x-auth-token"))
}

// HandleWS authenticates the handshake, upgrades, and runs the chat loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	user, err := g.authority.Authenticate(r.Context(), socketToken(r))
	if err != nil {
		if session.IsRejection(err) {
			g.log.Info("ws.reject.auth", "code", session.Code(err), "remote", r.RemoteAddr)
			writeWSReject(w, session.Code(err))
			return
		}
		g.log.Error("ws.auth.fail", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	connID := uuid.NewString()
	client := NewClient(connID, user, g.sendQueueSize, g.historyCap)

	if g.metrics != nil {
		g.metrics.WSConnections.Inc()
		defer g.metrics.WSConnections.Dec()
	}
	g.log.Info("ws.connect", "conn_id", connID, "user_id", user.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case frame := <-client.Send:
				if err := writeFrame(ctx, conn, frame, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
				if g.metrics != nil {
					g.metrics.WSMessages.WithLabelValues("out").Inc()
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	welcome := fmt.Sprintf("Hello %s! I'm your assistant. How can I help you today?", user.FirstName)
	g.trySend(ctx, client, botFrame(welcome, renderMarkdown(welcome), time.Now().UTC()))

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		msg, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySend(ctx, client, errorFrame("invalid JSON"))
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if g.metrics != nil {
			g.metrics.WSMessages.WithLabelValues("in").Inc()
		}

		if msg.Type != TypeUserMessage {
			g.trySend(ctx, client, errorFrame(fmt.Sprintf("unsupported type: %s", msg.Type)))
			continue readLoop
		}

		text := strings.TrimSpace(msg.Text)
		if text == "" {
			g.trySend(ctx, client, errorFrame("message text is required"))
			continue readLoop
		}
		if utf8.RuneCountInString(text) > maxMessageChars {
			g.trySend(ctx, client, errorFrame("message too long"))
			continue readLoop
		}

		g.handleUserMessage(ctx, client, text)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	g.log.Info("ws.disconnect", "conn_id", connID, "user_id", user.ID)
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// handleUserMessage runs one exchange: echo, typing on, assistant reply,
// typing off. The reply is rendered to sanitized HTML before it leaves.
func (g *WSGateway) handleUserMessage(ctx context.Context, client *Client, text string) {
	g.trySend(ctx, client, echoFrame(text))
	g.trySend(ctx, client, typingFrame(true))

	replyCtx, cancel := context.WithTimeout(ctx, g.replyTimeout)
	reply, err := g.assistant.Reply(replyCtx, client.History(), text)
	cancel()

	g.trySend(ctx, client, typingFrame(false))

	if err != nil {
		g.log.Error("ws.assistant.fail", "conn_id", client.ConnID, "err", err)
		g.trySend(ctx, client, errorFrame("assistant unavailable, please try again"))
		return
	}

	client.Remember(text, reply)
	g.trySend(ctx, client, botFrame(reply, renderMarkdown(reply), time.Now().UTC()))
}

// trySend enqueues a frame without blocking the read loop forever: if the
// client's queue is full and stays full, the frame is dropped.
func (g *WSGateway) trySend(ctx context.Context, client *Client, frame outbound) {
	select {
	case client.Send <- frame:
	case <-client.Done():
	case <-ctx.Done():
	default:
		select {
		case client.Send <- frame:
		case <-client.Done():
		case <-ctx.Done():
		case <-time.After(g.writeTimeout):
			g.log.Info("ws.send.drop", "conn_id", client.ConnID, "type", frame.Type)
		}
	}
}

func writeWSReject(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": "authentication required",
		"code":    code,
	})
}

func readFrame(ctx context.Context, conn *websocket.Conn) (inbound, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return inbound{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return inbound{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return inbound{}, err
	}
	return msg, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame outbound, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if err == nil {
		return readErrUnknown
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	var jsonSyntaxErr *json.SyntaxError
	if errors.As(err, &jsonSyntaxErr) {
		return readErrBadJSON
	}
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
