package realtime

import "time"

// Wire message types. Clients send user_message; the server answers with an
// echo, typing indicators, rendered assistant replies, and error frames.
const (
	TypeUserMessage     = "user_message"
	TypeUserMessageEcho = "user_message_echo"
	TypeBotTyping       = "bot_typing"
	TypeBotMessage      = "bot_message"
	TypeError           = "error"
)

// inbound is the only frame shape clients may send.
type inbound struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// outbound is the union of every server frame. Optional fields are pointers
// or omitempty so each type serializes only its own payload.
type outbound struct {
	Type      string     `json:"type"`
	Text      string     `json:"text,omitempty"`
	HTML      string     `json:"html,omitempty"`
	Typing    *bool      `json:"typing,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Message   string     `json:"message,omitempty"`
}

func echoFrame(text string) outbound {
	return outbound{Type: TypeUserMessageEcho, Text: text}
}

func typingFrame(typing bool) outbound {
	return outbound{Type: TypeBotTyping, Typing: &typing}
}

func botFrame(text, html string, ts time.Time) outbound {
	ts = ts.UTC()
	return outbound{Type: TypeBotMessage, Text: text, HTML: html, Timestamp: &ts}
}

func errorFrame(msg string) outbound {
	return outbound{Type: TypeError, Message: msg}
}
