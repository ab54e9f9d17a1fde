package realtime

import (
	"context"
	"fmt"
	"strings"
)

// Turn roles in a conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of a conversation history.
type Turn struct {
	Role    string
	Content string
}

// Assistant produces a reply to the latest user message, given the
// conversation so far. Implementations may call out to an external model;
// the context bounds that call.
type Assistant interface {
	Reply(ctx context.Context, history []Turn, text string) (string, error)
}

// ScriptedAssistant is the built-in Assistant: a small keyword responder
// with no external dependencies. It keeps the chat surface exercisable in
// development and in tests without network access.
type ScriptedAssistant struct{}

func (ScriptedAssistant) Reply(ctx context.Context, history []Turn, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case lower == "":
		return "Say something and I'll do my best to help.", nil
	case containsAny(lower, "hello", "hi ", "hey"), lower == "hi":
		return "Hello! How can I help you today?", nil
	case containsAny(lower, "help", "what can you do"):
		return "I can chat with you right here. Ask me anything, or type `bye` when you're done.", nil
	case containsAny(lower, "bye", "goodbye", "see you"):
		return "Goodbye! Come back any time.", nil
	case strings.HasSuffix(lower, "?"):
		return fmt.Sprintf("Good question. I don't have a real answer for *%s* yet, but I'm listening.", strings.TrimSpace(text)), nil
	default:
		return fmt.Sprintf("You said: %s\n\nTell me more.", strings.TrimSpace(text)), nil
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
