package realtime

import (
	"sync"

	"parley/cmd/identity"
)

// Client represents one connected chat socket.
//
// The conversation history lives here, on the connection, and nowhere else:
// it is created at accept time and garbage-collected with the Client when
// the socket closes. There is no cross-connection history registry.
type Client struct {
	ConnID string
	User   identity.User
	Send   chan outbound

	history    []Turn
	historyCap int

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue and an empty
// history seeded with the system turn.
func NewClient(connID string, user identity.User, sendQueueSize, historyCap int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	if historyCap <= 0 {
		historyCap = defaultHistoryCap
	}

	c := &Client{
		ConnID:     connID,
		User:       user,
		Send:       make(chan outbound, sendQueueSize),
		historyCap: historyCap,
		done:       make(chan struct{}),
	}
	c.history = append(c.history, Turn{
		Role:    RoleSystem,
		Content: "You are a helpful assistant chatting with " + user.FullName() + ".",
	})
	return c
}

// History returns the conversation so far, system turn included.
func (c *Client) History() []Turn {
	return c.history
}

// Remember appends a user/assistant exchange, dropping the oldest exchanges
// (never the system turn) once the cap is reached.
func (c *Client) Remember(userText, assistantText string) {
	c.history = append(c.history,
		Turn{Role: RoleUser, Content: userText},
		Turn{Role: RoleAssistant, Content: assistantText},
	)
	for len(c.history) > c.historyCap && len(c.history) > 1 {
		c.history = append(c.history[:1], c.history[3:]...)
	}
}

// Done returns a channel closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent). Send stays open
// so concurrent writers never panic.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
