// Package transport defines the facade to the remote chat service: login,
// message polling and the per-channel / per-user send capabilities. The core
// engine consumes only the interfaces in this file; the HTTP implementation
// lives alongside in http.go.
package transport

import (
	"context"
	"fmt"
)

// Error is the structured rejection reported by the remote service.
type Error struct {
	StatusCode int
	Msg        string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote error %d: %s", e.StatusCode, e.Msg)
	}
	return e.Msg
}

// RawMessage is one message record as reported by a poll response. Channel is
// set only for public-channel messages; private messages carry no stable
// channel identifier and must be resolved from the from/to pair.
type RawMessage struct {
	ID       int64  `json:"id"`
	FromUser string `json:"from_user"`
	ToUser   string `json:"to_user"`
	Channel  string `json:"channel,omitempty"`
	Text     string `json:"msg"`
	Time     int64  `json:"t"`
}

// PollResponse maps each polled username to its ordered batch of new records.
type PollResponse struct {
	Chats map[string][]RawMessage `json:"chats"`
}

// Channel is the remote handle of a public channel.
type Channel interface {
	Name() string
	Users() []string
	LastMessageTime() int64
	Send(ctx context.Context, msg string) error
}

// User is the remote handle of an account user. Tell delivers a direct
// message to the named recipient.
type User interface {
	Name() string
	Channels() map[string]Channel
	Tell(ctx context.Context, recipient, msg string) error
}

// Account is the result of a successful login.
type Account struct {
	Token string
	Users map[string]User
}

// Client is the remote service entry point.
type Client interface {
	Login(ctx context.Context, credential string) (*Account, error)
	Poll(ctx context.Context, after string, users []string) (*PollResponse, error)
}
