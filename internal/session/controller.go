// Package session orchestrates login and logout, owns the entity state and
// the polling scheduler, and exposes the operations consumed by the
// presentation layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentworkforce/relaychat/internal/chat"
	"github.com/agentworkforce/relaychat/internal/eventbus"
	"github.com/agentworkforce/relaychat/internal/poll"
	"github.com/agentworkforce/relaychat/internal/reconcile"
	"github.com/agentworkforce/relaychat/internal/state"
	"github.com/agentworkforce/relaychat/internal/transport"
)

var (
	// ErrSessionActive is returned by Login when a session already exists or
	// a login attempt is in flight.
	ErrSessionActive = errors.New("session already active")
	// ErrNotLoggedIn is returned by operations that require a session.
	ErrNotLoggedIn = errors.New("no active session")
)

// Phase is the session lifecycle state.
type Phase int

const (
	LoggedOut Phase = iota
	LoggingIn
	LoggedIn
)

func (p Phase) String() string {
	switch p {
	case LoggingIn:
		return "LOGGING_IN"
	case LoggedIn:
		return "LOGGED_IN"
	default:
		return "LOGGED_OUT"
	}
}

// Logger is the minimal logging surface the controller needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Options configures a Controller.
type Options struct {
	// Polling tunes the scheduler cadence and concurrency bound.
	Polling poll.Config
	// TokenStore persists the session token between runs. Nil disables
	// persistence.
	TokenStore TokenStore
	Logger     Logger
}

// Controller is the session state machine: LOGGED_OUT -> LOGGING_IN ->
// LOGGED_IN -> LOGGED_OUT.
type Controller struct {
	client transport.Client
	bus    *eventbus.Bus
	st     *state.State
	sched  *poll.Scheduler
	tokens TokenStore
	logger Logger

	mu    sync.Mutex
	phase Phase
}

func NewController(client transport.Client, bus *eventbus.Bus, opts Options) *Controller {
	st := state.New(bus)
	rec := reconcile.New(st)
	return &Controller{
		client: client,
		bus:    bus,
		st:     st,
		sched:  poll.NewScheduler(client, st, rec, opts.Polling, opts.Logger),
		tokens: opts.TokenStore,
		logger: opts.Logger,
	}
}

// Bus exposes the notification bus for the presentation layer.
func (c *Controller) Bus() *eventbus.Bus {
	return c.bus
}

// State exposes the entity aggregate for read access.
func (c *Controller) State() *state.State {
	return c.st
}

// Phase reports the current lifecycle state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Polling reports whether the scheduler timer is live.
func (c *Controller) Polling() bool {
	return c.sched.Running()
}

// Init attempts to restore a previous session from the token store and
// publishes INIT with the outcome.
func (c *Controller) Init(ctx context.Context) (bool, error) {
	token := ""
	if c.tokens != nil {
		saved, err := c.tokens.Token()
		if err != nil {
			c.logf("session: reading stored token failed: %v", err)
		} else {
			token = saved
		}
	}
	if token == "" {
		return false, c.bus.Publish(ctx, state.EventInit, false)
	}
	if err := c.Login(ctx, token); err != nil {
		_ = c.bus.Publish(ctx, state.EventInit, false)
		return false, err
	}
	return true, c.bus.Publish(ctx, state.EventInit, true)
}

// Login authenticates, populates the entity state from account data, and
// starts polling. Polling starts only after every LOGIN_SUCCESS handler has
// settled, so presentation setup completes before the first poll can land.
func (c *Controller) Login(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.phase != LoggedOut {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.phase = LoggingIn
	c.mu.Unlock()

	_ = c.bus.Publish(ctx, state.EventLoginPending, nil)

	account, err := c.client.Login(ctx, credential)
	if err != nil {
		c.setPhase(LoggedOut)
		_ = c.bus.Publish(ctx, state.EventLoginFailure, state.NewErrorInfo(err))
		return err
	}

	if c.tokens != nil {
		if err := c.tokens.SetToken(account.Token); err != nil {
			c.logf("session: storing token failed: %v", err)
		}
	}

	names := make([]string, 0, len(account.Users))
	for name := range account.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := c.st.AddUser(ctx, account.Users[name]); err != nil {
			c.logf("session: adding user %q failed: %v", name, err)
		}
	}

	c.setPhase(LoggedIn)
	_ = c.bus.Publish(ctx, state.EventLoginSuccess, nil)
	return c.sched.Start()
}

// Logout stops polling, waits for in-flight polls to settle without
// propagating their failures, clears all state, and publishes LOGOUT.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != LoggedIn {
		c.mu.Unlock()
		return ErrNotLoggedIn
	}
	c.mu.Unlock()

	c.sched.Stop()
	c.st.Reset()
	if c.tokens != nil {
		if err := c.tokens.Clear(); err != nil {
			c.logf("session: clearing stored token failed: %v", err)
		}
	}
	c.setPhase(LoggedOut)
	return c.bus.Publish(ctx, state.EventLogout, nil)
}

// SetActiveUser switches the user selection. Selecting the active user again
// is a no-op.
func (c *Controller) SetActiveUser(ctx context.Context, name string) error {
	if c.Phase() != LoggedIn {
		return ErrNotLoggedIn
	}
	return c.st.SetActiveUser(ctx, name)
}

// SetActiveChannel switches the channel selection within the active user.
func (c *Controller) SetActiveChannel(ctx context.Context, id int64) error {
	if c.Phase() != LoggedIn {
		return ErrNotLoggedIn
	}
	return c.st.SetActiveChannel(ctx, id)
}

// SendMessage delivers msg through the channel, publishing the send lifecycle
// events around the transport call. The transport's structured error is
// returned to the caller on failure.
func (c *Controller) SendMessage(ctx context.Context, channelID int64, msg string) error {
	ch, ok := c.st.Channel(channelID)
	if !ok {
		return fmt.Errorf("%w: %d", state.ErrUnknownChannel, channelID)
	}

	payload := state.SendEvent{Channel: channelID, Text: msg}
	_ = c.bus.Publish(ctx, state.EventSendMessagePending, payload)

	if err := ch.Send(ctx, msg); err != nil {
		info := state.NewErrorInfo(err)
		payload.Error = &info
		_ = c.bus.Publish(ctx, state.EventSendMessageFailure, payload)
		return err
	}

	_ = c.bus.Publish(ctx, state.EventSendMessageSuccess, payload)
	return nil
}

// SendDirect sends a direct message from one local user to a correspondent.
// With an existing private channel the message is sent and the selection
// switches to it. Otherwise the channel is created optimistically; if the
// first send fails the previously active channel is restored and the
// provisional channel removed before the failure is re-signalled, so it is
// never left visible.
func (c *Controller) SendDirect(ctx context.Context, from string, inChannel int64, to, msg string) error {
	if c.Phase() != LoggedIn {
		return ErrNotLoggedIn
	}
	u, ok := c.st.User(from)
	if !ok {
		return fmt.Errorf("%w: %q", state.ErrUnknownUser, from)
	}

	ch := c.st.NewPrivateChannel(u, to)
	added, err := c.st.AddChannel(ctx, ch)
	if err != nil {
		return err
	}
	if !added {
		// The conversation already exists, possibly registered by a
		// reconciliation pass after our caller last looked. Send through the
		// surviving channel; there is no provisional channel to roll back.
		existing, ok := c.st.LookupChannel(u, chat.Private, to)
		if !ok {
			return fmt.Errorf("%w: %s %q", state.ErrUnknownChannel, chat.Private, to)
		}
		if err := c.SendMessage(ctx, existing.ID, msg); err != nil {
			return err
		}
		return c.st.SetActiveChannel(ctx, existing.ID)
	}

	if err := c.SendMessage(ctx, ch.ID, msg); err != nil {
		if active := c.st.ActiveUser(); active != nil && active.Name == from {
			if restoreErr := c.st.SetActiveChannel(ctx, inChannel); restoreErr != nil {
				c.logf("session: restoring channel %d failed: %v", inChannel, restoreErr)
			}
		}
		if removeErr := c.st.RemoveChannel(ctx, ch.ID); removeErr != nil {
			c.logf("session: removing provisional channel %d failed: %v", ch.ID, removeErr)
		}
		return err
	}
	return c.st.SetActiveChannel(ctx, ch.ID)
}

// SetPollingInterval retunes the scheduler cadence, taking effect on the next
// tick when polling.
func (c *Controller) SetPollingInterval(d time.Duration) {
	c.sched.SetInterval(d)
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
