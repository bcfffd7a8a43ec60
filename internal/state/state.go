// Package state holds the mutable entity graph mirrored from the remote
// service: users, their channels and messages, plus the active selection.
// Every mutation publishes exactly one notification. All access is serialized
// behind one mutex; publishes happen outside it so handlers can read state
// without deadlocking.
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentworkforce/relaychat/internal/chat"
	"github.com/agentworkforce/relaychat/internal/eventbus"
	"github.com/agentworkforce/relaychat/internal/transport"
)

// State is the aggregate store. It owns channel-id allocation: ids are
// process-unique, monotonically assigned and never reused, surviving Reset.
type State struct {
	bus *eventbus.Bus

	channelIDs atomic.Int64
	epoch      atomic.Uint64

	mu            sync.Mutex
	users         *chat.UserSet
	channels      *chat.ChannelSet
	activeUser    *chat.User
	activeChannel *chat.Channel
}

func New(bus *eventbus.Bus) *State {
	return &State{
		bus:      bus,
		users:    chat.NewUserSet(),
		channels: chat.NewChannelSet(),
	}
}

// Bus exposes the notification bus so consumers can subscribe.
func (s *State) Bus() *eventbus.Bus {
	return s.bus
}

// Epoch identifies the current session generation. Reset advances it; callers
// holding a poll response from a previous epoch must discard it.
func (s *State) Epoch() uint64 {
	return s.epoch.Load()
}

// Reset clears all session state and advances the epoch. The channel-id
// allocator is deliberately not reset.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = chat.NewUserSet()
	s.channels = chat.NewChannelSet()
	s.activeUser = nil
	s.activeChannel = nil
	s.epoch.Add(1)
}

// NewPublicChannel allocates an id and wraps the remote channel handle.
func (s *State) NewPublicChannel(u *chat.User, api transport.Channel) *chat.Channel {
	return chat.NewPublicChannel(s.channelIDs.Add(1), u, api)
}

// NewPrivateChannel allocates an id for the conversation between u and the
// correspondent.
func (s *State) NewPrivateChannel(u *chat.User, correspondent string) *chat.Channel {
	return chat.NewPrivateChannel(s.channelIDs.Add(1), u, correspondent)
}

// AddUser creates a local user from account data, publishes ADD_CHAT_USER and
// then one ADD_CHANNEL per account channel, in name order for determinism.
func (s *State) AddUser(ctx context.Context, api transport.User) (*chat.User, error) {
	u := chat.NewUser(api)

	s.mu.Lock()
	if !s.users.Add(u) {
		existing, _ := s.users.Get(u.Name)
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	if err := s.bus.Publish(ctx, EventAddChatUser, u.Name); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(api.Channels()))
	for name := range api.Channels() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch := s.NewPublicChannel(u, api.Channels()[name])
		if _, err := s.AddChannel(ctx, ch); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// AddChannel registers the channel with its owner and the global set, then
// publishes ADD_CHANNEL. A channel id already present, or an existing channel
// for the same (user, type, name), makes this a no-op returning false.
func (s *State) AddChannel(ctx context.Context, c *chat.Channel) (bool, error) {
	s.mu.Lock()
	if s.channels.Has(c.ID) {
		s.mu.Unlock()
		return false, nil
	}
	if _, ok := c.User.Channels.Lookup(c.Type, c.Name); ok {
		s.mu.Unlock()
		return false, nil
	}
	s.channels.Add(c)
	c.User.Channels.Add(c)
	info := ChannelInfo{
		User: c.User.Name,
		Name: c.Name,
		ID:   c.ID,
		Type: c.Type,
	}
	s.mu.Unlock()

	if err := s.bus.Publish(ctx, EventAddChannel, info); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveChannel detaches the channel from its owner and the global set and
// publishes REMOVE_CHANNEL. An unknown id is an ErrUnknownChannel.
func (s *State) RemoveChannel(ctx context.Context, id int64) error {
	s.mu.Lock()
	c, ok := s.channels.Remove(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	c.User.Channels.Remove(id)
	if s.activeChannel != nil && s.activeChannel.ID == id {
		s.activeChannel = nil
	}
	s.mu.Unlock()

	return s.bus.Publish(ctx, EventRemoveChannel, id)
}

// AddMessage inserts the raw record into the channel idempotently and
// publishes ADD_MESSAGE for novel ids. It returns false when the message was
// already present.
func (s *State) AddMessage(ctx context.Context, channelID int64, raw transport.RawMessage) (bool, error) {
	s.mu.Lock()
	c, ok := s.channels.Get(channelID)
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %d", ErrUnknownChannel, channelID)
	}
	m := chat.Message{
		ID:      raw.ID,
		User:    raw.FromUser,
		Time:    raw.Time,
		Text:    raw.Text,
		Channel: channelID,
	}
	if !c.AddMessage(m) {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	if err := s.bus.Publish(ctx, EventAddMessage, m); err != nil {
		return false, err
	}
	return true, nil
}

// AddSystemMessage publishes a locally generated note. Nothing is stored.
func (s *State) AddSystemMessage(ctx context.Context, text string, channelID int64, kind string) error {
	return s.bus.Publish(ctx, EventAddSystemMessage, SystemMessage{
		Text:    text,
		Channel: channelID,
		Kind:    kind,
	})
}

// User resolves a username.
func (s *State) User(name string) (*chat.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.Get(name)
}

// Channel resolves a channel id against the global set.
func (s *State) Channel(id int64) (*chat.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels.Get(id)
}

// LookupChannel resolves (type, name) within one user's channel set.
func (s *State) LookupChannel(u *chat.User, typ chat.ChannelType, name string) (*chat.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := u.Channels.Lookup(typ, name)
	if !ok {
		return nil, false
	}
	return u.Channels.Get(id)
}

// UserNames lists all known usernames in insertion order.
func (s *State) UserNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.Names()
}

// ActiveUserNames lists users whose last activity falls within threshold.
func (s *State) ActiveUserNames(threshold time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.Active(time.Now(), threshold)
}

// SetActiveUser switches the selection, touching the previous user's activity
// timestamp. Selecting the already-active user is a no-op without a publish.
func (s *State) SetActiveUser(ctx context.Context, name string) error {
	s.mu.Lock()
	u, ok := s.users.Get(name)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownUser, name)
	}
	if s.activeUser == u {
		s.mu.Unlock()
		return nil
	}
	if s.activeUser != nil {
		s.activeUser.Touch(time.Now())
	}
	s.activeUser = u
	s.mu.Unlock()

	return s.bus.Publish(ctx, EventChangeActiveUser, name)
}

// SetActiveChannel switches the channel selection within the active user.
// Selecting the already-active channel is a no-op without a publish.
func (s *State) SetActiveChannel(ctx context.Context, id int64) error {
	s.mu.Lock()
	if s.activeUser == nil {
		s.mu.Unlock()
		return ErrNoActiveUser
	}
	if s.activeChannel != nil && s.activeChannel.ID == id {
		s.mu.Unlock()
		return nil
	}
	c, ok := s.activeUser.Channels.Get(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	s.activeChannel = c
	s.mu.Unlock()

	return s.bus.Publish(ctx, EventChangeActiveChannel, id)
}

// ActiveUser returns the current user selection, or nil.
func (s *State) ActiveUser() *chat.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeUser
}

// ActiveChannel returns the current channel selection, or nil.
func (s *State) ActiveChannel() *chat.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChannel
}
