package chat

import (
	"context"
	"time"

	"github.com/agentworkforce/relaychat/internal/collection"
	"github.com/agentworkforce/relaychat/internal/transport"
)

// User is one local account identity. Its channel set holds at most one
// channel per (type, correspondent-name) pair.
type User struct {
	Name       string
	LastActive time.Time
	Channels   *ChannelSet

	api transport.User
}

// NewUser wraps a transport account user. Channels from the account data are
// registered separately by the state aggregate, which owns id allocation.
func NewUser(api transport.User) *User {
	return &User{
		Name:       api.Name(),
		LastActive: time.Now(),
		Channels:   NewChannelSet(),
		api:        api,
	}
}

// API exposes the transport handle so account channels can be enumerated.
func (u *User) API() transport.User {
	return u.api
}

// Tell delivers a direct message to recipient through the account.
func (u *User) Tell(ctx context.Context, recipient, msg string) error {
	return u.api.Tell(ctx, recipient, msg)
}

// Touch records activity. A zero time means now.
func (u *User) Touch(at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	u.LastActive = at
}

// UserSet keeps users keyed by name in insertion order.
type UserSet struct {
	list *collection.List[string, *User]
}

func NewUserSet() *UserSet {
	return &UserSet{list: collection.New[string, *User]()}
}

func (s *UserSet) Add(u *User) bool {
	return s.list.Add(u.Name, u)
}

func (s *UserSet) Get(name string) (*User, bool) {
	return s.list.Get(name)
}

func (s *UserSet) Has(name string) bool {
	return s.list.Has(name)
}

func (s *UserSet) Remove(name string) (*User, bool) {
	return s.list.Remove(name)
}

// Names returns all usernames in insertion order.
func (s *UserSet) Names() []string {
	return s.list.Keys()
}

func (s *UserSet) Users() []*User {
	return s.list.Values()
}

// Active returns the names of users whose last activity falls within
// threshold of now.
func (s *UserSet) Active(now time.Time, threshold time.Duration) []string {
	cutoff := now.Add(-threshold)
	var names []string
	for _, u := range s.list.Values() {
		if u.LastActive.After(cutoff) {
			names = append(names, u.Name)
		}
	}
	return names
}

func (s *UserSet) Len() int {
	return s.list.Len()
}
