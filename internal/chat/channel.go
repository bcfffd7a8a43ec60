package chat

import (
	"context"

	"github.com/agentworkforce/relaychat/internal/collection"
	"github.com/agentworkforce/relaychat/internal/transport"
)

// ChannelType distinguishes public channels from private (direct message)
// conversations. The values are the remote service's wire names.
type ChannelType string

const (
	Public  ChannelType = "CHAT"
	Private ChannelType = "TELL"
)

// Channel is a conversation owned by one local user. Public channels carry a
// transport handle and send through it; private channels have no remote
// handle and route sends through the owning user's direct-message capability,
// with Name holding the correspondent.
type Channel struct {
	ID   int64
	User *User
	Name string
	Type ChannelType

	api      transport.Channel // nil for private channels
	messages *collection.List[int64, Message]
}

// NewPublicChannel wraps a remote channel handle. The id must be allocated by
// the owning state aggregate.
func NewPublicChannel(id int64, user *User, api transport.Channel) *Channel {
	return &Channel{
		ID:       id,
		User:     user,
		Name:     api.Name(),
		Type:     Public,
		api:      api,
		messages: collection.New[int64, Message](),
	}
}

// NewPrivateChannel creates the conversation between user and correspondent.
func NewPrivateChannel(id int64, user *User, correspondent string) *Channel {
	return &Channel{
		ID:       id,
		User:     user,
		Name:     correspondent,
		Type:     Private,
		messages: collection.New[int64, Message](),
	}
}

func (c *Channel) Send(ctx context.Context, msg string) error {
	if c.Type == Private {
		return c.User.Tell(ctx, c.Name, msg)
	}
	return c.api.Send(ctx, msg)
}

// AddMessage inserts idempotently: a message id already present leaves the
// channel untouched and returns false.
func (c *Channel) AddMessage(m Message) bool {
	return c.messages.Add(m.ID, m)
}

func (c *Channel) HasMessage(id int64) bool {
	return c.messages.Has(id)
}

// Messages returns the channel's messages in insertion order.
func (c *Channel) Messages() []Message {
	return c.messages.Values()
}

func (c *Channel) MessageCount() int {
	return c.messages.Len()
}

// Users lists the channel's participants. Private channels have exactly the
// owner and the correspondent.
func (c *Channel) Users() []string {
	if c.api != nil {
		return c.api.Users()
	}
	return []string{c.User.Name, c.Name}
}

func (c *Channel) HasUser(name string) bool {
	for _, u := range c.Users() {
		if u == name {
			return true
		}
	}
	return false
}

func (c *Channel) LastMessageTime() int64 {
	if c.api == nil {
		return 0
	}
	return c.api.LastMessageTime()
}

// ChannelSet keeps channels keyed by id in insertion order and maintains the
// (type, name) -> id secondary index used to resolve poll-response
// correspondents without scanning.
type ChannelSet struct {
	list   *collection.List[int64, *Channel]
	lookup map[ChannelType]map[string]int64
}

func NewChannelSet() *ChannelSet {
	return &ChannelSet{
		list:   collection.New[int64, *Channel](),
		lookup: map[ChannelType]map[string]int64{},
	}
}

// Add registers the channel and indexes it. It returns false when the id is
// already present.
func (s *ChannelSet) Add(c *Channel) bool {
	if !s.list.Add(c.ID, c) {
		return false
	}
	byName := s.lookup[c.Type]
	if byName == nil {
		byName = map[string]int64{}
		s.lookup[c.Type] = byName
	}
	byName[c.Name] = c.ID
	return true
}

func (s *ChannelSet) Get(id int64) (*Channel, bool) {
	return s.list.Get(id)
}

func (s *ChannelSet) Has(id int64) bool {
	return s.list.Has(id)
}

// Remove unlinks the channel and drops its index entry. Removing an absent id
// is a no-op returning false.
func (s *ChannelSet) Remove(id int64) (*Channel, bool) {
	c, ok := s.list.Remove(id)
	if !ok {
		return nil, false
	}
	if byName := s.lookup[c.Type]; byName != nil && byName[c.Name] == id {
		delete(byName, c.Name)
	}
	return c, true
}

// Lookup resolves (type, name) to a channel id in O(1).
func (s *ChannelSet) Lookup(typ ChannelType, name string) (int64, bool) {
	id, ok := s.lookup[typ][name]
	return id, ok
}

func (s *ChannelSet) IDs() []int64 {
	return s.list.Keys()
}

func (s *ChannelSet) Channels() []*Channel {
	return s.list.Values()
}

func (s *ChannelSet) Len() int {
	return s.list.Len()
}
