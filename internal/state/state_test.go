package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/agentworkforce/relaychat/internal/eventbus"
	"github.com/agentworkforce/relaychat/internal/transport"
)

func TestAddUserPublishesUserThenChannelsInNameOrder(t *testing.T) {
	bus := eventbus.New(nil)
	rec := newRecorder(bus, EventAddChatUser, EventAddChannel)
	st := New(bus)

	api := &fakeAPIUser{
		name: "alice",
		channels: map[string]transport.Channel{
			"zulu":  &fakeAPIChannel{name: "zulu"},
			"alpha": &fakeAPIChannel{name: "alpha"},
			"mike":  &fakeAPIChannel{name: "mike"},
		},
	}
	if _, err := st.AddUser(context.Background(), api); err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}

	want := []string{
		EventAddChatUser,
		EventAddChannel, // alpha
		EventAddChannel, // mike
		EventAddChannel, // zulu
	}
	if diff := cmp.Diff(want, rec.names()); diff != "" {
		t.Fatalf("unexpected event order (-want +got):\n%s", diff)
	}

	var channelNames []string
	for _, e := range rec.events() {
		if info, ok := e.payload.(ChannelInfo); ok {
			channelNames = append(channelNames, info.Name)
		}
	}
	if diff := cmp.Diff([]string{"alpha", "mike", "zulu"}, channelNames); diff != "" {
		t.Fatalf("channels not announced in name order (-want +got):\n%s", diff)
	}
}

func TestAddUserTwiceReturnsExisting(t *testing.T) {
	bus := eventbus.New(nil)
	rec := newRecorder(bus, EventAddChatUser)
	st := New(bus)

	first, err := st.AddUser(context.Background(), &fakeAPIUser{name: "alice"})
	if err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	second, err := st.AddUser(context.Background(), &fakeAPIUser{name: "alice"})
	if err != nil {
		t.Fatalf("second AddUser failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected the existing user back")
	}
	if got := len(rec.names()); got != 1 {
		t.Fatalf("expected a single ADD_CHAT_USER, got %d", got)
	}
}

func TestAddChannelUniquenessPerUserTypeName(t *testing.T) {
	bus := eventbus.New(nil)
	rec := newRecorder(bus, EventAddChannel)
	st := New(bus)

	u, _ := st.AddUser(context.Background(), &fakeAPIUser{name: "alice"})

	first := st.NewPrivateChannel(u, "bob")
	if added, err := st.AddChannel(context.Background(), first); err != nil || !added {
		t.Fatalf("first AddChannel returned %v, %v", added, err)
	}
	dup := st.NewPrivateChannel(u, "bob")
	if added, err := st.AddChannel(context.Background(), dup); err != nil || added {
		t.Fatalf("duplicate conversation should be a silent no-op, got %v, %v", added, err)
	}
	if got := len(rec.names()); got != 1 {
		t.Fatalf("expected one ADD_CHANNEL, got %d", got)
	}
	if _, ok := st.Channel(dup.ID); ok {
		t.Fatalf("rejected channel leaked into the global set")
	}
}

func TestAddMessageIsIdempotent(t *testing.T) {
	bus := eventbus.New(nil)
	rec := newRecorder(bus, EventAddMessage)
	st := New(bus)

	u, _ := st.AddUser(context.Background(), &fakeAPIUser{name: "alice"})
	ch := st.NewPrivateChannel(u, "bob")
	st.AddChannel(context.Background(), ch)

	raw := transport.RawMessage{ID: 5, FromUser: "bob", ToUser: "alice", Text: "hi", Time: 100}
	if added, err := st.AddMessage(context.Background(), ch.ID, raw); err != nil || !added {
		t.Fatalf("first AddMessage returned %v, %v", added, err)
	}
	if added, err := st.AddMessage(context.Background(), ch.ID, raw); err != nil || added {
		t.Fatalf("re-delivery should be a silent no-op, got %v, %v", added, err)
	}
	if got := len(rec.names()); got != 1 {
		t.Fatalf("expected one ADD_MESSAGE, got %d", got)
	}
}

func TestAddMessageUnknownChannel(t *testing.T) {
	st := New(eventbus.New(nil))
	_, err := st.AddMessage(context.Background(), 99, transport.RawMessage{ID: 1})
	if !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestRemoveChannelClearsActiveSelection(t *testing.T) {
	bus := eventbus.New(nil)
	st := New(bus)
	ctx := context.Background()

	u, _ := st.AddUser(ctx, &fakeAPIUser{name: "alice"})
	ch := st.NewPrivateChannel(u, "bob")
	st.AddChannel(ctx, ch)
	if err := st.SetActiveUser(ctx, "alice"); err != nil {
		t.Fatalf("SetActiveUser failed: %v", err)
	}
	if err := st.SetActiveChannel(ctx, ch.ID); err != nil {
		t.Fatalf("SetActiveChannel failed: %v", err)
	}

	if err := st.RemoveChannel(ctx, ch.ID); err != nil {
		t.Fatalf("RemoveChannel failed: %v", err)
	}
	if st.ActiveChannel() != nil {
		t.Fatalf("active channel should be cleared with its removal")
	}
	if err := st.RemoveChannel(ctx, ch.ID); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel on second removal, got %v", err)
	}
}

func TestSetActiveUserSemantics(t *testing.T) {
	bus := eventbus.New(nil)
	rec := newRecorder(bus, EventChangeActiveUser)
	st := New(bus)
	ctx := context.Background()

	if err := st.SetActiveUser(ctx, "ghost"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}

	alice, _ := st.AddUser(ctx, &fakeAPIUser{name: "alice"})
	st.AddUser(ctx, &fakeAPIUser{name: "bob"})

	if err := st.SetActiveUser(ctx, "alice"); err != nil {
		t.Fatalf("SetActiveUser failed: %v", err)
	}
	if err := st.SetActiveUser(ctx, "alice"); err != nil {
		t.Fatalf("re-selecting the active user failed: %v", err)
	}
	if got := len(rec.names()); got != 1 {
		t.Fatalf("no-op re-selection published an event, total %d", got)
	}

	before := alice.LastActive
	time.Sleep(5 * time.Millisecond)
	if err := st.SetActiveUser(ctx, "bob"); err != nil {
		t.Fatalf("switching users failed: %v", err)
	}
	if !alice.LastActive.After(before) {
		t.Fatalf("switching away should refresh the previous user's activity")
	}
}

func TestSetActiveChannelRequiresActiveUser(t *testing.T) {
	st := New(eventbus.New(nil))
	ctx := context.Background()

	u, _ := st.AddUser(ctx, &fakeAPIUser{name: "alice"})
	ch := st.NewPrivateChannel(u, "bob")
	st.AddChannel(ctx, ch)

	if err := st.SetActiveChannel(ctx, ch.ID); !errors.Is(err, ErrNoActiveUser) {
		t.Fatalf("expected ErrNoActiveUser, got %v", err)
	}
	st.SetActiveUser(ctx, "alice")
	if err := st.SetActiveChannel(ctx, ch.ID); err != nil {
		t.Fatalf("SetActiveChannel failed: %v", err)
	}
	if err := st.SetActiveChannel(ctx, 404); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestChannelIDsSurviveReset(t *testing.T) {
	st := New(eventbus.New(nil))
	ctx := context.Background()

	u, _ := st.AddUser(ctx, &fakeAPIUser{name: "alice"})
	first := st.NewPrivateChannel(u, "bob")

	epochBefore := st.Epoch()
	st.Reset()
	if st.Epoch() != epochBefore+1 {
		t.Fatalf("Reset should advance the epoch")
	}
	if got := st.UserNames(); len(got) != 0 {
		t.Fatalf("Reset should clear users, got %v", got)
	}

	u2, _ := st.AddUser(ctx, &fakeAPIUser{name: "alice"})
	second := st.NewPrivateChannel(u2, "bob")
	if second.ID <= first.ID {
		t.Fatalf("channel ids must stay monotonic across Reset: %d then %d", first.ID, second.ID)
	}
}

// recorder captures published events in arrival order.
type recorder struct {
	mu   sync.Mutex
	seen []event
}

type event struct {
	name    string
	payload any
}

func newRecorder(bus *eventbus.Bus, names ...string) *recorder {
	r := &recorder{}
	for _, name := range names {
		name := name
		bus.Subscribe(name, func(_ context.Context, payload any) (bool, error) {
			r.mu.Lock()
			r.seen = append(r.seen, event{name: name, payload: payload})
			r.mu.Unlock()
			return false, nil
		})
	}
	return r
}

func (r *recorder) events() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.seen...)
}

func (r *recorder) names() []string {
	var names []string
	for _, e := range r.events() {
		names = append(names, e.name)
	}
	return names
}

type fakeAPIUser struct {
	name     string
	channels map[string]transport.Channel
}

func (u *fakeAPIUser) Name() string { return u.name }

func (u *fakeAPIUser) Channels() map[string]transport.Channel { return u.channels }

func (u *fakeAPIUser) Tell(context.Context, string, string) error { return nil }

type fakeAPIChannel struct {
	name string
}

func (c *fakeAPIChannel) Name() string { return c.name }

func (c *fakeAPIChannel) Users() []string { return nil }

func (c *fakeAPIChannel) LastMessageTime() int64 { return 0 }

func (c *fakeAPIChannel) Send(context.Context, string) error { return nil }
