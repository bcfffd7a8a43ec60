// Package reconcile maps raw poll responses onto the local entity graph:
// resolving each record to a channel, creating private channels on first
// contact, and inserting messages idempotently.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/relaychat/internal/chat"
	"github.com/agentworkforce/relaychat/internal/state"
	"github.com/agentworkforce/relaychat/internal/transport"
)

// ErrUnknownPublicChannel marks poll records addressed to a public channel
// with no local counterpart. Public channels are never auto-created from poll
// data; such records are skipped but always surfaced, never silently dropped.
var ErrUnknownPublicChannel = errors.New("unknown public channel")

// UnknownPublicChannelError reports one unresolvable public-channel record.
type UnknownPublicChannelError struct {
	User    string
	Channel string
}

func (e *UnknownPublicChannelError) Error() string {
	return fmt.Sprintf("public channel %q referenced for user %q does not exist locally", e.Channel, e.User)
}

func (e *UnknownPublicChannelError) Is(target error) bool {
	return target == ErrUnknownPublicChannel
}

// Reconciler applies poll responses to the state aggregate.
type Reconciler struct {
	state *state.State
}

func New(st *state.State) *Reconciler {
	return &Reconciler{state: st}
}

// Apply reconciles one poll response. Batches for distinct users proceed
// independently; records within one user's batch apply in the order received.
// Applying the same response again mutates nothing and publishes nothing.
//
// Unresolvable records do not abort the pass: the remaining records are still
// applied and the collected errors are returned joined.
func (r *Reconciler) Apply(ctx context.Context, resp *transport.PollResponse) error {
	if resp == nil || len(resp.Chats) == 0 {
		return nil
	}
	var g errgroup.Group
	for username, batch := range resp.Chats {
		username, batch := username, batch
		g.Go(func() error {
			return r.applyUser(ctx, username, batch)
		})
	}
	return g.Wait()
}

func (r *Reconciler) applyUser(ctx context.Context, username string, batch []transport.RawMessage) error {
	u, ok := r.state.User(username)
	if !ok {
		return fmt.Errorf("%w: poll response names %q", state.ErrUnknownUser, username)
	}

	var errs []error
	reported := map[string]bool{} // public channel names already surfaced this pass
	for _, raw := range batch {
		name, typ := destination(username, raw)

		ch, found := r.state.LookupChannel(u, typ, name)
		if !found {
			if typ == chat.Public {
				// Not implemented: joining a public channel after login
				// requires remote channel state we do not have.
				if !reported[name] {
					reported[name] = true
					errs = append(errs, &UnknownPublicChannelError{User: username, Channel: name})
					if err := r.state.AddSystemMessage(ctx,
						fmt.Sprintf("dropped message for unknown channel %q", name), 0, "warning"); err != nil {
						errs = append(errs, err)
					}
				}
				continue
			}
			ch = r.state.NewPrivateChannel(u, name)
			added, err := r.state.AddChannel(ctx, ch)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !added {
				// Another path registered the conversation first; resolve to
				// the surviving channel so no duplicate provisional channel
				// ever exists.
				ch, found = r.state.LookupChannel(u, typ, name)
				if !found {
					errs = append(errs, fmt.Errorf("%w: %s %q vanished during reconciliation", state.ErrUnknownChannel, typ, name))
					continue
				}
			}
			// AddChannel indexed the channel, so later records in this batch
			// addressed to the same correspondent resolve to it instead of
			// creating a duplicate.
		}

		if _, err := r.state.AddMessage(ctx, ch.ID, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// destination determines the channel a record belongs to: an explicit channel
// name means public; otherwise it is the private conversation with whichever
// of from/to is not the polled user.
func destination(username string, raw transport.RawMessage) (string, chat.ChannelType) {
	if raw.Channel != "" {
		return raw.Channel, chat.Public
	}
	if raw.FromUser == username {
		return raw.ToUser, chat.Private
	}
	return raw.FromUser, chat.Private
}
