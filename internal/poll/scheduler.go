// Package poll drives periodic message fetches: it selects which users to
// poll based on recent activity, bounds the number of in-flight requests, and
// hands each response to the reconciliation engine.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentworkforce/relaychat/internal/eventbus"
	"github.com/agentworkforce/relaychat/internal/reconcile"
	"github.com/agentworkforce/relaychat/internal/state"
	"github.com/agentworkforce/relaychat/internal/transport"
)

// ErrAlreadyPolling is returned by Start when the scheduler is running.
var ErrAlreadyPolling = errors.New("already polling for updates")

// Logger is the minimal logging surface the scheduler needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Config tunes the polling cadence.
type Config struct {
	// Interval is the base tick between poll attempts.
	Interval time.Duration
	// InactiveInterval is the minimum time between polls that include
	// inactive users.
	InactiveInterval time.Duration
	// ActiveThreshold is how recently a user must have been active to be
	// included in an active-only cycle.
	ActiveThreshold time.Duration
	// MaxConcurrent bounds in-flight polls; cycles beyond it are dropped,
	// never queued. Values below 1 are treated as 1.
	MaxConcurrent int
}

// Scheduler owns the poll timer and the in-flight slot pool.
type Scheduler struct {
	client transport.Client
	st     *state.State
	rec    *reconcile.Reconciler
	bus    *eventbus.Bus
	logger Logger

	mu           sync.Mutex
	cfg          Config
	running      bool
	stop         chan struct{}
	retime       chan time.Duration
	slots        chan struct{}
	lastFullPoll time.Time

	wg sync.WaitGroup
}

func NewScheduler(client transport.Client, st *state.State, rec *reconcile.Reconciler, cfg Config, logger Logger) *Scheduler {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Scheduler{
		client: client,
		st:     st,
		rec:    rec,
		bus:    st.Bus(),
		logger: logger,
		cfg:    cfg,
	}
}

// Start begins ticking at the configured interval. It fails when the
// scheduler is already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyPolling
	}
	s.running = true
	s.stop = make(chan struct{})
	s.retime = make(chan time.Duration, 1)
	s.slots = make(chan struct{}, s.cfg.MaxConcurrent)
	s.lastFullPoll = time.Time{}

	go s.run(s.stop, s.retime, s.cfg.Interval)
	return nil
}

// Stop cancels future ticks immediately and waits for in-flight polls to
// settle. It does not abort requests already on the wire. Stopping a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
}

// Running reports whether the timer is live.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetInterval retunes the tick cadence, taking effect immediately when
// running.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.cfg.Interval = d
	if s.running {
		select {
		case s.retime <- d:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) run(stop chan struct{}, retime chan time.Duration, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case d := <-retime:
			ticker.Reset(d)
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one scheduling cycle: claim a slot, select targets, fire the
// poll. A full slot pool drops the cycle rather than queueing it. A dropped
// or empty cycle leaves the full-poll clock untouched, so an all-users poll
// that never fired stays due.
func (s *Scheduler) tick() {
	s.mu.Lock()
	slots := s.slots
	s.mu.Unlock()

	select {
	case slots <- struct{}{}:
	default:
		s.logf("poll deferred: %d polls already in flight", cap(slots))
		return
	}

	now := time.Now()
	users, full := s.selectUsers(now)
	if len(users) == 0 {
		<-slots
		return
	}
	if full {
		s.mu.Lock()
		s.lastFullPoll = now
		s.mu.Unlock()
	}

	epoch := s.st.Epoch()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-slots }()
		s.poll(users, epoch)
	}()
}

// selectUsers applies the cadence rule: once the inactive interval has
// elapsed since the last fired all-users poll, every known user is due; in
// between, only recently active ones. The clock is committed by tick when
// the poll actually fires.
func (s *Scheduler) selectUsers(now time.Time) ([]string, bool) {
	s.mu.Lock()
	full := now.Sub(s.lastFullPoll) > s.cfg.InactiveInterval
	threshold := s.cfg.ActiveThreshold
	s.mu.Unlock()

	if full {
		return s.st.UserNames(), true
	}
	return s.st.ActiveUserNames(threshold), false
}

func (s *Scheduler) poll(users []string, epoch uint64) {
	ctx := context.Background()
	_ = s.bus.Publish(ctx, state.EventFetchPending, users)

	resp, err := s.client.Poll(ctx, "last", users)
	if err != nil {
		_ = s.bus.Publish(ctx, state.EventFetchFailure, state.NewErrorInfo(err))
		return
	}
	if s.st.Epoch() != epoch {
		s.logf("discarding poll response from a previous session")
		return
	}
	if err := s.rec.Apply(ctx, resp); err != nil {
		_ = s.bus.Publish(ctx, state.EventFetchFailure, state.NewErrorInfo(err))
		return
	}
	_ = s.bus.Publish(ctx, state.EventFetchSuccess, users)
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
