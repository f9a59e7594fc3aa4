// Package syncagent keeps a client's view of a ride in step with the
// server. Push is the primary source; polling is a fallback that only runs
// while push is unavailable.
package syncagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// Mode is how the view is currently being refreshed.
type Mode string

const (
	ModeConnecting Mode = "connecting"
	ModePush       Mode = "push"
	ModePoll       Mode = "poll"
	ModeStopped    Mode = "stopped"
)

// Stream is an open realtime subscription. Events is closed when the
// subscription drops.
type Stream interface {
	Events() <-chan models.RideEvent
	Close() error
}

// Source is the ride read path.
type Source interface {
	Ride(ctx context.Context, id uint) (models.Ride, error)
}

// Subscriber opens realtime subscriptions for one ride.
type Subscriber interface {
	SubscribeRide(ctx context.Context, id uint) (Stream, error)
}

// Writer is the ride write path used for local actions.
type Writer interface {
	UpdateStatus(ctx context.Context, id uint, to models.RideStatus, finalPrice *float64) (models.Ride, error)
	Accept(ctx context.Context, id uint) (models.Ride, error)
}

// View is the client's merged picture of one ride: the last confirmed
// server state plus at most one unconfirmed local status.
type View struct {
	Ride      models.Ride
	Overlay   *models.RideStatus
	Mode      Mode
	LastError error
}

// Status is the status to show: the optimistic one while a local action
// is unconfirmed, otherwise the confirmed one.
func (v View) Status() models.RideStatus {
	if v.Overlay != nil {
		return *v.Overlay
	}
	return v.Ride.Status
}

// Options tune an Agent. Zero values pick the defaults.
type Options struct {
	// UserID is the local principal, used to recognise its own accept
	// after a timeout.
	UserID          uint
	ActiveInterval  time.Duration
	PendingInterval time.Duration
	AcceptTimeout   time.Duration
	Logger          *slog.Logger
	// Done, when closed, stops Run as if its context were cancelled.
	Done <-chan struct{}
}

// Agent maintains the View of one ride.
type Agent struct {
	rideID uint
	source Source
	subs   Subscriber
	writer Writer
	opts   Options

	pulls   singleflight.Group
	changed chan struct{}

	mu       sync.Mutex
	view     View
	pulledAt time.Time
}

func New(rideID uint, source Source, subs Subscriber, writer Writer, opts Options) *Agent {
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Agent{
		rideID:  rideID,
		source:  source,
		subs:    subs,
		writer:  writer,
		opts:    opts,
		changed: make(chan struct{}, 1),
		view:    View{Mode: ModeConnecting},
	}
}

// View returns a copy of the current view.
func (a *Agent) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.view
	v.Ride = v.Ride.Clone()
	if v.Overlay != nil {
		o := *v.Overlay
		v.Overlay = &o
	}
	return v
}

// Changed receives a signal after the view changes. Signals coalesce;
// read View after each one.
func (a *Agent) Changed() <-chan struct{} {
	return a.changed
}

func (a *Agent) notify() {
	select {
	case a.changed <- struct{}{}:
	default:
	}
}

func (a *Agent) update(fn func(v *View) bool) {
	a.mu.Lock()
	changed := fn(&a.view)
	a.mu.Unlock()
	if changed {
		a.notify()
	}
}

// apply merges a server-originated update and clears a matched or
// superseded overlay.
func (a *Agent) apply(merge func(models.Ride) (models.Ride, bool)) {
	a.update(func(v *View) bool {
		next, ok := merge(v.Ride)
		if !ok {
			return false
		}
		v.Ride = next
		if v.Overlay != nil && next.Status.Rank() >= v.Overlay.Rank() {
			v.Overlay = nil
		}
		return true
	})
}

func (a *Agent) setMode(m Mode) {
	a.update(func(v *View) bool {
		if v.Mode == m {
			return false
		}
		v.Mode = m
		return true
	})
}

func (a *Agent) setError(err error) {
	a.update(func(v *View) bool {
		v.LastError = err
		return true
	})
}

func (a *Agent) terminal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view.Ride.ID != 0 && a.view.Ride.Status.Terminal() && a.view.Overlay == nil
}

func (a *Agent) status() models.RideStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.view.Ride.ID == 0 {
		return models.RideStatusPending
	}
	return a.view.Ride.Status
}

// Pull fetches the current ride and merges it. Concurrent pulls share one
// request. A failed pull leaves the view as it was.
func (a *Agent) Pull(ctx context.Context) error {
	a.mu.Lock()
	a.pulledAt = time.Now()
	a.mu.Unlock()

	v, err, _ := a.pulls.Do(strconv.FormatUint(uint64(a.rideID), 10), func() (any, error) {
		return a.source.Ride(ctx, a.rideID)
	})
	if err != nil {
		a.setError(err)
		return err
	}
	pulled := v.(models.Ride)
	a.apply(func(cur models.Ride) (models.Ride, bool) { return MergeSnapshot(cur, pulled) })
	return nil
}

func (a *Agent) hasSnapshot() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view.Ride.ID != 0
}

func (a *Agent) lastPull() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pulledAt
}

// interval is the refresh interval for the current status. Terminal rides
// are not polled, but a terminal ride still under an overlay falls back to
// the pending interval.
func (a *Agent) interval() time.Duration {
	if d := PollInterval(a.status(), a.opts.ActiveInterval, a.opts.PendingInterval); d > 0 {
		return d
	}
	return PollInterval(models.RideStatusPending, a.opts.ActiveInterval, a.opts.PendingInterval)
}

// Run keeps the view current until ctx is cancelled, Options.Done is
// closed, the credentials are rejected or the ride reaches a terminal
// status. Other subscription and pull failures are never returned; they
// move the agent to polling.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := withDone(ctx, a.opts.Done)
	defer cancel()
	defer a.setMode(ModeStopped)

	logger := a.opts.Logger.With("ride_id", a.rideID)
	if err := a.Pull(ctx); err != nil {
		if errors.Is(err, apperr.ErrUnauthenticated) {
			return err
		}
		logger.Warn("initial pull failed", "error", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.terminal() {
			return nil
		}

		// A dial that hangs must not stretch the refresh interval.
		sctx, scancel := context.WithTimeout(ctx, a.interval())
		stream, err := a.subs.SubscribeRide(sctx, a.rideID)
		scancel()
		if errors.Is(err, apperr.ErrUnauthenticated) {
			a.setError(err)
			return err
		}
		if err != nil {
			logger.Info("realtime unavailable, polling", "error", err)
			if err := a.poll(ctx); err != nil {
				return err
			}
			continue
		}

		a.setMode(ModePush)
		// Anything published before the subscription opened is only
		// visible through the read path.
		_ = a.Pull(ctx)
		a.consume(ctx, stream)
		_ = stream.Close()
		if ctx.Err() == nil && !a.terminal() {
			logger.Info("realtime dropped, polling")
			if err := a.poll(ctx); err != nil {
				return err
			}
		}
	}
}

// consume merges events until the stream drops, ctx ends or the ride is
// terminal. Until a snapshot has been pulled it keeps retrying the pull.
func (a *Agent) consume(ctx context.Context, stream Stream) {
	var retry <-chan time.Time
	if !a.hasSnapshot() {
		t := time.NewTicker(a.interval())
		defer t.Stop()
		retry = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-retry:
			err := a.Pull(ctx)
			if errors.Is(err, apperr.ErrUnauthenticated) {
				return
			}
			if a.hasSnapshot() {
				retry = nil
			}
			if a.terminal() {
				return
			}
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			a.apply(func(cur models.Ride) (models.Ride, bool) { return Merge(cur, ev) })
			if a.terminal() {
				return
			}
		}
	}
}

// poll waits until one interval for the current status has passed since
// the last pull, pulls, and returns so the caller can retry the
// subscription.
func (a *Agent) poll(ctx context.Context) error {
	a.setMode(ModePoll)
	if err := sleepUntil(ctx, a.lastPull().Add(a.interval())); err != nil {
		return err
	}
	if err := a.Pull(ctx); err != nil {
		if errors.Is(err, apperr.ErrUnauthenticated) {
			return err
		}
		a.opts.Logger.Debug("poll failed", "ride_id", a.rideID, "error", err)
	}
	return nil
}

// sleepUntil waits for the wall clock to reach t or ctx to end.
func sleepUntil(ctx context.Context, t time.Time) error {
	wait := time.Until(t)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withDone derives a context that also ends when done is closed.
func withDone(ctx context.Context, done <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	if done != nil {
		go func() {
			select {
			case <-done:
				cancel()
			case <-ctx.Done():
			}
		}()
	}
	return ctx, cancel
}

// Transition requests a status change on behalf of the local user. The
// view shows to immediately; on failure it reverts and err is returned.
func (a *Agent) Transition(ctx context.Context, to models.RideStatus, finalPrice *float64) (models.Ride, error) {
	a.setOverlay(to)
	ride, err := a.writer.UpdateStatus(ctx, a.rideID, to, finalPrice)
	if err != nil {
		a.rollback(err)
		return models.Ride{}, err
	}
	a.apply(func(cur models.Ride) (models.Ride, bool) { return MergeSnapshot(cur, ride) })
	return ride, nil
}

// Accept claims the ride for the local driver. A timed-out attempt is
// never retried: the ride is re-pulled, and if that does not show the
// claim the caller gets apperr.ErrOutcomeUnknown.
func (a *Agent) Accept(ctx context.Context) (models.Ride, error) {
	a.setOverlay(models.RideStatusAccepted)

	actx, cancel := context.WithTimeout(ctx, a.opts.AcceptTimeout)
	ride, err := a.writer.Accept(actx, a.rideID)
	cancel()
	if err == nil {
		a.apply(func(cur models.Ride) (models.Ride, bool) { return MergeSnapshot(cur, ride) })
		return ride, nil
	}
	if !apperr.IsTimeout(err) && !errors.Is(err, context.DeadlineExceeded) {
		a.rollback(err)
		return models.Ride{}, err
	}

	if perr := a.Pull(ctx); perr == nil {
		v := a.View()
		switch {
		case v.Ride.Status == models.RideStatusAccepted && v.Ride.HasDriver(a.opts.UserID):
			return v.Ride, nil
		case v.Ride.Status != models.RideStatusPending:
			a.rollback(apperr.ErrAlreadyAccepted)
			return models.Ride{}, apperr.ErrAlreadyAccepted
		}
	}
	unknown := fmt.Errorf("%w: %v", apperr.ErrOutcomeUnknown, err)
	a.rollback(unknown)
	return models.Ride{}, unknown
}

func (a *Agent) setOverlay(to models.RideStatus) {
	a.update(func(v *View) bool {
		v.Overlay = &to
		v.LastError = nil
		return true
	})
}

func (a *Agent) rollback(err error) {
	a.update(func(v *View) bool {
		v.Overlay = nil
		v.LastError = err
		return true
	})
}
