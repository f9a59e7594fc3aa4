package syncagent

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// BoardSource lists the rides currently offered to the local driver.
type BoardSource interface {
	AvailableRides(ctx context.Context) ([]models.Ride, error)
}

// BoardSubscriber opens the pending-rides subscription.
type BoardSubscriber interface {
	SubscribePending(ctx context.Context) (Stream, error)
}

// BoardOptions tune a PendingBoard.
type BoardOptions struct {
	// Accept filters pushed rides, e.g. by vehicle type. Pulled rides are
	// already filtered by the server.
	Accept   func(models.Ride) bool
	Interval time.Duration
	Logger   *slog.Logger
	// Done, when closed, stops Run as if its context were cancelled.
	Done <-chan struct{}
}

// PendingBoard is a driver's list of rides awaiting a driver. Rides leave
// it as soon as any update shows them past pending.
type PendingBoard struct {
	source BoardSource
	subs   BoardSubscriber
	opts   BoardOptions

	changed chan struct{}

	mu    sync.Mutex
	rides map[uint]models.Ride
	// gone remembers rides seen leaving pending so a late pending event
	// cannot bring them back.
	gone        map[uint]struct{}
	mode        Mode
	refreshedAt time.Time
}

func NewPendingBoard(source BoardSource, subs BoardSubscriber, opts BoardOptions) *PendingBoard {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPendingInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PendingBoard{
		source:  source,
		subs:    subs,
		opts:    opts,
		changed: make(chan struct{}, 1),
		rides:   make(map[uint]models.Ride),
		gone:    make(map[uint]struct{}),
		mode:    ModeConnecting,
	}
}

// Rides returns the board oldest first.
func (b *PendingBoard) Rides() []models.Ride {
	b.mu.Lock()
	out := make([]models.Ride, 0, len(b.rides))
	for _, r := range b.rides {
		out = append(out, r.Clone())
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Mode reports how the board is being refreshed.
func (b *PendingBoard) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// Changed receives a coalesced signal after the board changes.
func (b *PendingBoard) Changed() <-chan struct{} {
	return b.changed
}

func (b *PendingBoard) notify() {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

// Remove drops rideID, e.g. after losing an accept race.
func (b *PendingBoard) Remove(rideID uint) {
	b.mu.Lock()
	_, ok := b.rides[rideID]
	delete(b.rides, rideID)
	b.gone[rideID] = struct{}{}
	b.mu.Unlock()
	if ok {
		b.notify()
	}
}

// Refresh replaces the board with the server's list.
func (b *PendingBoard) Refresh(ctx context.Context) error {
	b.mu.Lock()
	b.refreshedAt = time.Now()
	b.mu.Unlock()

	list, err := b.source.AvailableRides(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	next := make(map[uint]models.Ride, len(list))
	for _, r := range list {
		if r.Status != models.RideStatusPending {
			continue
		}
		next[r.ID] = r.Clone()
		delete(b.gone, r.ID)
	}
	b.rides = next
	b.mu.Unlock()
	b.notify()
	return nil
}

// Apply merges one pushed event.
func (b *PendingBoard) Apply(ev models.RideEvent) {
	b.mu.Lock()
	changed := b.apply(ev)
	b.mu.Unlock()
	if changed {
		b.notify()
	}
}

func (b *PendingBoard) apply(ev models.RideEvent) bool {
	current, known := b.rides[ev.RideID]
	if ev.Status != models.RideStatusPending {
		b.gone[ev.RideID] = struct{}{}
		if known {
			delete(b.rides, ev.RideID)
		}
		return known
	}
	if _, left := b.gone[ev.RideID]; left || ev.Ride == nil {
		return false
	}
	if known && Stale(current, ev.Status, ev.UpdatedAt) {
		return false
	}
	if b.opts.Accept != nil && !b.opts.Accept(*ev.Ride) {
		return false
	}
	b.rides[ev.RideID] = ev.Ride.Clone()
	return true
}

func (b *PendingBoard) setMode(m Mode) {
	b.mu.Lock()
	b.mode = m
	b.mu.Unlock()
}

// Run keeps the board current until ctx is cancelled or Options.Done is
// closed, with the same push first policy as Agent.
func (b *PendingBoard) Run(ctx context.Context) error {
	ctx, cancel := withDone(ctx, b.opts.Done)
	defer cancel()
	defer b.setMode(ModeStopped)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sctx, scancel := context.WithTimeout(ctx, b.opts.Interval)
		stream, err := b.subs.SubscribePending(sctx)
		scancel()
		if errors.Is(err, apperr.ErrUnauthenticated) {
			return err
		}
		if err != nil {
			b.opts.Logger.Debug("realtime unavailable, polling", "error", err)
			if err := b.poll(ctx); err != nil {
				return err
			}
			continue
		}

		b.setMode(ModePush)
		if err := b.Refresh(ctx); err != nil {
			b.opts.Logger.Debug("board refresh failed", "error", err)
		}
	consume:
		for {
			select {
			case <-ctx.Done():
				break consume
			case ev, ok := <-stream.Events():
				if !ok {
					break consume
				}
				b.Apply(ev)
			}
		}
		_ = stream.Close()
		if ctx.Err() == nil {
			if err := b.poll(ctx); err != nil {
				return err
			}
		}
	}
}

// poll refreshes once an interval has passed since the last refresh.
func (b *PendingBoard) poll(ctx context.Context) error {
	b.setMode(ModePoll)
	b.mu.Lock()
	due := b.refreshedAt.Add(b.opts.Interval)
	b.mu.Unlock()
	if err := sleepUntil(ctx, due); err != nil {
		return err
	}
	if err := b.Refresh(ctx); err != nil {
		if errors.Is(err, apperr.ErrUnauthenticated) {
			return err
		}
		b.opts.Logger.Debug("board refresh failed", "error", err)
	}
	return nil
}
