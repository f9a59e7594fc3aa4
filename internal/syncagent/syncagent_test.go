package syncagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/logging"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func uintp(v uint) *uint { return &v }

func ride(status models.RideStatus, at time.Time) models.Ride {
	r := models.Ride{ID: 1, PassengerID: 5, Status: status, CreatedAt: t0, UpdatedAt: at, VehicleType: models.VehicleTypeStandard}
	if status.Active() || status == models.RideStatusCompleted {
		r.DriverID = uintp(9)
	}
	return r
}

type fakeSource struct {
	mu       sync.Mutex
	ride     models.Ride
	err      error
	failures int // pulls left to fail before err applies
	pulls    []time.Time
}

func (s *fakeSource) Ride(_ context.Context, _ uint) (models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls = append(s.pulls, time.Now())
	if s.failures > 0 {
		s.failures--
		return models.Ride{}, &apperr.TransportError{Op: "get ride", Err: errors.New("connection reset")}
	}
	if s.err != nil {
		return models.Ride{}, s.err
	}
	return s.ride.Clone(), nil
}

func (s *fakeSource) set(r models.Ride) {
	s.mu.Lock()
	s.ride = r
	s.mu.Unlock()
}

func (s *fakeSource) pullsSince(t time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pulls {
		if !p.Before(t) {
			n++
		}
	}
	return n
}

type fakeStream struct {
	events chan models.RideEvent
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan models.RideEvent, 16)}
}

func (s *fakeStream) Events() <-chan models.RideEvent { return s.events }

func (s *fakeStream) Close() error { return nil }

func (s *fakeStream) drop() { s.once.Do(func() { close(s.events) }) }

type fakeSubscriber struct {
	mu       sync.Mutex
	failures int // remaining failures, -1 fails forever
	streams  chan *fakeStream
	attempts int
}

func newFakeSubscriber(failures int) *fakeSubscriber {
	return &fakeSubscriber{failures: failures, streams: make(chan *fakeStream, 4)}
}

func (s *fakeSubscriber) SubscribeRide(context.Context, uint) (Stream, error) {
	return s.open()
}

func (s *fakeSubscriber) SubscribePending(context.Context) (Stream, error) {
	return s.open()
}

func (s *fakeSubscriber) open() (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return nil, errors.New("dial refused")
	}
	st := newFakeStream()
	s.streams <- st
	return st, nil
}

func (s *fakeSubscriber) next(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case st := <-s.streams:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription opened")
	}
	return nil
}

type fakeWriter struct {
	update func(to models.RideStatus) (models.Ride, error)
	accept func(ctx context.Context) (models.Ride, error)
}

func (w *fakeWriter) UpdateStatus(_ context.Context, _ uint, to models.RideStatus, _ *float64) (models.Ride, error) {
	return w.update(to)
}

func (w *fakeWriter) Accept(ctx context.Context, _ uint) (models.Ride, error) {
	return w.accept(ctx)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestMergeDiscardsStaleEvents(t *testing.T) {
	current := ride(models.RideStatusAccepted, t0.Add(time.Minute))

	tests := []struct {
		name  string
		ev    models.RideEvent
		apply bool
	}{
		{"earlier status", models.RideEvent{RideID: 1, Status: models.RideStatusPending, UpdatedAt: t0.Add(time.Hour)}, false},
		{"same status older", models.RideEvent{RideID: 1, Status: models.RideStatusAccepted, UpdatedAt: t0}, false},
		{"same status newer", models.RideEvent{RideID: 1, Status: models.RideStatusAccepted, UpdatedAt: t0.Add(2 * time.Minute)}, true},
		{"later status", models.RideEvent{RideID: 1, Status: models.RideStatusInProgress, UpdatedAt: t0.Add(2 * time.Minute)}, true},
		{"other ride", models.RideEvent{RideID: 2, Status: models.RideStatusInProgress, UpdatedAt: t0.Add(2 * time.Minute)}, false},
		{"unknown status", models.RideEvent{RideID: 1, Status: "teleported", UpdatedAt: t0.Add(2 * time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Merge(current, tt.ev)
			if ok != tt.apply {
				t.Fatalf("applied = %v", ok)
			}
			if !ok && got.Status != current.Status {
				t.Fatalf("discarded event changed view to %s", got.Status)
			}
		})
	}

	done := ride(models.RideStatusCompleted, t0.Add(time.Hour))
	if _, ok := Merge(done, models.RideEvent{RideID: 1, Status: models.RideStatusCancelled, UpdatedAt: t0.Add(2 * time.Hour)}); ok {
		t.Fatal("terminal status replaced by another terminal status")
	}
}

func TestMergePartialEventKeepsAbsentFields(t *testing.T) {
	current := ride(models.RideStatusInProgress, t0.Add(time.Minute))
	current.PickupAddress = "CBD"
	completedAt := t0.Add(time.Hour)
	price := 14.0

	got, ok := Merge(current, models.RideEvent{
		RideID:      1,
		Status:      models.RideStatusCompleted,
		UpdatedAt:   completedAt,
		FinalPrice:  &price,
		CompletedAt: &completedAt,
	})
	if !ok {
		t.Fatal("not applied")
	}
	if got.PickupAddress != "CBD" || !got.HasDriver(9) {
		t.Fatalf("absent fields lost: %+v", got)
	}
	if got.FinalPrice == nil || *got.FinalPrice != price || got.CompletedAt == nil {
		t.Fatalf("carried fields not applied: %+v", got)
	}

	cancelled, _ := Merge(ride(models.RideStatusAccepted, t0), models.RideEvent{RideID: 1, Status: models.RideStatusCancelled, UpdatedAt: t0.Add(time.Second)})
	if cancelled.DriverID != nil {
		t.Fatal("cancelled view kept its driver")
	}
}

func TestPollIntervalNeverZeroForLiveRides(t *testing.T) {
	for _, s := range []models.RideStatus{models.RideStatusPending, models.RideStatusAccepted, models.RideStatusInProgress} {
		if PollInterval(s, 0, -time.Second) <= 0 {
			t.Fatalf("%s polls with zero interval", s)
		}
	}
	if got := PollInterval(models.RideStatusAccepted, 0, 0); got != DefaultActiveInterval {
		t.Fatalf("active interval %v", got)
	}
	if got := PollInterval(models.RideStatusPending, 0, 0); got != DefaultPendingInterval {
		t.Fatalf("pending interval %v", got)
	}
	for _, s := range []models.RideStatus{models.RideStatusCompleted, models.RideStatusCancelled} {
		if PollInterval(s, time.Second, time.Second) != 0 {
			t.Fatalf("%s still polled", s)
		}
	}
}

func newAgent(src *fakeSource, subs Subscriber, w *fakeWriter) *Agent {
	if w == nil {
		w = &fakeWriter{}
	}
	return New(1, src, subs, w, Options{
		UserID:          9,
		ActiveInterval:  10 * time.Millisecond,
		PendingInterval: 60 * time.Millisecond,
		AcceptTimeout:   30 * time.Millisecond,
		Logger:          logging.Discard(),
	})
}

func TestAgentFollowsPush(t *testing.T) {
	src := &fakeSource{ride: ride(models.RideStatusAccepted, t0)}
	subs := newFakeSubscriber(0)
	a := newAgent(src, subs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	stream := subs.next(t)
	waitFor(t, "push mode", func() bool { return a.View().Mode == ModePush })
	// Initial snapshot plus the reconcile pull after subscribing.
	waitFor(t, "reconcile pull", func() bool { return src.pullsSince(time.Time{}) == 2 })
	pulls := 2

	stream.events <- models.RideEvent{RideID: 1, Status: models.RideStatusInProgress, UpdatedAt: t0.Add(time.Minute)}
	waitFor(t, "in_progress", func() bool { return a.View().Status() == models.RideStatusInProgress })

	// A stale event does not move the view backwards.
	stream.events <- models.RideEvent{RideID: 1, Status: models.RideStatusAccepted, UpdatedAt: t0.Add(2 * time.Minute)}
	time.Sleep(30 * time.Millisecond)
	if got := a.View().Status(); got != models.RideStatusInProgress {
		t.Fatalf("stale event applied: %s", got)
	}
	if got := src.pullsSince(time.Time{}); got != pulls {
		t.Fatalf("agent polled while push was healthy: %d pulls, want %d", got, pulls)
	}

	completed := ride(models.RideStatusCompleted, t0.Add(time.Hour))
	stream.events <- models.NewRideEvent(models.RideEventStatusChanged, completed)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("agent kept running after completion")
	}
	if v := a.View(); v.Mode != ModeStopped || v.Ride.Status != models.RideStatusCompleted {
		t.Fatalf("final view %+v", v)
	}
}

func TestAgentFallsBackToPollingAndShortensInterval(t *testing.T) {
	src := &fakeSource{ride: ride(models.RideStatusPending, t0)}
	subs := newFakeSubscriber(-1)
	a := newAgent(src, subs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	waitFor(t, "poll mode", func() bool { return a.View().Mode == ModePoll })
	start := time.Now()
	time.Sleep(200 * time.Millisecond)
	pendingPulls := src.pullsSince(start)
	if pendingPulls == 0 || pendingPulls > 5 {
		t.Fatalf("%d pulls in 200ms while pending", pendingPulls)
	}

	src.set(ride(models.RideStatusAccepted, t0.Add(time.Minute)))
	waitFor(t, "accepted", func() bool { return a.View().Ride.Status == models.RideStatusAccepted })
	start = time.Now()
	time.Sleep(200 * time.Millisecond)
	if activePulls := src.pullsSince(start); activePulls <= pendingPulls {
		t.Fatalf("active polling not faster: %d pulls vs %d while pending", activePulls, pendingPulls)
	}

	src.set(ride(models.RideStatusCompleted, t0.Add(time.Hour)))
	waitFor(t, "stopped", func() bool { return a.View().Mode == ModeStopped })
	stoppedAt := src.pullsSince(time.Time{})
	time.Sleep(50 * time.Millisecond)
	if src.pullsSince(time.Time{}) != stoppedAt {
		t.Fatal("polling continued after completion")
	}
}

func TestAgentResubscribesAfterDrop(t *testing.T) {
	src := &fakeSource{ride: ride(models.RideStatusAccepted, t0)}
	subs := newFakeSubscriber(0)
	a := newAgent(src, subs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	first := subs.next(t)
	subs.mu.Lock()
	subs.failures = 2
	subs.mu.Unlock()

	src.set(ride(models.RideStatusInProgress, t0.Add(time.Minute)))
	first.drop()

	waitFor(t, "reconciled by pull", func() bool { return a.View().Ride.Status == models.RideStatusInProgress })
	second := subs.next(t)
	waitFor(t, "push again", func() bool { return a.View().Mode == ModePush })

	second.events <- models.RideEvent{RideID: 1, Status: models.RideStatusCancelled, UpdatedAt: t0.Add(time.Hour)}
	waitFor(t, "cancelled", func() bool { return a.View().Mode == ModeStopped })
}

// flappingSubscriber accepts every subscription and drops it at once.
type flappingSubscriber struct {
	mu       sync.Mutex
	attempts int
}

func (s *flappingSubscriber) SubscribeRide(context.Context, uint) (Stream, error) {
	return s.open()
}

func (s *flappingSubscriber) SubscribePending(context.Context) (Stream, error) {
	return s.open()
}

func (s *flappingSubscriber) open() (Stream, error) {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	st := newFakeStream()
	st.drop()
	return st, nil
}

func (s *flappingSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// hangingSubscriber never completes a handshake.
type hangingSubscriber struct{}

func (hangingSubscriber) SubscribeRide(ctx context.Context, _ uint) (Stream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingSubscriber) SubscribePending(ctx context.Context) (Stream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAgentFlappingStreamKeepsPollCadence(t *testing.T) {
	src := &fakeSource{ride: ride(models.RideStatusPending, t0)}
	subs := &flappingSubscriber{}
	a := newAgent(src, subs, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = a.Run(ctx)

	// 60ms pending interval: about five subscribe cycles of two pulls each.
	if n := subs.count(); n == 0 || n > 10 {
		t.Fatalf("%d subscriptions in 300ms", n)
	}
	if n := src.pullsSince(time.Time{}); n > 20 {
		t.Fatalf("%d pulls in 300ms", n)
	}
	if m := a.View().Mode; m != ModeStopped {
		t.Fatalf("mode after cancel = %s", m)
	}
}

func TestAgentHangingDialStillPolls(t *testing.T) {
	src := &fakeSource{ride: ride(models.RideStatusAccepted, t0)}
	a := newAgent(src, hangingSubscriber{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = a.Run(ctx)

	// Active rides poll every 10ms; a dial that never returns must not
	// hold the agent on its first snapshot.
	if n := src.pullsSince(time.Time{}); n < 4 {
		t.Fatalf("only %d pulls in 300ms behind a hanging dial", n)
	}
}

func TestAgentRetriesSnapshotWhilePushHealthy(t *testing.T) {
	src := &fakeSource{ride: ride(models.RideStatusPending, t0), failures: 2}
	subs := newFakeSubscriber(0)
	a := newAgent(src, subs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	subs.next(t)
	waitFor(t, "snapshot", func() bool { return a.View().Ride.ID == 1 })
	if m := a.View().Mode; m != ModePush {
		t.Fatalf("mode = %s, want push", m)
	}

	// Once the snapshot is in, push alone keeps it current.
	settled := time.Now()
	time.Sleep(150 * time.Millisecond)
	if n := src.pullsSince(settled); n != 0 {
		t.Fatalf("%d pulls after snapshot while push was healthy", n)
	}
}

func TestAgentStopsOnDone(t *testing.T) {
	src := &fakeSource{ride: ride(models.RideStatusAccepted, t0)}
	subs := newFakeSubscriber(0)
	done := make(chan struct{})
	a := New(1, src, subs, &fakeWriter{}, Options{ActiveInterval: 10 * time.Millisecond, Logger: logging.Discard(), Done: done})

	result := make(chan error, 1)
	go func() { result <- a.Run(context.Background()) }()
	subs.next(t)
	waitFor(t, "push mode", func() bool { return a.View().Mode == ModePush })

	close(done)
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("agent kept running after done")
	}
	if m := a.View().Mode; m != ModeStopped {
		t.Fatalf("mode = %s", m)
	}
}

func TestAgentStopsWhenUnauthenticated(t *testing.T) {
	src := &fakeSource{ride: ride(models.RideStatusAccepted, t0), err: apperr.ErrUnauthenticated}
	a := newAgent(src, newFakeSubscriber(-1), nil)

	result := make(chan error, 1)
	go func() { result <- a.Run(context.Background()) }()
	select {
	case err := <-result:
		if !errors.Is(err, apperr.ErrUnauthenticated) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("agent kept polling with rejected credentials")
	}
}

func TestAgentPullFailureKeepsView(t *testing.T) {
	src := &fakeSource{ride: ride(models.RideStatusAccepted, t0)}
	a := newAgent(src, newFakeSubscriber(-1), nil)
	if err := a.Pull(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.mu.Lock()
	src.err = &apperr.TransportError{Op: "get ride", Err: errors.New("connection reset")}
	src.mu.Unlock()

	if err := a.Pull(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	v := a.View()
	if v.Ride.Status != models.RideStatusAccepted || v.LastError == nil {
		t.Fatalf("view after failed pull %+v", v)
	}
}

func TestTransitionOverlay(t *testing.T) {
	src := &fakeSource{ride: ride(models.RideStatusAccepted, t0)}
	release := make(chan struct{})
	w := &fakeWriter{update: func(to models.RideStatus) (models.Ride, error) {
		<-release
		return ride(to, t0.Add(time.Minute)), nil
	}}
	a := newAgent(src, newFakeSubscriber(-1), w)
	_ = a.Pull(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := a.Transition(context.Background(), models.RideStatusInProgress, nil); err != nil {
			t.Error(err)
		}
	}()
	waitFor(t, "overlay", func() bool { return a.View().Overlay != nil })
	if v := a.View(); v.Status() != models.RideStatusInProgress || v.Ride.Status != models.RideStatusAccepted {
		t.Fatalf("optimistic view %+v", v)
	}
	close(release)
	<-done
	if v := a.View(); v.Overlay != nil || v.Ride.Status != models.RideStatusInProgress {
		t.Fatalf("confirmed view %+v", v)
	}
}

func TestTransitionRollback(t *testing.T) {
	src := &fakeSource{ride: ride(models.RideStatusAccepted, t0)}
	w := &fakeWriter{update: func(to models.RideStatus) (models.Ride, error) {
		return models.Ride{}, &apperr.InvalidTransitionError{From: models.RideStatusCancelled, To: to}
	}}
	a := newAgent(src, newFakeSubscriber(-1), w)
	_ = a.Pull(context.Background())

	_, err := a.Transition(context.Background(), models.RideStatusInProgress, nil)
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("got %v", err)
	}
	v := a.View()
	if v.Overlay != nil || v.Status() != models.RideStatusAccepted || !errors.Is(v.LastError, apperr.ErrInvalidTransition) {
		t.Fatalf("view after rollback %+v", v)
	}
}

func TestAcceptTimeoutRepulls(t *testing.T) {
	slow := func(ctx context.Context) (models.Ride, error) {
		<-ctx.Done()
		return models.Ride{}, &apperr.TransportError{Op: "accept ride", Timeout: true, Err: ctx.Err()}
	}

	t.Run("claim landed", func(t *testing.T) {
		src := &fakeSource{ride: ride(models.RideStatusPending, t0)}
		a := newAgent(src, newFakeSubscriber(-1), &fakeWriter{accept: func(ctx context.Context) (models.Ride, error) {
			src.set(ride(models.RideStatusAccepted, t0.Add(time.Second)))
			return slow(ctx)
		}})
		_ = a.Pull(context.Background())
		got, err := a.Accept(context.Background())
		if err != nil || !got.HasDriver(9) {
			t.Fatalf("got %+v, %v", got, err)
		}
	})

	t.Run("still pending", func(t *testing.T) {
		src := &fakeSource{ride: ride(models.RideStatusPending, t0)}
		a := newAgent(src, newFakeSubscriber(-1), &fakeWriter{accept: slow})
		_ = a.Pull(context.Background())
		_, err := a.Accept(context.Background())
		if !errors.Is(err, apperr.ErrOutcomeUnknown) {
			t.Fatalf("got %v", err)
		}
		if v := a.View(); v.Overlay != nil || v.Status() != models.RideStatusPending {
			t.Fatalf("view %+v", v)
		}
	})

	t.Run("lost to another driver", func(t *testing.T) {
		src := &fakeSource{ride: ride(models.RideStatusPending, t0)}
		a := newAgent(src, newFakeSubscriber(-1), &fakeWriter{accept: func(ctx context.Context) (models.Ride, error) {
			other := ride(models.RideStatusAccepted, t0.Add(time.Second))
			other.DriverID = uintp(77)
			src.set(other)
			return slow(ctx)
		}})
		_ = a.Pull(context.Background())
		if _, err := a.Accept(context.Background()); !errors.Is(err, apperr.ErrAlreadyAccepted) {
			t.Fatalf("got %v", err)
		}
	})
}

func TestPendingBoard(t *testing.T) {
	pending := func(id uint, vt models.VehicleType) models.Ride {
		return models.Ride{ID: id, Status: models.RideStatusPending, VehicleType: vt, CreatedAt: t0.Add(time.Duration(id) * time.Second), UpdatedAt: t0}
	}
	src := &boardSource{rides: []models.Ride{pending(1, models.VehicleTypeStandard), pending(2, models.VehicleTypeStandard)}}
	subs := newFakeSubscriber(0)
	b := NewPendingBoard(src, subs, BoardOptions{
		Accept:   func(r models.Ride) bool { return r.VehicleType == models.VehicleTypeStandard },
		Interval: 20 * time.Millisecond,
		Logger:   logging.Discard(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()
	stream := subs.next(t)
	waitFor(t, "initial list", func() bool { return len(b.Rides()) == 2 })

	stream.events <- models.NewRideEvent(models.RideEventCreated, pending(3, models.VehicleTypeStandard))
	stream.events <- models.NewRideEvent(models.RideEventCreated, pending(4, models.VehicleTypeXL))
	waitFor(t, "new ride", func() bool { return len(b.Rides()) == 3 })

	// Another driver won ride 1; a late duplicate of its creation event
	// must not bring it back.
	accepted := pending(1, models.VehicleTypeStandard)
	accepted.Status = models.RideStatusAccepted
	accepted.DriverID = uintp(77)
	stream.events <- models.NewRideEvent(models.RideEventAccepted, accepted)
	stream.events <- models.NewRideEvent(models.RideEventCreated, pending(1, models.VehicleTypeStandard))
	waitFor(t, "ride 1 removed", func() bool {
		rides := b.Rides()
		return len(rides) == 2 && rides[0].ID == 2 && rides[1].ID == 3
	})

	b.Remove(2)
	if rides := b.Rides(); len(rides) != 1 || rides[0].ID != 3 {
		t.Fatalf("after remove %+v", rides)
	}
}

func TestPendingBoardPollsWithoutPush(t *testing.T) {
	src := &boardSource{}
	b := NewPendingBoard(src, newFakeSubscriber(-1), BoardOptions{Interval: 10 * time.Millisecond, Logger: logging.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	waitFor(t, "poll mode", func() bool { return b.Mode() == ModePoll })
	src.mu.Lock()
	src.rides = []models.Ride{{ID: 8, Status: models.RideStatusPending, UpdatedAt: t0}}
	src.mu.Unlock()
	waitFor(t, "polled ride", func() bool { return len(b.Rides()) == 1 })
}

type boardSource struct {
	mu    sync.Mutex
	rides []models.Ride
	calls int
}

func (s *boardSource) AvailableRides(context.Context) ([]models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := make([]models.Ride, len(s.rides))
	copy(out, s.rides)
	return out, nil
}

func TestPendingBoardFlappingStreamKeepsPollCadence(t *testing.T) {
	src := &boardSource{}
	subs := &flappingSubscriber{}
	b := NewPendingBoard(src, subs, BoardOptions{Interval: 20 * time.Millisecond, Logger: logging.Discard()})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = b.Run(ctx)

	if n := subs.count(); n == 0 || n > 25 {
		t.Fatalf("%d subscriptions in 300ms", n)
	}
	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls > 40 {
		t.Fatalf("%d refreshes in 300ms", calls)
	}
	if m := b.Mode(); m != ModeStopped {
		t.Fatalf("mode after cancel = %s", m)
	}
}
