// Package tracking streams a driver's position from a platform location
// source to the API.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultUploadEvery is the minimum spacing between location uploads.
const DefaultUploadEvery = 5 * time.Second

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("location request timed out")
)

// Fix is one position sample.
type Fix struct {
	Lat      float64
	Lng      float64
	Accuracy float64 // meters
	At       time.Time
}

// Watch is an open location subscription. Stop releases it and must be
// safe to call more than once.
type Watch interface {
	Fixes() <-chan Fix
	Errors() <-chan error
	Stop()
}

// Source opens location watches.
type Source interface {
	Watch(ctx context.Context) (Watch, error)
}

// Uploader receives accepted fixes.
type Uploader interface {
	UpdateLocation(ctx context.Context, lat, lng float64) error
}

// Tracker forwards fixes from a Source to an Uploader at most once per
// interval. Permission denial stops tracking; unavailable positions and
// timeouts are reported and tracking continues.
type Tracker struct {
	source   Source
	uploader Uploader
	limiter  *rate.Limiter
	logger   *slog.Logger

	warnings chan error

	mu     sync.Mutex
	watch  Watch
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTracker(source Source, uploader Uploader, every time.Duration, logger *slog.Logger) *Tracker {
	if every <= 0 {
		every = DefaultUploadEvery
	}
	return &Tracker{
		source:   source,
		uploader: uploader,
		limiter:  rate.NewLimiter(rate.Every(every), 1),
		logger:   logger,
		warnings: make(chan error, 8),
	}
}

// Warnings reports non-fatal conditions. Warnings are dropped when nobody
// reads them.
func (t *Tracker) Warnings() <-chan error {
	return t.warnings
}

func (t *Tracker) warn(err error) {
	select {
	case t.warnings <- err:
	default:
	}
}

// Start opens a watch and begins forwarding. Starting a running tracker is
// a no-op.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return nil
	}
	w, err := t.source.Watch(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			t.warn(err)
		}
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	t.watch, t.cancel, t.done = w, cancel, make(chan struct{})
	go t.run(ctx, w, t.done)
	return nil
}

// Running reports whether a watch is open.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Close stops the watch and waits for forwarding to end. It is safe to
// call more than once.
func (t *Tracker) Close() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done, t.watch = nil, nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (t *Tracker) run(ctx context.Context, w Watch, done chan struct{}) {
	defer close(done)
	defer w.Stop()

	fixes, errs := w.Fixes(), w.Errors()
	for {
		select {
		case <-ctx.Done():
			return

		case fix, ok := <-fixes:
			if !ok {
				return
			}
			if !t.limiter.Allow() {
				continue
			}
			if err := t.uploader.UpdateLocation(ctx, fix.Lat, fix.Lng); err != nil {
				t.logger.Warn("location upload failed", "error", err)
				t.warn(err)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.warn(err)
			if errors.Is(err, ErrPermissionDenied) {
				t.logger.Warn("location permission revoked, tracking stopped")
				return
			}
			t.logger.Info("location sample failed", "error", err)
		}
	}
}
