package syncagent

import (
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

const (
	DefaultActiveInterval  = 3 * time.Second
	DefaultPendingInterval = 8 * time.Second
)

// PollInterval is how long to wait between pulls of a ride in status while
// push is unavailable. It is zero only for terminal rides, which are not
// polled at all.
func PollInterval(status models.RideStatus, active, pending time.Duration) time.Duration {
	if active <= 0 {
		active = DefaultActiveInterval
	}
	if pending <= 0 {
		pending = DefaultPendingInterval
	}
	switch {
	case status.Terminal():
		return 0
	case status.Active():
		return active
	default:
		return pending
	}
}

// Stale reports whether an update carrying status and updatedAt is older
// than current and must be discarded. Lifecycle rank decides first; within
// one status the later updatedAt wins. Terminal statuses never change, so
// a different terminal status is stale too.
func Stale(current models.Ride, status models.RideStatus, updatedAt time.Time) bool {
	if current.ID == 0 {
		return false
	}
	if status.Rank() != current.Status.Rank() {
		return status.Rank() < current.Status.Rank()
	}
	if status != current.Status {
		return true
	}
	return updatedAt.Before(current.UpdatedAt)
}

// Merge applies ev to current. It returns current unchanged and false when
// the event is for another ride or stale. A full snapshot replaces the
// ride; a partial event overwrites only the fields it carries.
func Merge(current models.Ride, ev models.RideEvent) (models.Ride, bool) {
	if current.ID != 0 && ev.RideID != current.ID {
		return current, false
	}
	if Stale(current, ev.Status, ev.UpdatedAt) {
		return current, false
	}
	if ev.Ride != nil {
		return ev.Ride.Clone(), true
	}

	next := current.Clone()
	next.ID = ev.RideID
	next.Status = ev.Status
	next.UpdatedAt = ev.UpdatedAt
	if ev.DriverID != nil {
		v := *ev.DriverID
		next.DriverID = &v
	}
	if ev.Status == models.RideStatusPending || ev.Status == models.RideStatusCancelled {
		next.DriverID = nil
	}
	if ev.FinalPrice != nil {
		v := *ev.FinalPrice
		next.FinalPrice = &v
	}
	setOnce(&next.AcceptedAt, ev.AcceptedAt)
	setOnce(&next.StartedAt, ev.StartedAt)
	setOnce(&next.CompletedAt, ev.CompletedAt)
	setOnce(&next.CancelledAt, ev.CancelledAt)
	return next, true
}

// MergeSnapshot applies a pulled ride as if it had arrived as a full event.
func MergeSnapshot(current, pulled models.Ride) (models.Ride, bool) {
	return Merge(current, models.NewRideEvent(models.EventTypeFor(pulled.Status), pulled))
}

func setOnce(dst **time.Time, v *time.Time) {
	if v == nil || *dst != nil {
		return
	}
	t := *v
	*dst = &t
}
