package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/lifecycle"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/internal/observability"
	"github.com/chachabrian/mooveit-ridesync/internal/repository"
)

// AssignmentCoordinator settles which driver gets a pending ride.
type AssignmentCoordinator struct {
	rides    repository.RideRepository
	drivers  repository.DriverRepository
	notifier Notifier
	now      func() time.Time
	timeout  time.Duration
	logger   *slog.Logger
}

func NewAssignmentCoordinator(rides repository.RideRepository, drivers repository.DriverRepository, notifier Notifier, logger *slog.Logger) *AssignmentCoordinator {
	return &AssignmentCoordinator{rides: rides, drivers: drivers, notifier: notifier, now: time.Now, logger: logger}
}

// SetTimeout bounds the store work of each AcceptRide call. Zero means no
// bound beyond the caller's context.
func (c *AssignmentCoordinator) SetTimeout(d time.Duration) {
	c.timeout = d
}

// AcceptRide assigns rideID to driverID. The eligibility checks done here
// only produce precise errors; the repository's conditional claim alone
// decides a race, so of N concurrent callers exactly one succeeds and the
// others get apperr.ErrAlreadyAccepted.
func (c *AssignmentCoordinator) AcceptRide(ctx context.Context, rideID, driverID uint) (models.Ride, error) {
	actx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ride, err := c.accept(actx, rideID, driverID)
	if err != nil {
		code := apperr.CodeOf(err)
		observability.AcceptAttempts.WithLabelValues(string(code)).Inc()
		c.logger.Info("accept rejected", "ride_id", rideID, "driver_id", driverID, "reason", code)
		return models.Ride{}, err
	}
	observability.AcceptAttempts.WithLabelValues("accepted").Inc()
	c.logger.Info("ride accepted", "ride_id", rideID, "driver_id", driverID)
	c.notifier.RideChanged(ctx, models.RideStatusPending, ride)
	return ride, nil
}

func (c *AssignmentCoordinator) accept(ctx context.Context, rideID, driverID uint) (models.Ride, error) {
	ride, err := c.rides.Get(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if ride.Status.Rank() > models.RideStatusPending.Rank() && ride.Status != models.RideStatusCancelled {
		return models.Ride{}, apperr.ErrAlreadyAccepted
	}

	driver, err := c.drivers.Get(ctx, driverID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.Ride{}, fmt.Errorf("%w: no driver profile", apperr.ErrDriverNotVerified)
	}
	if err != nil {
		return models.Ride{}, err
	}
	busy, err := c.rides.HasActiveRide(ctx, driverID)
	if err != nil {
		return models.Ride{}, err
	}

	claimed, err := lifecycle.Transition(ride, lifecycle.Request{
		To:          models.RideStatusAccepted,
		Actor:       lifecycle.Actor{Role: lifecycle.RoleDriver, UserID: driverID},
		At:          c.now(),
		Eligibility: &lifecycle.Eligibility{Driver: driver, HasActiveRide: busy},
	})
	if err != nil {
		return models.Ride{}, err
	}
	return c.rides.ClaimPending(ctx, claimed)
}
