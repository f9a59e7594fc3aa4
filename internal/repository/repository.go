// Package repository is the durable store boundary for rides and driver
// availability records.
package repository

import (
	"context"
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/lifecycle"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// RideFilter narrows List results. Zero values mean "any".
type RideFilter struct {
	Statuses    []models.RideStatus
	PassengerID *uint
	DriverID    *uint
	VehicleType models.VehicleType
	OldestFirst bool
	Limit       int
	Offset      int
}

// RideRepository stores ride records. ClaimPending and CompareAndSet are
// atomic conditional writes: they succeed only if the stored status still
// matches what the caller observed.
type RideRepository interface {
	Create(ctx context.Context, ride *models.Ride) error
	Get(ctx context.Context, id uint) (models.Ride, error)
	List(ctx context.Context, filter RideFilter) ([]models.Ride, error)

	// ClaimPending stores claimed only if the ride is still pending, the
	// claiming driver is available, verified and drives the requested
	// vehicle type, and the driver holds no other active ride. Exactly
	// one of any number of concurrent claims on the same ride succeeds.
	ClaimPending(ctx context.Context, claimed models.Ride) (models.Ride, error)

	// CompareAndSet stores next only if the ride's status is still from.
	CompareAndSet(ctx context.Context, from models.RideStatus, next models.Ride) (models.Ride, error)

	HasActiveRide(ctx context.Context, driverID uint) (bool, error)
}

// DriverRepository stores driver availability records.
type DriverRepository interface {
	Get(ctx context.Context, userID uint) (models.Driver, error)
	UpsertProfile(ctx context.Context, profile models.Driver, at time.Time) (models.Driver, error)
	SetAvailability(ctx context.Context, userID uint, available bool, at time.Time) (models.Driver, error)
	UpdateLocation(ctx context.Context, userID uint, lat, lng float64, at time.Time) (models.Driver, error)
	SetVerified(ctx context.Context, userID uint, verified bool, at time.Time) (models.Driver, error)

	// ListAvailable returns available, verified drivers of vehicleType
	// (any type when empty) ordered by user id.
	ListAvailable(ctx context.Context, vehicleType models.VehicleType) ([]models.Driver, error)
}

// classifyClaimMiss explains why a conditional claim touched no row, given
// the state re-read after the attempt.
func classifyClaimMiss(current models.Ride, driver *models.Driver, hasActive bool) error {
	switch current.Status {
	case models.RideStatusPending:
	case models.RideStatusAccepted, models.RideStatusInProgress, models.RideStatusCompleted:
		return apperr.ErrAlreadyAccepted
	default:
		return &apperr.InvalidTransitionError{From: current.Status, To: models.RideStatusAccepted}
	}
	if driver == nil {
		return apperr.ErrDriverNotAvailable
	}
	if err := lifecycle.CheckEligibility(current, *driver, hasActive); err != nil {
		return err
	}
	// Still pending and eligible: another claim by this driver won the
	// active-ride slot between the update and the re-read.
	return apperr.ErrDriverHasActiveRide
}

func rideNotFound(id uint) error {
	return &apperr.NotFoundError{Resource: "ride", ID: id}
}

func driverNotFound(id uint) error {
	return &apperr.NotFoundError{Resource: "driver", ID: id}
}

// staleWrite reports a conditional write lost to a concurrent transition.
func staleWrite(current, next models.Ride) error {
	return &apperr.InvalidTransitionError{From: current.Status, To: next.Status}
}
