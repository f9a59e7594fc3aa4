// Package lifecycle holds the ride state machine. Everything here is pure:
// no I/O, no clocks, no globals.
package lifecycle

import (
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// Role identifies the kind of principal requesting a transition.
type Role string

const (
	RolePassenger Role = models.RolePassenger
	RoleDriver    Role = models.RoleDriver
	RoleSystem    Role = "system"
)

// Actor is the principal requesting a transition.
type Actor struct {
	Role   Role
	UserID uint
}

// Eligibility is the driver state the accept guard inspects.
type Eligibility struct {
	Driver        models.Driver
	HasActiveRide bool
}

// Request asks to move a ride into To.
type Request struct {
	To    models.RideStatus
	Actor Actor
	At    time.Time

	// Eligibility is required for pending -> accepted.
	Eligibility *Eligibility

	// FinalPrice is applied on completion; the estimate is used when nil.
	FinalPrice *float64
}

type edge struct {
	from, to models.RideStatus
}

var transitions = map[edge]func(models.Ride, Actor) bool{
	{models.RideStatusPending, models.RideStatusAccepted}: func(_ models.Ride, a Actor) bool {
		return a.Role == RoleDriver
	},
	{models.RideStatusPending, models.RideStatusCancelled}: func(r models.Ride, a Actor) bool {
		return a.Role == RoleSystem || (a.Role == RolePassenger && r.PassengerID == a.UserID)
	},
	{models.RideStatusAccepted, models.RideStatusInProgress}: assignedDriver,
	{models.RideStatusAccepted, models.RideStatusCancelled}: func(r models.Ride, a Actor) bool {
		return assignedDriver(r, a) || (a.Role == RolePassenger && r.PassengerID == a.UserID)
	},
	{models.RideStatusInProgress, models.RideStatusCompleted}: assignedDriver,
}

func assignedDriver(r models.Ride, a Actor) bool {
	return a.Role == RoleDriver && r.HasDriver(a.UserID)
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to models.RideStatus) bool {
	_, ok := transitions[edge{from, to}]
	return ok
}

// Transition validates req against ride and returns the updated ride. The
// input ride is never modified.
func Transition(ride models.Ride, req Request) (models.Ride, error) {
	guard, ok := transitions[edge{ride.Status, req.To}]
	if !ok {
		return ride, &apperr.InvalidTransitionError{From: ride.Status, To: req.To}
	}
	if !guard(ride, req.Actor) {
		return ride, apperr.ErrNotAuthorized
	}

	next := ride.Clone()
	at := Stamp(ride.LastTimestamp(), req.At)

	switch req.To {
	case models.RideStatusAccepted:
		if req.Eligibility == nil {
			return ride, apperr.ErrDriverNotAvailable
		}
		if req.Eligibility.Driver.UserID != req.Actor.UserID {
			return ride, apperr.ErrNotAuthorized
		}
		if err := CheckEligibility(ride, req.Eligibility.Driver, req.Eligibility.HasActiveRide); err != nil {
			return ride, err
		}
		driverID := req.Actor.UserID
		next.DriverID = &driverID
		next.AcceptedAt = &at
	case models.RideStatusInProgress:
		next.StartedAt = &at
	case models.RideStatusCompleted:
		price := ride.EstimatedPrice
		if req.FinalPrice != nil {
			price = *req.FinalPrice
		}
		next.FinalPrice = &price
		next.CompletedAt = &at
	case models.RideStatusCancelled:
		next.DriverID = nil
		next.CancelledAt = &at
		next.CancelledBy = string(req.Actor.Role)
	}

	next.Status = req.To
	next.UpdatedAt = at
	return next, nil
}

// CheckEligibility runs the accept guard for driver against ride.
func CheckEligibility(ride models.Ride, driver models.Driver, hasActiveRide bool) error {
	switch {
	case !driver.IsVerified:
		return apperr.ErrDriverNotVerified
	case !driver.IsAvailable:
		return apperr.ErrDriverNotAvailable
	case driver.VehicleType != ride.VehicleType:
		return apperr.ErrVehicleTypeMismatch
	case hasActiveRide:
		return apperr.ErrDriverHasActiveRide
	}
	return nil
}

// Stamp returns at truncated to microseconds, pushed strictly past prev
// when the clock did not move forward.
func Stamp(prev, at time.Time) time.Time {
	at = at.UTC().Truncate(time.Microsecond)
	if !at.After(prev) {
		at = prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return at
}
