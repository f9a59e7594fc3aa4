package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/lifecycle"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/internal/repository"
	"github.com/chachabrian/mooveit-ridesync/pkg/utils"
)

// CreateRideInput is a passenger's ride request.
type CreateRideInput struct {
	Pickup         utils.Point
	PickupAddress  string
	Dropoff        utils.Point
	DropoffAddress string
	VehicleType    models.VehicleType
}

// RideService is the write path for everything except the accept race,
// which it hands to the AssignmentCoordinator.
type RideService struct {
	rides       repository.RideRepository
	coordinator *AssignmentCoordinator
	notifier    Notifier
	now         func() time.Time
	logger      *slog.Logger
}

func NewRideService(rides repository.RideRepository, coordinator *AssignmentCoordinator, notifier Notifier, logger *slog.Logger) *RideService {
	return &RideService{rides: rides, coordinator: coordinator, notifier: notifier, now: time.Now, logger: logger}
}

// Create stores a new pending ride for passengerID, priced from the
// vehicle type tariff.
func (s *RideService) Create(ctx context.Context, passengerID uint, in CreateRideInput) (models.Ride, error) {
	var violations []apperr.Violation
	if !in.Pickup.Valid() {
		violations = append(violations, apperr.Violation{Field: "pickup", Message: "coordinates out of range"})
	}
	if !in.Dropoff.Valid() {
		violations = append(violations, apperr.Violation{Field: "dropoff", Message: "coordinates out of range"})
	}
	if in.PickupAddress == "" {
		violations = append(violations, apperr.Violation{Field: "pickupAddress", Message: "is required"})
	}
	if in.DropoffAddress == "" {
		violations = append(violations, apperr.Violation{Field: "dropoffAddress", Message: "is required"})
	}
	estimate, ok := utils.EstimateFare(in.VehicleType, in.Pickup, in.Dropoff)
	if !ok {
		violations = append(violations, apperr.Violation{Field: "vehicleType", Message: "must be one of standard, comfort, premium, xl"})
	}
	if len(violations) > 0 {
		return models.Ride{}, &apperr.ValidationError{Violations: violations}
	}

	at := lifecycle.Stamp(time.Time{}, s.now())
	ride := models.Ride{
		Status:            models.RideStatusPending,
		PassengerID:       passengerID,
		PickupAddress:     in.PickupAddress,
		PickupLatitude:    in.Pickup.Lat,
		PickupLongitude:   in.Pickup.Lng,
		DropoffAddress:    in.DropoffAddress,
		DropoffLatitude:   in.Dropoff.Lat,
		DropoffLongitude:  in.Dropoff.Lng,
		VehicleType:       in.VehicleType,
		EstimatedPrice:    estimate.Total,
		EstimatedDistance: estimate.DistanceKm,
		EstimatedDuration: estimate.DurationMin,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
	if err := s.rides.Create(ctx, &ride); err != nil {
		return models.Ride{}, err
	}
	s.logger.Info("ride created", "ride_id", ride.ID, "passenger_id", passengerID, "vehicle_type", ride.VehicleType)
	s.notifier.RideChanged(ctx, "", ride)
	return ride, nil
}

// Get reads one ride.
func (s *RideService) Get(ctx context.Context, id uint) (models.Ride, error) {
	return s.rides.Get(ctx, id)
}

// List reads rides matching filter.
func (s *RideService) List(ctx context.Context, filter repository.RideFilter) ([]models.Ride, error) {
	return s.rides.List(ctx, filter)
}

// UpdateStatus applies a state-machine-validated transition requested by
// actor. The write is conditional on the status the transition was
// computed from; a concurrent change surfaces as an invalid transition
// from the new current status.
func (s *RideService) UpdateStatus(ctx context.Context, rideID uint, actor lifecycle.Actor, to models.RideStatus, finalPrice *float64) (models.Ride, error) {
	if !to.Valid() {
		return models.Ride{}, apperr.Invalid("status", "unknown ride status")
	}
	if finalPrice != nil && *finalPrice < 0 {
		return models.Ride{}, apperr.Invalid("finalPrice", "must not be negative")
	}
	if to == models.RideStatusAccepted {
		if actor.Role != lifecycle.RoleDriver {
			return models.Ride{}, apperr.ErrNotAuthorized
		}
		return s.coordinator.AcceptRide(ctx, rideID, actor.UserID)
	}

	ride, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	next, err := lifecycle.Transition(ride, lifecycle.Request{
		To:         to,
		Actor:      actor,
		At:         s.now(),
		FinalPrice: finalPrice,
	})
	if err != nil {
		return models.Ride{}, err
	}
	stored, err := s.rides.CompareAndSet(ctx, ride.Status, next)
	if err != nil {
		return models.Ride{}, err
	}
	s.logger.Info("ride status changed", "ride_id", rideID, "from", ride.Status, "to", stored.Status, "actor_role", actor.Role)
	s.notifier.RideChanged(ctx, ride.Status, stored)
	return stored, nil
}

// Cancel moves the ride to cancelled on behalf of actor.
func (s *RideService) Cancel(ctx context.Context, rideID uint, actor lifecycle.Actor) (models.Ride, error) {
	return s.UpdateStatus(ctx, rideID, actor, models.RideStatusCancelled, nil)
}
