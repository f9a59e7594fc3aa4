package models

import "time"

// RideEventType names the change a RideEvent announces.
type RideEventType string

const (
	RideEventCreated       RideEventType = "ride_created"
	RideEventAccepted      RideEventType = "ride_accepted"
	RideEventStatusChanged RideEventType = "ride_status_changed"
	RideEventCancelled     RideEventType = "ride_cancelled"
)

// RideEvent is a pushed notification about a ride. It is never stored.
// Status and UpdatedAt are always present and act as the event's version.
// Ride carries a full snapshot; when nil, only the non-nil partial fields
// are meaningful.
type RideEvent struct {
	Type      RideEventType `json:"type"`
	RideID    uint          `json:"rideId"`
	Status    RideStatus    `json:"status"`
	UpdatedAt time.Time     `json:"updatedAt"`

	Ride *Ride `json:"ride,omitempty"`

	DriverID    *uint      `json:"driverId,omitempty"`
	FinalPrice  *float64   `json:"finalPrice,omitempty"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

// NewRideEvent builds an event carrying a full snapshot of ride.
func NewRideEvent(eventType RideEventType, ride Ride) RideEvent {
	snapshot := ride.Clone()
	return RideEvent{
		Type:      eventType,
		RideID:    ride.ID,
		Status:    ride.Status,
		UpdatedAt: ride.UpdatedAt,
		Ride:      &snapshot,
	}
}

// EventTypeFor picks the event type announcing a ride now in status.
func EventTypeFor(status RideStatus) RideEventType {
	switch status {
	case RideStatusPending:
		return RideEventCreated
	case RideStatusAccepted:
		return RideEventAccepted
	case RideStatusCancelled:
		return RideEventCancelled
	default:
		return RideEventStatusChanged
	}
}
