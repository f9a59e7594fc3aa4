package models

import (
	"errors"
	"strings"
	"time"
)

// RideStatus is the lifecycle state of a ride.
type RideStatus string

const (
	RideStatusPending    RideStatus = "pending"
	RideStatusAccepted   RideStatus = "accepted"
	RideStatusInProgress RideStatus = "in_progress"
	RideStatusCompleted  RideStatus = "completed"
	RideStatusCancelled  RideStatus = "cancelled"
)

var ErrInvalidRideStatus = errors.New("invalid ride status")

// ParseRideStatus normalizes and validates a status string.
func ParseRideStatus(in string) (RideStatus, error) {
	status := RideStatus(strings.ToLower(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidRideStatus
}

func (s RideStatus) Valid() bool {
	switch s {
	case RideStatusPending, RideStatusAccepted, RideStatusInProgress, RideStatusCompleted, RideStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible.
func (s RideStatus) Terminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// Active reports whether the ride holds its driver.
func (s RideStatus) Active() bool {
	return s == RideStatusAccepted || s == RideStatusInProgress
}

// Rank orders statuses along the lifecycle. Both terminal statuses share
// the highest rank.
func (s RideStatus) Rank() int {
	switch s {
	case RideStatusPending:
		return 0
	case RideStatusAccepted:
		return 1
	case RideStatusInProgress:
		return 2
	case RideStatusCompleted, RideStatusCancelled:
		return 3
	default:
		return -1
	}
}

func (s RideStatus) String() string {
	return string(s)
}

// Ride is the central record of a requested trip.
type Ride struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Status      RideStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	PassengerID uint       `json:"passengerId" gorm:"not null;index"`
	DriverID    *uint      `json:"driverId,omitempty" gorm:"index"`

	PickupAddress    string  `json:"pickupAddress" gorm:"not null"`
	PickupLatitude   float64 `json:"pickupLatitude" gorm:"not null"`
	PickupLongitude  float64 `json:"pickupLongitude" gorm:"not null"`
	DropoffAddress   string  `json:"dropoffAddress" gorm:"not null"`
	DropoffLatitude  float64 `json:"dropoffLatitude" gorm:"not null"`
	DropoffLongitude float64 `json:"dropoffLongitude" gorm:"not null"`

	VehicleType       VehicleType `json:"vehicleType" gorm:"type:varchar(20);not null;index"`
	EstimatedPrice    float64     `json:"estimatedPrice" gorm:"not null"`
	FinalPrice        *float64    `json:"finalPrice,omitempty"`
	EstimatedDistance float64     `json:"estimatedDistance"` // kilometers
	EstimatedDuration int         `json:"estimatedDuration"` // minutes

	CreatedAt   time.Time  `json:"createdAt" gorm:"autoCreateTime:false;not null"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy string     `json:"cancelledBy,omitempty" gorm:"type:varchar(20)"`
	UpdatedAt   time.Time  `json:"updatedAt" gorm:"autoUpdateTime:false;not null"`
}

// TableName specifies the table name
func (Ride) TableName() string {
	return "rides"
}

// LastTimestamp returns the most recent lifecycle timestamp set on the ride.
func (r Ride) LastTimestamp() time.Time {
	last := r.CreatedAt
	for _, ts := range []*time.Time{r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt} {
		if ts != nil && ts.After(last) {
			last = *ts
		}
	}
	return last
}

// Clone returns a deep copy so callers can mutate pointer fields freely.
func (r Ride) Clone() Ride {
	out := r
	out.DriverID = cloneUint(r.DriverID)
	out.FinalPrice = cloneFloat(r.FinalPrice)
	out.AcceptedAt = cloneTime(r.AcceptedAt)
	out.StartedAt = cloneTime(r.StartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.CancelledAt = cloneTime(r.CancelledAt)
	return out
}

// HasDriver reports whether driverID is the assigned driver.
func (r Ride) HasDriver(driverID uint) bool {
	return r.DriverID != nil && *r.DriverID == driverID
}

func cloneUint(v *uint) *uint {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
