package models

import (
	"time"
)

// Driver is the availability side-record a driver owns: the vehicle they
// operate, whether they take offers and their latest GPS fix.
type Driver struct {
	UserID       uint        `json:"userId" gorm:"primaryKey;autoIncrement:false"`
	Name         string      `json:"name"`
	VehicleType  VehicleType `json:"vehicleType" gorm:"type:varchar(20);not null;index"`
	VehicleMake  string      `json:"vehicleMake"`
	VehicleModel string      `json:"vehicleModel"`
	VehiclePlate string      `json:"vehiclePlate"`

	IsAvailable bool       `json:"isAvailable" gorm:"not null;default:false"`
	IsVerified  bool       `json:"isVerified" gorm:"not null;default:false"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`

	CurrentLatitude   *float64   `json:"currentLatitude,omitempty"`
	CurrentLongitude  *float64   `json:"currentLongitude,omitempty"`
	LocationUpdatedAt *time.Time `json:"locationUpdatedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (Driver) TableName() string {
	return "drivers"
}

// HasLocation reports whether the driver has reported at least one fix.
func (d Driver) HasLocation() bool {
	return d.CurrentLatitude != nil && d.CurrentLongitude != nil
}

// Role names carried in access tokens.
const (
	RolePassenger = "passenger"
	RoleDriver    = "driver"
	RoleAdmin     = "admin"
)
