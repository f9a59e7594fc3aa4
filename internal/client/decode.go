package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// DecodeEvent reads a realtime message. Both the {"type", "ride"}
// envelope and a bare ride snapshot are accepted; a bare snapshot becomes
// a full event.
func DecodeEvent(data []byte) (models.RideEvent, error) {
	var probe struct {
		Type   models.RideEventType `json:"type"`
		RideID uint                 `json:"rideId"`
		ID     uint                 `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return models.RideEvent{}, fmt.Errorf("decode event: %w", err)
	}

	if probe.Type != "" || probe.RideID != 0 {
		var ev models.RideEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return models.RideEvent{}, fmt.Errorf("decode event: %w", err)
		}
		if ev.Ride != nil {
			if ev.RideID == 0 {
				ev.RideID = ev.Ride.ID
			}
			if ev.Status == "" {
				ev.Status = ev.Ride.Status
			}
			if ev.UpdatedAt.IsZero() {
				ev.UpdatedAt = ev.Ride.UpdatedAt
			}
		}
		if ev.RideID == 0 || !ev.Status.Valid() {
			return models.RideEvent{}, errors.New("decode event: missing ride id or status")
		}
		return ev, nil
	}

	if probe.ID == 0 {
		return models.RideEvent{}, errors.New("decode event: neither an event nor a ride")
	}
	var ride models.Ride
	if err := json.Unmarshal(data, &ride); err != nil {
		return models.RideEvent{}, fmt.Errorf("decode ride: %w", err)
	}
	if !ride.Status.Valid() {
		return models.RideEvent{}, fmt.Errorf("decode ride: unknown status %q", ride.Status)
	}
	return models.NewRideEvent(models.EventTypeFor(ride.Status), ride), nil
}

// Driver is the one shape every driver payload is normalized into.
type Driver struct {
	UserID       uint
	Name         string
	VehicleType  models.VehicleType
	VehicleModel string
	VehiclePlate string
	IsAvailable  bool
	IsVerified   bool
	Latitude     *float64
	Longitude    *float64
}

type refKind int

const (
	refNone refKind = iota
	refObject
	refIRI
)

// userRef is the "user" member of a driver payload: an embedded user
// object or an IRI such as "/api/users/12".
type userRef struct {
	kind      refKind
	id        uint
	firstName string
	lastName  string
}

func (u *userRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*u = userRef{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var iri string
		if err := json.Unmarshal(data, &iri); err != nil {
			return err
		}
		id, err := idFromIRI(iri)
		if err != nil {
			return err
		}
		*u = userRef{kind: refIRI, id: id}
		return nil
	default:
		var obj struct {
			ID        uint   `json:"id"`
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*u = userRef{kind: refObject, id: obj.ID, firstName: obj.FirstName, lastName: obj.LastName}
		return nil
	}
}

func idFromIRI(iri string) (uint, error) {
	i := strings.LastIndexByte(iri, '/')
	id, err := strconv.ParseUint(iri[i+1:], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("bad user reference %q", iri)
	}
	return uint(id), nil
}

// driverFields are the members shared by every driver shape.
type driverFields struct {
	VehicleType      models.VehicleType `json:"vehicleType"`
	VehicleModel     string             `json:"vehicleModel"`
	VehiclePlate     string             `json:"vehiclePlate"`
	LicenceNumber    string             `json:"licenceNumber"`
	IsAvailable      bool               `json:"isAvailable"`
	IsVerified       bool               `json:"isVerified"`
	CurrentLatitude  *float64           `json:"currentLatitude"`
	CurrentLongitude *float64           `json:"currentLongitude"`
}

// wireDriver covers a driver record that refers to its user, plus the
// server's own flattened record keyed by userId.
type wireDriver struct {
	driverFields
	UserID uint    `json:"userId"`
	Name   string  `json:"name"`
	User   userRef `json:"user"`
}

// wireUser is a user carrying its driver profile.
type wireUser struct {
	ID            uint          `json:"id"`
	FirstName     string        `json:"firstName"`
	LastName      string        `json:"lastName"`
	IsVerified    *bool         `json:"isVerified"`
	Driver        *driverFields `json:"driver"`
	DriverProfile *driverFields `json:"driverProfile"`
}

// DecodeDriver normalizes any of the driver payload shapes: a driver with
// a nested user object, a driver with a user IRI, a user with a nested
// driver profile, or the flattened record this API returns.
func DecodeDriver(data []byte) (Driver, error) {
	var u wireUser
	if err := json.Unmarshal(data, &u); err != nil {
		return Driver{}, fmt.Errorf("decode driver: %w", err)
	}
	if profile := firstNonNil(u.Driver, u.DriverProfile); profile != nil {
		d := fromFields(*profile)
		d.UserID = u.ID
		d.Name = joinName(u.FirstName, u.LastName)
		if u.IsVerified != nil {
			d.IsVerified = d.IsVerified || *u.IsVerified
		}
		return d, nil
	}

	var w wireDriver
	if err := json.Unmarshal(data, &w); err != nil {
		return Driver{}, fmt.Errorf("decode driver: %w", err)
	}
	d := fromFields(w.driverFields)
	switch w.User.kind {
	case refObject:
		d.UserID = w.User.id
		d.Name = joinName(w.User.firstName, w.User.lastName)
	case refIRI:
		d.UserID = w.User.id
	default:
		d.UserID = w.UserID
	}
	if w.Name != "" {
		d.Name = w.Name
	}
	if d.UserID == 0 {
		return Driver{}, errors.New("decode driver: no user id")
	}
	return d, nil
}

func fromFields(f driverFields) Driver {
	plate := f.VehiclePlate
	if plate == "" {
		plate = f.LicenceNumber
	}
	return Driver{
		VehicleType:  f.VehicleType,
		VehicleModel: f.VehicleModel,
		VehiclePlate: plate,
		IsAvailable:  f.IsAvailable,
		IsVerified:   f.IsVerified,
		Latitude:     f.CurrentLatitude,
		Longitude:    f.CurrentLongitude,
	}
}

func firstNonNil(fs ...*driverFields) *driverFields {
	for _, f := range fs {
		if f != nil {
			return f
		}
	}
	return nil
}

func joinName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}
