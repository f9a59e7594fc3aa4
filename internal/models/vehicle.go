package models

import (
	"errors"
	"strings"
)

// VehicleType is the class of vehicle a ride requests and a driver offers.
type VehicleType string

const (
	VehicleTypeStandard VehicleType = "standard"
	VehicleTypeComfort  VehicleType = "comfort"
	VehicleTypePremium  VehicleType = "premium"
	VehicleTypeXL       VehicleType = "xl"
)

var ErrInvalidVehicleType = errors.New("invalid vehicle type")

// VehicleTypes lists every supported vehicle type in display order.
var VehicleTypes = []VehicleType{VehicleTypeStandard, VehicleTypeComfort, VehicleTypePremium, VehicleTypeXL}

func ParseVehicleType(in string) (VehicleType, error) {
	vt := VehicleType(strings.ToLower(strings.TrimSpace(in)))
	if vt.Valid() {
		return vt, nil
	}
	return "", ErrInvalidVehicleType
}

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleTypeStandard, VehicleTypeComfort, VehicleTypePremium, VehicleTypeXL:
		return true
	default:
		return false
	}
}
