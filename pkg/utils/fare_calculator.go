package utils

import (
	"math"

	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// VehiclePricing is the tariff of one vehicle type.
type VehiclePricing struct {
	Label     string  `json:"label"`
	BaseFare  float64 `json:"baseFare"`
	PerKmRate float64 `json:"perKmRate"`
}

// Pricing lists the tariff per vehicle type.
var Pricing = map[models.VehicleType]VehiclePricing{
	models.VehicleTypeStandard: {Label: "Standard", BaseFare: 2.50, PerKmRate: 1.00},
	models.VehicleTypeComfort:  {Label: "Comfort", BaseFare: 3.50, PerKmRate: 1.25},
	models.VehicleTypePremium:  {Label: "Premium", BaseFare: 5.00, PerKmRate: 1.50},
	models.VehicleTypeXL:       {Label: "XL", BaseFare: 7.00, PerKmRate: 2.00},
}

// averageCitySpeedKmh feeds the straight-line duration estimate.
const averageCitySpeedKmh = 30

// FareEstimate is the quote shown before a ride is requested.
type FareEstimate struct {
	VehicleType  models.VehicleType `json:"vehicleType"`
	DistanceKm   float64            `json:"distanceKm"`
	DurationMin  int                `json:"durationMin"`
	BaseFare     float64            `json:"baseFare"`
	DistanceFare float64            `json:"distanceFare"`
	Total        float64            `json:"total"`
}

// EstimateFare quotes a ride between two points for vehicleType. Distance
// is the great-circle distance; routing is out of scope.
func EstimateFare(vehicleType models.VehicleType, pickup, dropoff Point) (FareEstimate, bool) {
	p, ok := Pricing[vehicleType]
	if !ok {
		return FareEstimate{}, false
	}
	distance := HaversineDistance(pickup.Lat, pickup.Lng, dropoff.Lat, dropoff.Lng)
	distanceFare := distance * p.PerKmRate

	return FareEstimate{
		VehicleType:  vehicleType,
		DistanceKm:   round2(distance),
		DurationMin:  CalculateETA(distance, averageCitySpeedKmh),
		BaseFare:     p.BaseFare,
		DistanceFare: round2(distanceFare),
		Total:        round2(p.BaseFare + distanceFare),
	}, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
