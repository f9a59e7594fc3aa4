package utils

import (
	"math"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within latitude/longitude bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DistanceTo returns the great-circle distance to q in kilometers.
func (p Point) DistanceTo(q Point) float64 {
	return HaversineDistance(p.Lat, p.Lng, q.Lat, q.Lng)
}

// HaversineDistance is the great-circle distance in kilometers between two
// coordinates given in degrees.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dPhi := phi2 - phi1
	dLambda := radians(lng2 - lng1)

	h := math.Pow(math.Sin(dPhi/2), 2) + math.Cos(phi1)*math.Cos(phi2)*math.Pow(math.Sin(dLambda/2), 2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// CalculateETA is the straight-line travel time in whole minutes at
// speedKmh, never less than one minute. A non-positive speed uses 30 km/h.
func CalculateETA(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = 30
	}
	minutes := int(math.Ceil(distanceKm / speedKmh * 60))
	return max(minutes, 1)
}
