package services

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/internal/observability"
	"github.com/chachabrian/mooveit-ridesync/internal/repository"
	"github.com/chachabrian/mooveit-ridesync/pkg/utils"
)

// LocationCache mirrors the positions of available drivers outside the
// primary store.
type LocationCache interface {
	Record(ctx context.Context, driverID uint, lat, lng float64) error
	Forget(ctx context.Context, driverID uint) error
	Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]NearbyDriver, error)
}

// EligibleDriver is a driver that may receive an offer, with its distance
// to the requested origin when one was given.
type EligibleDriver struct {
	models.Driver
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// AvailabilityGate owns driver availability records and decides which
// drivers may receive or accept ride offers.
type AvailabilityGate struct {
	drivers  repository.DriverRepository
	cache    LocationCache
	radiusKm float64
	now      func() time.Time
	logger   *slog.Logger
}

// NewAvailabilityGate filters by proximity within radiusKm. cache may be nil.
func NewAvailabilityGate(drivers repository.DriverRepository, cache LocationCache, radiusKm float64, logger *slog.Logger) *AvailabilityGate {
	return &AvailabilityGate{drivers: drivers, cache: cache, radiusKm: radiusKm, now: time.Now, logger: logger}
}

// RadiusKm is the configured eligibility radius.
func (g *AvailabilityGate) RadiusKm() float64 {
	return g.radiusKm
}

// Driver returns the availability record of userID.
func (g *AvailabilityGate) Driver(ctx context.Context, userID uint) (models.Driver, error) {
	return g.drivers.Get(ctx, userID)
}

// SaveProfile creates or updates the vehicle details of a driver. New
// profiles start unavailable and unverified.
func (g *AvailabilityGate) SaveProfile(ctx context.Context, profile models.Driver) (models.Driver, error) {
	if !profile.VehicleType.Valid() {
		return models.Driver{}, apperr.Invalid("vehicleType", "must be one of standard, comfort, premium, xl")
	}
	return g.drivers.UpsertProfile(ctx, profile, g.now().UTC())
}

// SetAvailability toggles whether driverID receives and may accept offers.
// An already accepted ride is unaffected.
func (g *AvailabilityGate) SetAvailability(ctx context.Context, driverID uint, available bool) (models.Driver, error) {
	d, err := g.drivers.SetAvailability(ctx, driverID, available, g.now().UTC())
	if err != nil {
		return models.Driver{}, err
	}
	observability.AvailabilityToggles.WithLabelValues(strconv.FormatBool(available)).Inc()

	if g.cache != nil {
		if available && d.HasLocation() {
			err = g.cache.Record(ctx, driverID, *d.CurrentLatitude, *d.CurrentLongitude)
		} else if !available {
			err = g.cache.Forget(ctx, driverID)
		}
		if err != nil {
			g.logger.Warn("location cache update failed", "driver_id", driverID, "error", err)
		}
	}
	return d, nil
}

// UpdateLocation records the latest fix of driverID. Writes are idempotent
// and the last one wins.
func (g *AvailabilityGate) UpdateLocation(ctx context.Context, driverID uint, lat, lng float64) (models.Driver, error) {
	if !(utils.Point{Lat: lat, Lng: lng}).Valid() {
		return models.Driver{}, &apperr.ValidationError{Violations: []apperr.Violation{
			{Field: "lat", Message: "must be within [-90, 90]"},
			{Field: "lng", Message: "must be within [-180, 180]"},
		}}
	}
	d, err := g.drivers.UpdateLocation(ctx, driverID, lat, lng, g.now().UTC())
	if err != nil {
		return models.Driver{}, err
	}
	if g.cache != nil && d.IsAvailable {
		if err := g.cache.Record(ctx, driverID, lat, lng); err != nil {
			g.logger.Warn("location cache update failed", "driver_id", driverID, "error", err)
		}
	}
	return d, nil
}

// SetVerified marks driverID as verified or not.
func (g *AvailabilityGate) SetVerified(ctx context.Context, driverID uint, verified bool) (models.Driver, error) {
	return g.drivers.SetVerified(ctx, driverID, verified, g.now().UTC())
}

// ListEligibleDrivers returns available, verified drivers of vehicleType.
// With an origin, drivers without a fix or farther than the radius are
// left out and the rest are ordered by distance. Ties and the no-origin
// case are ordered by user id, so a fixed snapshot always yields the same
// sequence.
func (g *AvailabilityGate) ListEligibleDrivers(ctx context.Context, vehicleType models.VehicleType, origin *utils.Point) ([]EligibleDriver, error) {
	if !vehicleType.Valid() {
		return nil, apperr.Invalid("vehicleType", "must be one of standard, comfort, premium, xl")
	}
	if origin != nil && !origin.Valid() {
		return nil, apperr.Invalid("origin", "coordinates out of range")
	}

	drivers, err := g.drivers.ListAvailable(ctx, vehicleType)
	if err != nil {
		return nil, err
	}

	out := make([]EligibleDriver, 0, len(drivers))
	for _, d := range drivers {
		e := EligibleDriver{Driver: d}
		if origin != nil {
			if !d.HasLocation() {
				continue
			}
			dist := origin.DistanceTo(utils.Point{Lat: *d.CurrentLatitude, Lng: *d.CurrentLongitude})
			if dist > g.radiusKm {
				continue
			}
			e.DistanceKm = &dist
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DistanceKm != nil && b.DistanceKm != nil && *a.DistanceKm != *b.DistanceKm {
			return *a.DistanceKm < *b.DistanceKm
		}
		return a.UserID < b.UserID
	})
	return out, nil
}

// Nearby returns positions of available drivers of any vehicle type
// around a point, from the location cache when one is configured.
func (g *AvailabilityGate) Nearby(ctx context.Context, at utils.Point, limit int) ([]NearbyDriver, error) {
	if !at.Valid() {
		return nil, apperr.Invalid("origin", "coordinates out of range")
	}
	if g.cache != nil {
		return g.cache.Nearby(ctx, at.Lat, at.Lng, g.radiusKm, limit)
	}

	drivers, err := g.drivers.ListAvailable(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]NearbyDriver, 0, len(drivers))
	for _, d := range drivers {
		if !d.HasLocation() {
			continue
		}
		dist := at.DistanceTo(utils.Point{Lat: *d.CurrentLatitude, Lng: *d.CurrentLongitude})
		if dist > g.radiusKm {
			continue
		}
		out = append(out, NearbyDriver{DriverID: d.UserID, Latitude: *d.CurrentLatitude, Longitude: *d.CurrentLongitude, DistanceKm: dist})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
