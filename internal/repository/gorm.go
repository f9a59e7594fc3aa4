package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

const (
	eligibleDriverClause = `EXISTS (SELECT 1 FROM drivers WHERE drivers.user_id = ? AND drivers.is_available AND drivers.is_verified AND drivers.vehicle_type = rides.vehicle_type)`
	noActiveRideClause   = `NOT EXISTS (SELECT 1 FROM rides AS active WHERE active.driver_id = ? AND active.status IN ('accepted', 'in_progress'))`
)

// GormRides is a RideRepository on Postgres via gorm.
type GormRides struct {
	db *gorm.DB
}

func NewGormRides(db *gorm.DB) *GormRides {
	return &GormRides{db: db}
}

func (g *GormRides) Create(ctx context.Context, ride *models.Ride) error {
	return g.db.WithContext(ctx).Create(ride).Error
}

func (g *GormRides) Get(ctx context.Context, id uint) (models.Ride, error) {
	var ride models.Ride
	err := g.db.WithContext(ctx).First(&ride, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Ride{}, rideNotFound(id)
	}
	return ride, err
}

func (g *GormRides) List(ctx context.Context, f RideFilter) ([]models.Ride, error) {
	q := g.db.WithContext(ctx).Model(&models.Ride{})
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.PassengerID != nil {
		q = q.Where("passenger_id = ?", *f.PassengerID)
	}
	if f.DriverID != nil {
		q = q.Where("driver_id = ?", *f.DriverID)
	}
	if f.VehicleType != "" {
		q = q.Where("vehicle_type = ?", f.VehicleType)
	}
	if f.OldestFirst {
		q = q.Order("created_at ASC").Order("id ASC")
	} else {
		q = q.Order("created_at DESC").Order("id DESC")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	rides := make([]models.Ride, 0)
	if err := q.Find(&rides).Error; err != nil {
		return nil, err
	}
	return rides, nil
}

// ClaimPending issues one conditional UPDATE. The partial unique index on
// active rides per driver backs the NOT EXISTS check across instances.
func (g *GormRides) ClaimPending(ctx context.Context, claimed models.Ride) (models.Ride, error) {
	if claimed.DriverID == nil {
		return models.Ride{}, apperr.ErrDriverNotAvailable
	}
	driverID := *claimed.DriverID

	var updated []models.Ride
	res := g.db.WithContext(ctx).
		Model(&updated).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", claimed.ID, models.RideStatusPending).
		Where(eligibleDriverClause, driverID).
		Where(noActiveRideClause, driverID).
		Updates(map[string]interface{}{
			"status":      models.RideStatusAccepted,
			"driver_id":   driverID,
			"accepted_at": claimed.AcceptedAt,
			"updated_at":  claimed.UpdatedAt,
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return models.Ride{}, apperr.ErrDriverHasActiveRide
		}
		return models.Ride{}, res.Error
	}
	if res.RowsAffected == 1 && len(updated) == 1 {
		return updated[0], nil
	}

	current, err := g.Get(ctx, claimed.ID)
	if err != nil {
		return models.Ride{}, err
	}
	var driver models.Driver
	var dp *models.Driver
	switch err := g.db.WithContext(ctx).First(&driver, "user_id = ?", driverID).Error; {
	case err == nil:
		dp = &driver
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return models.Ride{}, err
	}
	busy, err := g.HasActiveRide(ctx, driverID)
	if err != nil {
		return models.Ride{}, err
	}
	return current, classifyClaimMiss(current, dp, busy)
}

func (g *GormRides) CompareAndSet(ctx context.Context, from models.RideStatus, next models.Ride) (models.Ride, error) {
	res := g.db.WithContext(ctx).
		Model(&models.Ride{}).
		Where("id = ? AND status = ?", next.ID, from).
		Updates(map[string]interface{}{
			"status":       next.Status,
			"driver_id":    next.DriverID,
			"final_price":  next.FinalPrice,
			"accepted_at":  next.AcceptedAt,
			"started_at":   next.StartedAt,
			"completed_at": next.CompletedAt,
			"cancelled_at": next.CancelledAt,
			"cancelled_by": next.CancelledBy,
			"updated_at":   next.UpdatedAt,
		})
	if res.Error != nil {
		return models.Ride{}, res.Error
	}
	current, err := g.Get(ctx, next.ID)
	if err != nil {
		return models.Ride{}, err
	}
	if res.RowsAffected == 0 {
		return current, staleWrite(current, next)
	}
	return current, nil
}

func (g *GormRides) HasActiveRide(ctx context.Context, driverID uint) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&models.Ride{}).
		Where("driver_id = ? AND status IN ?", driverID, []models.RideStatus{models.RideStatusAccepted, models.RideStatusInProgress}).
		Count(&count).Error
	return count > 0, err
}

// GormDrivers is a DriverRepository on Postgres via gorm.
type GormDrivers struct {
	db *gorm.DB
}

func NewGormDrivers(db *gorm.DB) *GormDrivers {
	return &GormDrivers{db: db}
}

func (g *GormDrivers) Get(ctx context.Context, userID uint) (models.Driver, error) {
	var d models.Driver
	err := g.db.WithContext(ctx).First(&d, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Driver{}, driverNotFound(userID)
	}
	return d, err
}

func (g *GormDrivers) UpsertProfile(ctx context.Context, profile models.Driver, at time.Time) (models.Driver, error) {
	row := models.Driver{
		UserID:       profile.UserID,
		Name:         profile.Name,
		VehicleType:  profile.VehicleType,
		VehicleMake:  profile.VehicleMake,
		VehicleModel: profile.VehicleModel,
		VehiclePlate: profile.VehiclePlate,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "vehicle_type", "vehicle_make", "vehicle_model", "vehicle_plate", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return models.Driver{}, err
	}
	return g.Get(ctx, profile.UserID)
}

func (g *GormDrivers) SetAvailability(ctx context.Context, userID uint, available bool, at time.Time) (models.Driver, error) {
	return g.update(ctx, userID, map[string]interface{}{
		"is_available": available,
		"updated_at":   at,
	})
}

func (g *GormDrivers) UpdateLocation(ctx context.Context, userID uint, lat, lng float64, at time.Time) (models.Driver, error) {
	return g.update(ctx, userID, map[string]interface{}{
		"current_latitude":    lat,
		"current_longitude":   lng,
		"location_updated_at": at,
		"updated_at":          at,
	})
}

func (g *GormDrivers) SetVerified(ctx context.Context, userID uint, verified bool, at time.Time) (models.Driver, error) {
	var verifiedAt *time.Time
	if verified {
		verifiedAt = &at
	}
	return g.update(ctx, userID, map[string]interface{}{
		"is_verified": verified,
		"verified_at": verifiedAt,
		"updated_at":  at,
	})
}

func (g *GormDrivers) update(ctx context.Context, userID uint, values map[string]interface{}) (models.Driver, error) {
	res := g.db.WithContext(ctx).Model(&models.Driver{}).Where("user_id = ?", userID).Updates(values)
	if res.Error != nil {
		return models.Driver{}, res.Error
	}
	if res.RowsAffected == 0 {
		return models.Driver{}, driverNotFound(userID)
	}
	return g.Get(ctx, userID)
}

func (g *GormDrivers) ListAvailable(ctx context.Context, vehicleType models.VehicleType) ([]models.Driver, error) {
	q := g.db.WithContext(ctx).Where("is_available AND is_verified")
	if vehicleType != "" {
		q = q.Where("vehicle_type = ?", vehicleType)
	}
	drivers := make([]models.Driver, 0)
	if err := q.Order("user_id ASC").Find(&drivers).Error; err != nil {
		return nil, err
	}
	return drivers, nil
}
