package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/lifecycle"
	"github.com/chachabrian/mooveit-ridesync/internal/middleware"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/internal/repository"
	"github.com/chachabrian/mooveit-ridesync/internal/services"
	"github.com/chachabrian/mooveit-ridesync/pkg/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type locationInput struct {
	Lat     *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
	Lng     *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
	Address string   `json:"address" binding:"required"`
}

func (l locationInput) point() utils.Point {
	return utils.Point{Lat: *l.Lat, Lng: *l.Lng}
}

type createRideRequest struct {
	Pickup      *locationInput `json:"pickup" binding:"required"`
	Dropoff     *locationInput `json:"dropoff" binding:"required"`
	VehicleType string         `json:"vehicleType" binding:"required,oneof=standard comfort premium xl"`
}

// actor maps the authenticated caller onto a state machine principal.
// Admins act as the system.
func actor(c *gin.Context) lifecycle.Actor {
	role := lifecycle.Role(middleware.UserType(c))
	if role == models.RoleAdmin {
		role = lifecycle.RoleSystem
	}
	return lifecycle.Actor{Role: role, UserID: middleware.UserID(c)}
}

// canView reports whether the caller may read ride. Drivers may read any
// ride so they can see the outcome of offers they lost.
func canView(c *gin.Context, ride models.Ride) bool {
	switch middleware.UserType(c) {
	case models.RoleAdmin, models.RoleDriver:
		return true
	case models.RolePassenger:
		return ride.PassengerID == middleware.UserID(c)
	}
	return false
}

// CreateRide requests a new ride for the calling passenger.
func CreateRide(rides *services.RideService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input createRideRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, bindError(err))
			return
		}

		ride, err := rides.Create(c.Request.Context(), middleware.UserID(c), services.CreateRideInput{
			Pickup:         input.Pickup.point(),
			PickupAddress:  input.Pickup.Address,
			Dropoff:        input.Dropoff.point(),
			DropoffAddress: input.Dropoff.Address,
			VehicleType:    models.VehicleType(input.VehicleType),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, ride)
	}
}

// EstimateRide quotes every vehicle type, or just the requested one.
func EstimateRide() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Pickup      *utils.Point `json:"pickup" binding:"required"`
			Dropoff     *utils.Point `json:"dropoff" binding:"required"`
			VehicleType string       `json:"vehicleType" binding:"omitempty,oneof=standard comfort premium xl"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, bindError(err))
			return
		}
		switch {
		case !input.Pickup.Valid():
			respondError(c, apperr.Invalid("pickup", "coordinates out of range"))
			return
		case !input.Dropoff.Valid():
			respondError(c, apperr.Invalid("dropoff", "coordinates out of range"))
			return
		}

		types := models.VehicleTypes
		if input.VehicleType != "" {
			types = []models.VehicleType{models.VehicleType(input.VehicleType)}
		}
		estimates := make([]utils.FareEstimate, 0, len(types))
		for _, vt := range types {
			if e, ok := utils.EstimateFare(vt, *input.Pickup, *input.Dropoff); ok {
				estimates = append(estimates, e)
			}
		}
		c.JSON(http.StatusOK, gin.H{"estimates": estimates})
	}
}

// GetRide is the single-ride read path used for snapshots and polling.
func GetRide(rides *services.RideService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c, "rideId")
		if err != nil {
			respondError(c, err)
			return
		}
		ride, err := rides.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		if !canView(c, ride) {
			respondError(c, apperr.ErrNotAuthorized)
			return
		}
		c.JSON(http.StatusOK, ride)
	}
}

// ListRides returns the caller's rides, newest first unless order=oldest.
// Passengers see rides they requested and drivers rides assigned to them.
func ListRides(rides *services.RideService) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseFilter(c)
		if err != nil {
			respondError(c, err)
			return
		}
		scope(c, &filter)

		list, err := rides.List(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rides": list})
	}
}

// RideHistory lists the caller's completed and cancelled rides.
func RideHistory(rides *services.RideService) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseFilter(c)
		if err != nil {
			respondError(c, err)
			return
		}
		filter.Statuses = []models.RideStatus{models.RideStatusCompleted, models.RideStatusCancelled}
		filter.OldestFirst = false
		scope(c, &filter)

		list, err := rides.List(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rides": list})
	}
}

func scope(c *gin.Context, f *repository.RideFilter) {
	uid := middleware.UserID(c)
	switch middleware.UserType(c) {
	case models.RolePassenger:
		f.PassengerID = &uid
	case models.RoleDriver:
		f.DriverID = &uid
	}
}

func parseFilter(c *gin.Context) (repository.RideFilter, error) {
	f := repository.RideFilter{Limit: defaultPageSize}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, err := models.ParseRideStatus(strings.TrimSpace(s))
			if err != nil {
				return f, apperr.Invalid("status", err.Error())
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := c.Query("vehicleType"); raw != "" {
		vt, err := models.ParseVehicleType(raw)
		if err != nil {
			return f, apperr.Invalid("vehicleType", err.Error())
		}
		f.VehicleType = vt
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			return f, apperr.Invalid("limit", "must be between 1 and "+strconv.Itoa(maxPageSize))
		}
		f.Limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, apperr.Invalid("offset", "must not be negative")
		}
		f.Offset = n
	}
	f.OldestFirst = c.Query("order") == "oldest"
	return f, nil
}

// AcceptRide lets the calling driver claim a pending ride.
func AcceptRide(coordinator *services.AssignmentCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c, "rideId")
		if err != nil {
			respondError(c, err)
			return
		}
		ride, err := coordinator.AcceptRide(c.Request.Context(), id, middleware.UserID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ride)
	}
}

// UpdateRideStatus requests a state machine transition.
func UpdateRideStatus(rides *services.RideService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c, "rideId")
		if err != nil {
			respondError(c, err)
			return
		}
		var input struct {
			Status     string   `json:"status" binding:"required"`
			FinalPrice *float64 `json:"finalPrice" binding:"omitempty,gte=0"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, bindError(err))
			return
		}
		to, err := models.ParseRideStatus(input.Status)
		if err != nil {
			respondError(c, apperr.Invalid("status", err.Error()))
			return
		}

		ride, err := rides.UpdateStatus(c.Request.Context(), id, actor(c), to, input.FinalPrice)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ride)
	}
}

// CancelRide cancels a pending or accepted ride.
func CancelRide(rides *services.RideService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c, "rideId")
		if err != nil {
			respondError(c, err)
			return
		}
		ride, err := rides.Cancel(c.Request.Context(), id, actor(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ride)
	}
}

type availableRide struct {
	models.Ride
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// AvailableRides lists pending rides matching the calling driver's vehicle
// type, oldest first. When the driver has a fix, rides whose pickup is
// outside the eligibility radius are left out.
func AvailableRides(rides *services.RideService, gate *services.AvailabilityGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		driver, err := gate.Driver(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		pending, err := rides.List(c.Request.Context(), repository.RideFilter{
			Statuses:    []models.RideStatus{models.RideStatusPending},
			VehicleType: driver.VehicleType,
			OldestFirst: true,
			Limit:       maxPageSize,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		out := make([]availableRide, 0, len(pending))
		for _, r := range pending {
			ar := availableRide{Ride: r}
			if driver.HasLocation() {
				here := utils.Point{Lat: *driver.CurrentLatitude, Lng: *driver.CurrentLongitude}
				d := here.DistanceTo(utils.Point{Lat: r.PickupLatitude, Lng: r.PickupLongitude})
				if d > gate.RadiusKm() {
					continue
				}
				ar.DistanceKm = &d
			}
			out = append(out, ar)
		}
		c.JSON(http.StatusOK, gin.H{"rides": out})
	}
}
