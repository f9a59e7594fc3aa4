package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/middleware"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/internal/services"
	"github.com/chachabrian/mooveit-ridesync/pkg/utils"
)

// GetDriverProfile returns the calling driver's availability record.
func GetDriverProfile(gate *services.AvailabilityGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := gate.Driver(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// SaveDriverProfile creates or updates the calling driver's vehicle details.
func SaveDriverProfile(gate *services.AvailabilityGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Name         string `json:"name" binding:"required"`
			VehicleType  string `json:"vehicleType" binding:"required,oneof=standard comfort premium xl"`
			VehicleMake  string `json:"vehicleMake"`
			VehicleModel string `json:"vehicleModel"`
			VehiclePlate string `json:"vehiclePlate" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, bindError(err))
			return
		}

		d, err := gate.SaveProfile(c.Request.Context(), models.Driver{
			UserID:       middleware.UserID(c),
			Name:         input.Name,
			VehicleType:  models.VehicleType(input.VehicleType),
			VehicleMake:  input.VehicleMake,
			VehicleModel: input.VehicleModel,
			VehiclePlate: input.VehiclePlate,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// SetAvailability toggles whether the calling driver receives offers.
func SetAvailability(gate *services.AvailabilityGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			IsAvailable *bool `json:"isAvailable" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, bindError(err))
			return
		}
		d, err := gate.SetAvailability(c.Request.Context(), middleware.UserID(c), *input.IsAvailable)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// UpdateDriverLocation records the calling driver's latest fix.
func UpdateDriverLocation(gate *services.AvailabilityGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Lat *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
			Lng *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, bindError(err))
			return
		}
		d, err := gate.UpdateLocation(c.Request.Context(), middleware.UserID(c), *input.Lat, *input.Lng)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// EligibleDrivers lists drivers that may accept a ride of vehicleType,
// nearest first when lat and lng are given.
func EligibleDrivers(gate *services.AvailabilityGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		vt, err := models.ParseVehicleType(c.Query("vehicleType"))
		if err != nil {
			respondError(c, apperr.Invalid("vehicleType", err.Error()))
			return
		}
		origin, err := queryPoint(c)
		if err != nil {
			respondError(c, err)
			return
		}
		drivers, err := gate.ListEligibleDrivers(c.Request.Context(), vt, origin)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"drivers": drivers, "radiusKm": gate.RadiusKm()})
	}
}

// NearbyDrivers returns positions of available drivers around lat/lng.
func NearbyDrivers(gate *services.AvailabilityGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin, err := queryPoint(c)
		if err != nil {
			respondError(c, err)
			return
		}
		if origin == nil {
			respondError(c, apperr.Invalid("lat", "lat and lng are required"))
			return
		}
		limit := 20
		if raw := c.Query("limit"); raw != "" {
			if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
				respondError(c, apperr.Invalid("limit", "must be a positive integer"))
				return
			}
		}
		nearby, err := gate.Nearby(c.Request.Context(), *origin, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"drivers": nearby})
	}
}

// VerifyDriver sets a driver's verification flag.
func VerifyDriver(gate *services.AvailabilityGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c, "driverId")
		if err != nil {
			respondError(c, err)
			return
		}
		var input struct {
			IsVerified *bool `json:"isVerified" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, bindError(err))
			return
		}
		d, err := gate.SetVerified(c.Request.Context(), id, *input.IsVerified)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// queryPoint reads an optional lat/lng pair from the query string.
func queryPoint(c *gin.Context) (*utils.Point, error) {
	rawLat, rawLng := c.Query("lat"), c.Query("lng")
	if rawLat == "" && rawLng == "" {
		return nil, nil
	}
	lat, err1 := strconv.ParseFloat(rawLat, 64)
	lng, err2 := strconv.ParseFloat(rawLng, 64)
	p := utils.Point{Lat: lat, Lng: lng}
	if err1 != nil || err2 != nil || !p.Valid() {
		return nil, apperr.Invalid("lat", "lat and lng must be valid coordinates")
	}
	return &p, nil
}
