package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chachabrian/mooveit-ridesync/internal/middleware"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/internal/services"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Rides        *services.RideService
	Coordinator  *services.AssignmentCoordinator
	Gate         *services.AvailabilityGate
	Realtime     *services.RealtimeChannel
	JWTSecret    string
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Register mounts every route on r.
func Register(r *gin.Engine, d Deps) {
	r.Use(middleware.RequestID(), middleware.RequestLogger(d.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.Auth(d.JWTSecret))

	passenger := middleware.RequireRole(models.RolePassenger)
	driver := middleware.RequireRole(models.RoleDriver)
	admin := middleware.RequireRole(models.RoleAdmin)

	rides := api.Group("/rides")
	{
		rides.POST("", passenger, CreateRide(d.Rides))
		rides.POST("/estimate", EstimateRide())
		rides.GET("", ListRides(d.Rides))
		rides.GET("/:rideId", GetRide(d.Rides))
		rides.POST("/:rideId/accept", driver, AcceptRide(d.Coordinator))
		rides.PATCH("/:rideId/status", UpdateRideStatus(d.Rides))
		rides.POST("/:rideId/cancel", CancelRide(d.Rides))
	}

	drv := api.Group("/driver", driver)
	{
		drv.GET("/available-rides", AvailableRides(d.Rides, d.Gate))
		drv.GET("/history", RideHistory(d.Rides))
		drv.GET("/profile", GetDriverProfile(d.Gate))
		drv.PUT("/profile", SaveDriverProfile(d.Gate))
		drv.PATCH("/availability", SetAvailability(d.Gate))
		drv.PATCH("/location", UpdateDriverLocation(d.Gate))
	}
	api.GET("/passenger/history", passenger, RideHistory(d.Rides))

	api.GET("/drivers/eligible", admin, EligibleDrivers(d.Gate))
	api.GET("/drivers/nearby", NearbyDrivers(d.Gate))
	api.PATCH("/admin/drivers/:driverId/verify", admin, VerifyDriver(d.Gate))

	rt := api.Group("/realtime")
	{
		rt.GET("/rides/:rideId/ws", RideWebSocket(d.Rides, d.Realtime, d.PingInterval))
		rt.GET("/rides/:rideId/events", RideEvents(d.Rides, d.Realtime, d.PingInterval))
		rt.GET("/pending/ws", driver, PendingWebSocket(d.Realtime, d.PingInterval))
	}
}
