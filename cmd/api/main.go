package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/chachabrian/mooveit-ridesync/internal/config"
	"github.com/chachabrian/mooveit-ridesync/internal/database"
	"github.com/chachabrian/mooveit-ridesync/internal/handlers"
	"github.com/chachabrian/mooveit-ridesync/internal/logging"
	"github.com/chachabrian/mooveit-ridesync/internal/repository"
	"github.com/chachabrian/mooveit-ridesync/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rides, drivers, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}

	// Redis is optional: without it the process is a single instance and
	// nearby-driver queries fall back to the store.
	var (
		bridge      *services.RedisBridge
		gateCache   services.LocationCache
		realtimeBus services.Bridge
	)
	if cfg.RedisURL != "" {
		client, err := services.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		bridge = services.NewRedisBridge(client, logger)
		realtimeBus = bridge
		gateCache = services.NewRedisLocationCache(client)
		logger.Info("redis connected")
	}

	var events services.EventLog
	if len(cfg.KafkaBrokers) > 0 {
		k := services.NewKafkaEventLog(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer k.Close()
		events = k
		logger.Info("ride event log enabled", "topic", cfg.KafkaTopic)
	}

	var offers services.OfferBroker
	if cfg.AMQPURL != "" {
		b, err := services.NewAMQPOfferBroker(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer b.Close()
		offers = b
		logger.Info("offer broker connected", "exchange", cfg.AMQPExchange)
	}

	hub := services.NewHub(cfg.SubscriberBuffer, logger)
	realtime := services.NewRealtimeChannel(hub, realtimeBus, logger)
	dispatcher := services.NewDispatcher(realtime, events, offers, logger)
	coordinator := services.NewAssignmentCoordinator(rides, drivers, dispatcher, logger)
	coordinator.SetTimeout(cfg.AcceptTimeout)
	gate := services.NewAvailabilityGate(drivers, gateCache, cfg.EligibilityRadiusKm, logger)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	r.Use(cors.New(corsConfig))

	handlers.Register(r, handlers.Deps{
		Rides:        services.NewRideService(rides, coordinator, dispatcher, logger),
		Coordinator:  coordinator,
		Gate:         gate,
		Realtime:     realtime,
		JWTSecret:    cfg.JWTSecret,
		PingInterval: cfg.PingInterval,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     r,
		ReadTimeout: cfg.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	if bridge != nil {
		g.Go(func() error {
			return bridge.Run(gctx, realtime.Deliver)
		})
	}
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.HTTPAddr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(cfg config.DatabaseConfig, logger *slog.Logger) (repository.RideRepository, repository.DriverRepository, error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		rides, drivers := repository.NewMemory()
		return rides, drivers, nil
	}
	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewGormRides(db), repository.NewGormDrivers(db), nil
}
