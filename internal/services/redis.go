package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	rideUpdatesChannel = "ride:updates"
	driversGeoKey      = "drivers:geo"
)

// NewRedisClient connects to redisURL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

type bridgeEnvelope struct {
	Origin  string          `json:"origin"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBridge relays realtime messages between API instances over Redis
// pub/sub so a subscriber connected to any instance sees every publish.
type RedisBridge struct {
	client *redis.Client
	origin string
	logger *slog.Logger
}

func NewRedisBridge(client *redis.Client, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{client: client, origin: uuid.NewString(), logger: logger}
}

// Publish sends payload to the peer instances.
func (b *RedisBridge) Publish(ctx context.Context, topic string, payload []byte) error {
	data, err := json.Marshal(bridgeEnvelope{Origin: b.origin, Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, rideUpdatesChannel, data).Err()
}

// Run forwards messages published by other instances to deliver until ctx
// is cancelled.
func (b *RedisBridge) Run(ctx context.Context, deliver func(ctx context.Context, topic string, payload []byte)) error {
	pubsub := b.client.Subscribe(ctx, rideUpdatesChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", rideUpdatesChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("discarding malformed bridge message", "error", err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			deliver(ctx, env.Topic, env.Payload)
		}
	}
}

// NearbyDriver is a cached driver position.
type NearbyDriver struct {
	DriverID   uint    `json:"driverId"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lng"`
	DistanceKm float64 `json:"distanceKm"`
}

// RedisLocationCache mirrors available drivers' latest fixes in a Redis
// GEO set for cheap proximity lookups.
type RedisLocationCache struct {
	client *redis.Client
	key    string
}

func NewRedisLocationCache(client *redis.Client) *RedisLocationCache {
	return &RedisLocationCache{client: client, key: driversGeoKey}
}

func (c *RedisLocationCache) Record(ctx context.Context, driverID uint, lat, lng float64) error {
	return c.client.GeoAdd(ctx, c.key, &redis.GeoLocation{
		Name:      strconv.FormatUint(uint64(driverID), 10),
		Latitude:  lat,
		Longitude: lng,
	}).Err()
}

func (c *RedisLocationCache) Forget(ctx context.Context, driverID uint) error {
	return c.client.ZRem(ctx, c.key, strconv.FormatUint(uint64(driverID), 10)).Err()
}

func (c *RedisLocationCache) Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]NearbyDriver, error) {
	res, err := c.client.GeoRadius(ctx, c.key, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]NearbyDriver, 0, len(res))
	for _, g := range res {
		id, err := strconv.ParseUint(g.Name, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, NearbyDriver{DriverID: uint(id), Latitude: g.Latitude, Longitude: g.Longitude, DistanceKm: g.Dist})
	}
	return out, nil
}
