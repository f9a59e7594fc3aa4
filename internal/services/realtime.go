package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/internal/observability"
)

var errHubStopped = errors.New("realtime hub stopped")

// Bridge relays locally published messages to the other API instances.
type Bridge interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// RealtimeChannel publishes ride events to per-ride topics. Delivery is
// best effort and at most once; subscribers must reconcile through the
// read path.
type RealtimeChannel struct {
	hub    *Hub
	bridge Bridge
	logger *slog.Logger
}

// NewRealtimeChannel publishes through hub and, when bridge is non-nil, to
// peer instances as well.
func NewRealtimeChannel(hub *Hub, bridge Bridge, logger *slog.Logger) *RealtimeChannel {
	return &RealtimeChannel{hub: hub, bridge: bridge, logger: logger}
}

// Publish announces ride, which just moved out of from ("" for a new
// ride). Pending-board subscribers hear about rides entering or leaving
// pending.
func (c *RealtimeChannel) Publish(ctx context.Context, from models.RideStatus, ride models.Ride) {
	ev := models.NewRideEvent(models.EventTypeFor(ride.Status), ride)
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("marshal ride event", "ride_id", ride.ID, "error", err)
		return
	}

	topics := []string{RideTopic(ride.ID)}
	if from == models.RideStatusPending || ride.Status == models.RideStatusPending {
		topics = append(topics, PendingTopic)
	}
	for _, topic := range topics {
		c.deliver(ctx, topic, payload)
		if c.bridge != nil {
			if err := c.bridge.Publish(ctx, topic, payload); err != nil {
				observability.EventLogFailures.WithLabelValues("redis").Inc()
				c.logger.Warn("bridge publish failed", "topic", topic, "error", err)
			}
		}
	}
}

// Deliver hands a payload received from a peer instance to local
// subscribers only.
func (c *RealtimeChannel) Deliver(ctx context.Context, topic string, payload []byte) {
	c.deliver(ctx, topic, payload)
}

func (c *RealtimeChannel) deliver(ctx context.Context, topic string, payload []byte) {
	if err := c.hub.Publish(ctx, topic, payload); err != nil {
		c.logger.Warn("local publish failed", "topic", topic, "error", err)
		return
	}
	observability.RealtimePublishes.WithLabelValues(topicKind(topic)).Inc()
}

// Subscribe opens a subscription to one ride's topic.
func (c *RealtimeChannel) Subscribe(ctx context.Context, rideID, userID uint) (*Subscriber, error) {
	return c.hub.Subscribe(ctx, RideTopic(rideID), userID)
}

// SubscribePending opens a subscription to the pending-rides topic.
func (c *RealtimeChannel) SubscribePending(ctx context.Context, userID uint) (*Subscriber, error) {
	return c.hub.Subscribe(ctx, PendingTopic, userID)
}

// Unsubscribe closes sub.
func (c *RealtimeChannel) Unsubscribe(sub *Subscriber) {
	c.hub.Unsubscribe(sub)
}

// ServeWebSocket streams sub to a WebSocket peer and unsubscribes it when
// either side goes away.
func (c *RealtimeChannel) ServeWebSocket(w http.ResponseWriter, r *http.Request, sub *Subscriber, pingInterval time.Duration) {
	c.hub.ServeWebSocket(w, r, sub, pingInterval)
}

func topicKind(topic string) string {
	if topic == PendingTopic {
		return "pending"
	}
	return "ride"
}
