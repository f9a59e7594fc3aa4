package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// OfferBroker announces ride lifecycle changes to driver-facing workers
// over a message broker. Routing keys are ride.request.<vehicleType> for
// new rides and ride.status.<status> for everything after.
type OfferBroker interface {
	Announce(ctx context.Context, ride models.Ride) error
	Close() error
}

// RoutingKey returns the broker routing key announcing ride.
func RoutingKey(ride models.Ride) string {
	if ride.Status == models.RideStatusPending {
		return fmt.Sprintf("ride.request.%s", ride.VehicleType)
	}
	return fmt.Sprintf("ride.status.%s", ride.Status)
}

// AMQPOfferBroker publishes to a durable topic exchange.
type AMQPOfferBroker struct {
	exchange string
	conn     *amqp.Connection
	ch       *amqp.Channel
	mu       sync.Mutex
}

// NewAMQPOfferBroker dials url and declares exchange.
func NewAMQPOfferBroker(url, exchange string) (*AMQPOfferBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPOfferBroker{exchange: exchange, conn: conn, ch: ch}, nil
}

func (b *AMQPOfferBroker) Announce(ctx context.Context, ride models.Ride) error {
	body, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn.IsClosed() {
		return amqp.ErrClosed
	}
	return b.ch.PublishWithContext(ctx, b.exchange, RoutingKey(ride), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ride.UpdatedAt,
		Body:         body,
	})
}

func (b *AMQPOfferBroker) Close() error {
	if b.ch != nil && !b.ch.IsClosed() {
		if err := b.ch.Close(); err != nil {
			return fmt.Errorf("close rabbitmq channel: %w", err)
		}
	}
	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}

type nopOfferBroker struct{}

func (nopOfferBroker) Announce(context.Context, models.Ride) error { return nil }
func (nopOfferBroker) Close() error                                { return nil }

// NopOfferBroker drops announcements; used when no broker is configured.
func NopOfferBroker() OfferBroker { return nopOfferBroker{} }
