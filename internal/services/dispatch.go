package services

import (
	"context"
	"log/slog"

	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/internal/observability"
)

// Notifier is told about every stored ride change.
type Notifier interface {
	RideChanged(ctx context.Context, from models.RideStatus, ride models.Ride)
}

// Dispatcher fans a stored ride change out to the realtime channel, the
// event log and the offer broker. Downstream failures are logged and never
// undo the stored change.
type Dispatcher struct {
	realtime *RealtimeChannel
	events   EventLog
	offers   OfferBroker
	logger   *slog.Logger
}

func NewDispatcher(realtime *RealtimeChannel, events EventLog, offers OfferBroker, logger *slog.Logger) *Dispatcher {
	if events == nil {
		events = NopEventLog()
	}
	if offers == nil {
		offers = NopOfferBroker()
	}
	return &Dispatcher{realtime: realtime, events: events, offers: offers, logger: logger}
}

func (d *Dispatcher) RideChanged(ctx context.Context, from models.RideStatus, ride models.Ride) {
	if from != "" {
		observability.RideTransitions.WithLabelValues(string(from), string(ride.Status)).Inc()
	}
	// Fan-out outlives the request that caused the change.
	ctx = context.WithoutCancel(ctx)
	d.realtime.Publish(ctx, from, ride)

	if err := d.events.Append(ctx, models.NewRideEvent(models.EventTypeFor(ride.Status), ride)); err != nil {
		observability.EventLogFailures.WithLabelValues("kafka").Inc()
		d.logger.Warn("event log append failed", "ride_id", ride.ID, "error", err)
	}
	if err := d.offers.Announce(ctx, ride); err != nil {
		observability.EventLogFailures.WithLabelValues("amqp").Inc()
		d.logger.Warn("offer announce failed", "ride_id", ride.ID, "error", err)
	}
}
