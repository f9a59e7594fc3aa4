package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/middleware"
	"github.com/chachabrian/mooveit-ridesync/internal/services"
)

// RideWebSocket streams events for one ride over a WebSocket.
func RideWebSocket(rides *services.RideService, realtime *services.RealtimeChannel, pingInterval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, ok := subscribeRide(c, rides, realtime)
		if !ok {
			return
		}
		realtime.ServeWebSocket(c.Writer, c.Request, sub, pingInterval)
	}
}

// PendingWebSocket streams changes to the pending-rides board.
func PendingWebSocket(realtime *services.RealtimeChannel, pingInterval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := realtime.SubscribePending(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondError(c, &apperr.TransportError{Op: "subscribe", Err: err})
			return
		}
		realtime.ServeWebSocket(c.Writer, c.Request, sub, pingInterval)
	}
}

// RideEvents streams events for one ride as server-sent events, with a
// comment line every pingInterval so idle proxies keep the stream open.
func RideEvents(rides *services.RideService, realtime *services.RealtimeChannel, pingInterval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, ok := subscribeRide(c, rides, realtime)
		if !ok {
			return
		}
		defer realtime.Unsubscribe(sub)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		c.Writer.Flush()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case msg, ok := <-sub.Messages():
				if !ok {
					return false
				}
				c.SSEvent("ride", string(msg))
				return true
			case <-ticker.C:
				_, err := fmt.Fprint(w, ": keep-alive\n\n")
				return err == nil
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

func subscribeRide(c *gin.Context, rides *services.RideService, realtime *services.RealtimeChannel) (*services.Subscriber, bool) {
	id, err := idParam(c, "rideId")
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	ride, err := rides.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if !canView(c, ride) {
		respondError(c, apperr.ErrNotAuthorized)
		return nil, false
	}
	sub, err := realtime.Subscribe(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		respondError(c, &apperr.TransportError{Op: "subscribe", Err: err})
		return nil, false
	}
	return sub, true
}
