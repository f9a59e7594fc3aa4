package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chachabrian/mooveit-ridesync/internal/observability"
)

const (
	// PendingTopic carries changes to the set of rides awaiting a driver.
	PendingTopic = "rides:pending"

	writeWait      = 10 * time.Second
	maxInboundSize = 512
)

// RideTopic is the per-ride realtime topic.
func RideTopic(rideID uint) string {
	return fmt.Sprintf("ride:%d", rideID)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the CORS layer
	},
}

// Subscriber receives every message published on one topic while it is
// registered. Its channel is closed when it unsubscribes, falls behind or
// the hub stops.
type Subscriber struct {
	Topic  string
	UserID uint
	send   chan []byte
}

// Messages is the subscriber's ordered stream.
func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

type publication struct {
	topic   string
	payload []byte
}

// Hub fans published messages out to the subscribers of each topic. A
// single Run goroutine owns all registration and delivery, so messages on
// a topic reach each subscriber in publish order.
type Hub struct {
	topics     map[string]map[*Subscriber]struct{}
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan publication
	buffer     int
	mutex      sync.RWMutex
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub creates a hub whose subscribers can lag by at most buffer messages.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		topics:     make(map[string]map[*Subscriber]struct{}),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		broadcast:  make(chan publication),
		buffer:     buffer,
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is cancelled, then closes every subscriber.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil

		case sub := <-h.register:
			h.mutex.Lock()
			subs, ok := h.topics[sub.Topic]
			if !ok {
				subs = make(map[*Subscriber]struct{})
				h.topics[sub.Topic] = subs
			}
			subs[sub] = struct{}{}
			h.mutex.Unlock()
			observability.RealtimeSubscribers.Inc()
			h.logger.Debug("subscriber joined", "topic", sub.Topic, "user_id", sub.UserID)

		case sub := <-h.unregister:
			if h.remove(sub) {
				h.logger.Debug("subscriber left", "topic", sub.Topic, "user_id", sub.UserID)
			}

		case msg := <-h.broadcast:
			h.mutex.RLock()
			var slow []*Subscriber
			for sub := range h.topics[msg.topic] {
				select {
				case sub.send <- msg.payload:
				default:
					slow = append(slow, sub)
				}
			}
			h.mutex.RUnlock()
			for _, sub := range slow {
				if h.remove(sub) {
					observability.RealtimeDropped.Inc()
					h.logger.Warn("dropping slow subscriber", "topic", sub.Topic, "user_id", sub.UserID)
				}
			}
		}
	}
}

func (h *Hub) remove(sub *Subscriber) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	subs, ok := h.topics[sub.Topic]
	if !ok {
		return false
	}
	if _, ok := subs[sub]; !ok {
		return false
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, sub.Topic)
	}
	close(sub.send)
	observability.RealtimeSubscribers.Dec()
	return true
}

func (h *Hub) shutdown() {
	h.mutex.Lock()
	for topic, subs := range h.topics {
		for sub := range subs {
			close(sub.send)
			observability.RealtimeSubscribers.Dec()
		}
		delete(h.topics, topic)
	}
	h.mutex.Unlock()
	close(h.done)
}

// Subscribe registers a subscriber on topic. Once it returns, every later
// Publish on that topic is delivered to it.
func (h *Hub) Subscribe(ctx context.Context, topic string, userID uint) (*Subscriber, error) {
	sub := &Subscriber{Topic: topic, UserID: userID, send: make(chan []byte, h.buffer)}
	select {
	case h.register <- sub:
		return sub, nil
	case <-h.done:
		return nil, errHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe removes sub; its channel is closed.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Publish hands payload to the hub for delivery to the current subscribers
// of topic. Nothing is retained for later subscribers.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) error {
	select {
	case h.broadcast <- publication{topic: topic, payload: payload}:
		return nil
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers returns the number of subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.topics[topic])
}

// ServeWebSocket upgrades the request and streams sub's messages to the
// peer until either side goes away. The server pings every pingInterval
// and drops peers that stop answering.
func (h *Hub) ServeWebSocket(w http.ResponseWriter, r *http.Request, sub *Subscriber, pingInterval time.Duration) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		h.Unsubscribe(sub)
		return
	}

	peerGone := make(chan struct{})
	go h.readPump(conn, pingInterval, peerGone)
	h.writePump(conn, sub, pingInterval, peerGone)
	h.Unsubscribe(sub)
}

// readPump discards inbound frames; it exists to process control frames
// and notice the peer closing.
func (h *Hub) readPump(conn *websocket.Conn, pingInterval time.Duration, peerGone chan<- struct{}) {
	defer close(peerGone)
	pongWait := 2 * pingInterval
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *Subscriber, pingInterval time.Duration, peerGone <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write failed", "topic", sub.Topic, "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-peerGone:
			return
		}
	}
}
