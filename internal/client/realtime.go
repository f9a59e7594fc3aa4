package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/internal/syncagent"
)

// DefaultLiveness is how long a subscription may go without any frame,
// pings included, before it is considered dropped.
const DefaultLiveness = 60 * time.Second

// Realtime opens WebSocket subscriptions against the API.
type Realtime struct {
	baseURL  string
	token    func() string
	dialer   *websocket.Dialer
	liveness time.Duration
	logger   *slog.Logger
}

// NewRealtime derives ws:// or wss:// URLs from the API's base URL.
// liveness should exceed the server ping interval.
func NewRealtime(baseURL string, token func() string, liveness time.Duration, logger *slog.Logger) *Realtime {
	if liveness <= 0 {
		liveness = DefaultLiveness
	}
	return &Realtime{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		dialer:   &websocket.Dialer{HandshakeTimeout: DefaultTimeout},
		liveness: liveness,
		logger:   logger,
	}
}

// SubscribeRide opens the event stream of one ride.
func (r *Realtime) SubscribeRide(ctx context.Context, id uint) (syncagent.Stream, error) {
	return r.open(ctx, fmt.Sprintf("/api/realtime/rides/%d/ws", id))
}

// SubscribePending opens the pending-rides stream.
func (r *Realtime) SubscribePending(ctx context.Context) (syncagent.Stream, error) {
	return r.open(ctx, "/api/realtime/pending/ws")
}

func (r *Realtime) open(ctx context.Context, path string) (syncagent.Stream, error) {
	u, err := url.Parse(r.baseURL + path)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if tok := r.token(); tok != "" {
		q := u.Query()
		q.Set("token", tok)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := r.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("subscribe %s: %w", path, apperr.ErrUnauthenticated)
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &apperr.TransportError{Op: "subscribe " + path, Timeout: isTimeout(err), Err: err}
	}

	s := &wsStream{
		conn:   conn,
		events: make(chan models.RideEvent, 16),
		done:   make(chan struct{}),
		logger: r.logger.With("path", path),
	}
	go s.readLoop(r.liveness)
	return s, nil
}

// wsStream turns WebSocket frames into ride events. Any read error,
// including a missed liveness deadline, ends the stream.
type wsStream struct {
	conn   *websocket.Conn
	events chan models.RideEvent
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (s *wsStream) Events() <-chan models.RideEvent {
	return s.events
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) readLoop(liveness time.Duration) {
	defer close(s.events)
	defer s.Close()

	extend := func() { _ = s.conn.SetReadDeadline(time.Now().Add(liveness)) }
	extend()
	s.conn.SetPingHandler(func(data string) error {
		extend()
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug("realtime stream ended", "error", err)
			}
			return
		}
		extend()
		ev, err := DecodeEvent(data)
		if err != nil {
			s.logger.Warn("skipping undecodable event", "error", err)
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
