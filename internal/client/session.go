package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/syncagent"
)

// Session is one signed-in user's connection to the API. Login sets the
// identity; Logout clears it and closes every subscription and tracker
// opened through the session.
type Session struct {
	api      *API
	realtime *Realtime

	mu       sync.Mutex
	token    string
	userID   uint
	role     string
	closers  map[io.Closer]struct{}
	loggedIn bool
	// done is closed by Logout to stop agents and boards built by the
	// session.
	done chan struct{}
}

// NewSession builds an API client and realtime dialer for baseURL.
func NewSession(baseURL string, liveness time.Duration, logger *slog.Logger) *Session {
	s := &Session{closers: make(map[io.Closer]struct{})}
	s.api = NewAPI(baseURL, s.currentToken)
	s.realtime = NewRealtime(baseURL, s.currentToken, liveness, logger)
	return s
}

func (s *Session) currentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Login installs the identity used for every later request.
func (s *Session) Login(token string, userID uint, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.userID, s.role = token, userID, role
	if s.done == nil {
		s.done = make(chan struct{})
	}
	s.loggedIn = true
}

// Logout forgets the identity and closes everything tracked.
func (s *Session) Logout() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = make(map[io.Closer]struct{})
	s.token, s.userID, s.role = "", 0, ""
	s.loggedIn = false
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()

	var errs []error
	for c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UserID is the signed-in user, or 0.
func (s *Session) UserID() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Role is the signed-in user's role, or "".
func (s *Session) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// API is the HTTP client bound to this session.
func (s *Session) API() *API {
	return s.api
}

// Track closes c on Logout. Tracking after Logout closes c immediately.
func (s *Session) Track(c io.Closer) {
	s.mu.Lock()
	if s.loggedIn {
		s.closers[c] = struct{}{}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	_ = c.Close()
}

// Untrack stops tracking c without closing it.
func (s *Session) Untrack(c io.Closer) {
	s.mu.Lock()
	delete(s.closers, c)
	s.mu.Unlock()
}

func (s *Session) requireLogin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loggedIn {
		return apperr.ErrUnauthenticated
	}
	return nil
}

// SubscribeRide opens a tracked ride subscription.
func (s *Session) SubscribeRide(ctx context.Context, id uint) (syncagent.Stream, error) {
	if err := s.requireLogin(); err != nil {
		return nil, err
	}
	st, err := s.realtime.SubscribeRide(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.tracked(st), nil
}

// SubscribePending opens a tracked pending-rides subscription.
func (s *Session) SubscribePending(ctx context.Context) (syncagent.Stream, error) {
	if err := s.requireLogin(); err != nil {
		return nil, err
	}
	st, err := s.realtime.SubscribePending(ctx)
	if err != nil {
		return nil, err
	}
	return s.tracked(st), nil
}

func (s *Session) tracked(st syncagent.Stream) syncagent.Stream {
	t := &trackedStream{Stream: st, session: s}
	s.Track(t)
	return t
}

type trackedStream struct {
	syncagent.Stream
	session *Session
}

func (t *trackedStream) Close() error {
	t.session.Untrack(t)
	return t.Stream.Close()
}

// loggedOut is closed when the current login ends. Before Login it is
// already closed.
func (s *Session) loggedOut() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// Agent builds a sync agent for one ride that reads, writes and
// subscribes through this session. Its Run ends on Logout.
func (s *Session) Agent(rideID uint, opts syncagent.Options) *syncagent.Agent {
	if opts.UserID == 0 {
		opts.UserID = s.UserID()
	}
	if opts.Done == nil {
		opts.Done = s.loggedOut()
	}
	return syncagent.New(rideID, s.api, s, s.api, opts)
}

// Board builds the pending-rides board for the signed-in driver. Its Run
// ends on Logout.
func (s *Session) Board(opts syncagent.BoardOptions) *syncagent.PendingBoard {
	if opts.Done == nil {
		opts.Done = s.loggedOut()
	}
	return syncagent.NewPendingBoard(s.api, s, opts)
}
