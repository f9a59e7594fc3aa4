package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/handlers"
	"github.com/chachabrian/mooveit-ridesync/internal/logging"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/internal/repository"
	"github.com/chachabrian/mooveit-ridesync/internal/services"
	"github.com/chachabrian/mooveit-ridesync/internal/syncagent"
	"github.com/chachabrian/mooveit-ridesync/pkg/utils"
)

const secret = "client-secret"

type testServer struct {
	*httptest.Server
	hub  *services.Hub
	gate *services.AvailabilityGate
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.Discard()

	rides, drivers := repository.NewMemory()
	hub := services.NewHub(16, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	realtime := services.NewRealtimeChannel(hub, nil, logger)
	dispatcher := services.NewDispatcher(realtime, nil, nil, logger)
	coordinator := services.NewAssignmentCoordinator(rides, drivers, dispatcher, logger)
	gate := services.NewAvailabilityGate(drivers, nil, 20, logger)

	r := gin.New()
	handlers.Register(r, handlers.Deps{
		Rides:        services.NewRideService(rides, coordinator, dispatcher, logger),
		Coordinator:  coordinator,
		Gate:         gate,
		Realtime:     realtime,
		JWTSecret:    secret,
		PingInterval: 50 * time.Millisecond,
		Logger:       logger,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return &testServer{Server: srv, hub: hub, gate: gate}
}

func (s *testServer) session(t *testing.T, id uint, role string) *Session {
	t.Helper()
	tok, err := utils.GenerateToken(secret, id, role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	sess := NewSession(s.URL, time.Second, logging.Discard())
	sess.Login(tok, id, role)
	t.Cleanup(func() { _ = sess.Logout() })
	return sess
}

func (s *testServer) driver(t *testing.T, id uint) *Session {
	t.Helper()
	ctx := context.Background()
	if _, err := s.gate.SaveProfile(ctx, models.Driver{UserID: id, VehicleType: models.VehicleTypeStandard}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.gate.SetVerified(ctx, id, true); err != nil {
		t.Fatal(err)
	}
	sess := s.session(t, id, models.RoleDriver)
	if err := sess.API().UpdateLocation(ctx, -1.29, 36.82); err != nil {
		t.Fatal(err)
	}
	d, err := sess.API().SetAvailability(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if d.UserID != id || !d.IsAvailable {
		t.Fatalf("driver after toggle %+v", d)
	}
	return sess
}

func (s *testServer) waitSubscribers(t *testing.T, topic string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Subscribers(topic) < n {
		if time.Now().After(deadline) {
			t.Fatalf("%s has %d subscribers, want %d", topic, s.hub.Subscribers(topic), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func createRide(t *testing.T, passenger *Session) models.Ride {
	t.Helper()
	ride, err := passenger.API().CreateRide(context.Background(),
		Location{Lat: -1.2921, Lng: 36.8219, Address: "CBD"},
		Location{Lat: -1.30, Lng: 36.78, Address: "Kilimani"},
		models.VehicleTypeStandard)
	if err != nil {
		t.Fatal(err)
	}
	return ride
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type countingTransport struct {
	gets atomic.Int64
	path string
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet && req.URL.Path == c.path {
		c.gets.Add(1)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestPassengerSeesTripStartWithoutPulling(t *testing.T) {
	srv := newServer(t)
	driver := srv.driver(t, 10)
	passenger := srv.session(t, 20, models.RolePassenger)
	ride := createRide(t, passenger)

	counter := &countingTransport{path: fmt.Sprintf("/api/rides/%d", ride.ID)}
	passenger.API().WithHTTPClient(&http.Client{Timeout: DefaultTimeout, Transport: counter})

	agent := passenger.Agent(ride.ID, syncagent.Options{Logger: logging.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = agent.Run(ctx) }()

	waitFor(t, "push mode", func() bool { return agent.View().Mode == syncagent.ModePush })
	srv.waitSubscribers(t, services.RideTopic(ride.ID), 1)
	waitFor(t, "reconcile pull", func() bool { return counter.gets.Load() == 2 })

	if _, err := driver.API().Accept(ctx, ride.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := driver.API().UpdateStatus(ctx, ride.ID, models.RideStatusInProgress, nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "in_progress", func() bool { return agent.View().Status() == models.RideStatusInProgress })
	if got := counter.gets.Load(); got != 2 {
		t.Fatalf("agent pulled %d times; push should have been enough", got)
	}
	if v := agent.View(); !v.Ride.HasDriver(10) || v.Ride.StartedAt == nil {
		t.Fatalf("view %+v", v.Ride)
	}
}

func TestLoserBoardDropsRide(t *testing.T) {
	srv := newServer(t)
	winner := srv.driver(t, 10)
	loser := srv.driver(t, 11)
	passenger := srv.session(t, 20, models.RolePassenger)

	board := loser.Board(syncagent.BoardOptions{Interval: time.Second, Logger: logging.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = board.Run(ctx) }()
	srv.waitSubscribers(t, services.PendingTopic, 1)

	ride := createRide(t, passenger)
	waitFor(t, "ride offered", func() bool { return len(board.Rides()) == 1 })

	if _, err := winner.API().Accept(ctx, ride.ID); err != nil {
		t.Fatal(err)
	}
	_, err := loser.API().Accept(ctx, ride.ID)
	if !errors.Is(err, apperr.ErrAlreadyAccepted) {
		t.Fatalf("loser got %v", err)
	}
	waitFor(t, "ride withdrawn", func() bool { return len(board.Rides()) == 0 })

	got, err := loser.API().Ride(ctx, ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RideStatusAccepted || !got.HasDriver(10) {
		t.Fatalf("loser sees %+v", got)
	}
}

func TestTypedErrorsSurviveTheWire(t *testing.T) {
	srv := newServer(t)
	driver := srv.driver(t, 10)
	passenger := srv.session(t, 20, models.RolePassenger)
	ride := createRide(t, passenger)
	ctx := context.Background()

	_, err := driver.API().UpdateStatus(ctx, ride.ID, models.RideStatusCompleted, nil)
	var ite *apperr.InvalidTransitionError
	if !errors.As(err, &ite) || ite.From != models.RideStatusPending || ite.To != models.RideStatusCompleted {
		t.Fatalf("got %v", err)
	}
	if _, err := passenger.API().Ride(ctx, 9999); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing ride: %v", err)
	}
	if _, err := passenger.API().Accept(ctx, ride.ID); !errors.Is(err, apperr.ErrNotAuthorized) {
		t.Fatalf("passenger accept: %v", err)
	}
}

func TestTimeoutIsTransportError(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	api := NewAPI(slow.URL, func() string { return "" }).WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond})
	_, err := api.Ride(context.Background(), 1)
	if !apperr.IsTimeout(err) {
		t.Fatalf("got %v", err)
	}
}

func TestLogoutClosesSubscriptions(t *testing.T) {
	srv := newServer(t)
	passenger := srv.session(t, 20, models.RolePassenger)
	ride := createRide(t, passenger)

	stream, err := passenger.SubscribeRide(context.Background(), ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	agent := passenger.Agent(ride.ID, syncagent.Options{Logger: logging.Discard()})
	agentDone := make(chan error, 1)
	go func() { agentDone <- agent.Run(context.Background()) }()
	waitFor(t, "agent push", func() bool { return agent.View().Mode == syncagent.ModePush })
	srv.waitSubscribers(t, services.RideTopic(ride.ID), 2)

	if err := passenger.Logout(); err != nil {
		t.Fatal(err)
	}
	select {
	case _, ok := <-stream.Events():
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after logout")
	}
	select {
	case <-agentDone:
	case <-time.After(2 * time.Second):
		t.Fatal("agent kept running after logout")
	}
	if m := agent.View().Mode; m != syncagent.ModeStopped {
		t.Fatalf("agent mode after logout = %s", m)
	}
	waitFor(t, "server side unsubscribe", func() bool { return srv.hub.Subscribers(services.RideTopic(ride.ID)) == 0 })

	if _, err := passenger.SubscribeRide(context.Background(), ride.ID); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("subscribe after logout: %v", err)
	}
}

func TestSubscribeRejectedIsUnauthenticated(t *testing.T) {
	srv := newServer(t)
	rt := NewRealtime(srv.URL, func() string { return "not-a-token" }, time.Second, logging.Discard())
	_, err := rt.SubscribeRide(context.Background(), 1)
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("got %v", err)
	}
}

func TestDecodeEventFormats(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		status models.RideStatus
		full   bool
	}{
		{"envelope", `{"type":"ride_accepted","ride":{"id":4,"status":"accepted","driverId":2,"updatedAt":"2024-05-01T12:00:00Z"}}`, models.RideStatusAccepted, true},
		{"partial", `{"type":"ride_status_changed","rideId":4,"status":"in_progress","updatedAt":"2024-05-01T12:01:00Z"}`, models.RideStatusInProgress, false},
		{"bare ride", `{"id":4,"status":"cancelled","updatedAt":"2024-05-01T12:02:00Z"}`, models.RideStatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			if ev.RideID != 4 || ev.Status != tt.status || (ev.Ride != nil) != tt.full || ev.UpdatedAt.IsZero() {
				t.Fatalf("event %+v", ev)
			}
		})
	}

	for _, bad := range []string{`{"type":"ride_created"}`, `{"id":4,"status":"flying"}`, `[]`, `{}`} {
		if _, err := DecodeEvent([]byte(bad)); err == nil {
			t.Errorf("%s decoded", bad)
		}
	}
}

func TestDecodeDriverShapes(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Driver
	}{
		{
			"nested user",
			`{"id":3,"user":{"id":12,"firstName":"Amina","lastName":"Otieno"},"vehicleType":"comfort","licenceNumber":"KDB 1","isVerified":true}`,
			Driver{UserID: 12, Name: "Amina Otieno", VehicleType: models.VehicleTypeComfort, VehiclePlate: "KDB 1", IsVerified: true},
		},
		{
			"user iri",
			`{"id":3,"user":"/api/users/12","vehicleType":"xl","isAvailable":true}`,
			Driver{UserID: 12, VehicleType: models.VehicleTypeXL, IsAvailable: true},
		},
		{
			"user with profile",
			`{"id":12,"firstName":"Amina","lastName":"Otieno","userType":"driver","isVerified":true,"driverProfile":{"vehicleType":"premium","vehicleModel":"Axio"}}`,
			Driver{UserID: 12, Name: "Amina Otieno", VehicleType: models.VehicleTypePremium, VehicleModel: "Axio", IsVerified: true},
		},
		{
			"flattened record",
			`{"userId":12,"name":"Amina","vehicleType":"standard","vehiclePlate":"KDA 2","isAvailable":true,"isVerified":true}`,
			Driver{UserID: 12, Name: "Amina", VehicleType: models.VehicleTypeStandard, VehiclePlate: "KDA 2", IsAvailable: true, IsVerified: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDriver([]byte(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, err := DecodeDriver([]byte(`{"user":"/api/users/abc"}`)); err == nil {
		t.Fatal("bad iri accepted")
	}
	if _, err := DecodeDriver([]byte(`{"vehicleType":"standard"}`)); err == nil {
		t.Fatal("driver without user accepted")
	}
}
