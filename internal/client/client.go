// Package client talks to the ride API over HTTP and WebSocket. It
// implements the read, write and subscription interfaces the sync agent
// consumes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// DefaultTimeout bounds every API request.
const DefaultTimeout = 10 * time.Second

// API is an HTTP client for the ride endpoints.
type API struct {
	baseURL string
	http    *http.Client
	token   func() string
}

// NewAPI targets baseURL (e.g. "https://api.example.com"). token is read
// before each request; it may return "".
func NewAPI(baseURL string, token func() string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		token:   token,
	}
}

// WithHTTPClient replaces the underlying client, e.g. to change the timeout.
func (a *API) WithHTTPClient(c *http.Client) *API {
	a.http = c
	return a
}

// BaseURL is the API root.
func (a *API) BaseURL() string {
	return a.baseURL
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := a.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	op := method + " " + path
	resp, err := a.http.Do(req)
	if err != nil {
		return &apperr.TransportError{Op: op, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperr.TransportError{Op: op, Timeout: isTimeout(err), Err: err}
	}
	if resp.StatusCode >= 400 {
		var p apperr.Payload
		if err := json.Unmarshal(data, &p); err != nil || p.Code == "" {
			if resp.StatusCode >= 500 {
				return &apperr.TransportError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
			}
			return fmt.Errorf("%s: status %d", op, resp.StatusCode)
		}
		return apperr.FromPayload(p)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Ride reads one ride.
func (a *API) Ride(ctx context.Context, id uint) (models.Ride, error) {
	var r models.Ride
	err := a.do(ctx, http.MethodGet, fmt.Sprintf("/api/rides/%d", id), nil, &r)
	return r, err
}

// Rides lists the caller's rides in the given statuses.
func (a *API) Rides(ctx context.Context, statuses ...models.RideStatus) ([]models.Ride, error) {
	path := "/api/rides"
	if len(statuses) > 0 {
		parts := make([]string, len(statuses))
		for i, s := range statuses {
			parts[i] = string(s)
		}
		path += "?status=" + url.QueryEscape(strings.Join(parts, ","))
	}
	var out struct {
		Rides []models.Ride `json:"rides"`
	}
	err := a.do(ctx, http.MethodGet, path, nil, &out)
	return out.Rides, err
}

// AvailableRides lists pending rides offered to the calling driver.
func (a *API) AvailableRides(ctx context.Context) ([]models.Ride, error) {
	var out struct {
		Rides []models.Ride `json:"rides"`
	}
	err := a.do(ctx, http.MethodGet, "/api/driver/available-rides", nil, &out)
	return out.Rides, err
}

// Location is a point with its street address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// CreateRide requests a ride as the calling passenger.
func (a *API) CreateRide(ctx context.Context, pickup, dropoff Location, vt models.VehicleType) (models.Ride, error) {
	var r models.Ride
	err := a.do(ctx, http.MethodPost, "/api/rides", map[string]any{
		"pickup":      pickup,
		"dropoff":     dropoff,
		"vehicleType": vt,
	}, &r)
	return r, err
}

// Accept claims a pending ride as the calling driver.
func (a *API) Accept(ctx context.Context, id uint) (models.Ride, error) {
	var r models.Ride
	err := a.do(ctx, http.MethodPost, fmt.Sprintf("/api/rides/%d/accept", id), nil, &r)
	return r, err
}

// UpdateStatus requests a transition of ride id.
func (a *API) UpdateStatus(ctx context.Context, id uint, to models.RideStatus, finalPrice *float64) (models.Ride, error) {
	body := map[string]any{"status": to}
	if finalPrice != nil {
		body["finalPrice"] = *finalPrice
	}
	var r models.Ride
	err := a.do(ctx, http.MethodPatch, fmt.Sprintf("/api/rides/%d/status", id), body, &r)
	return r, err
}

// Cancel cancels ride id.
func (a *API) Cancel(ctx context.Context, id uint) (models.Ride, error) {
	var r models.Ride
	err := a.do(ctx, http.MethodPost, fmt.Sprintf("/api/rides/%d/cancel", id), nil, &r)
	return r, err
}

// SetAvailability toggles the calling driver's availability.
func (a *API) SetAvailability(ctx context.Context, available bool) (Driver, error) {
	var raw json.RawMessage
	if err := a.do(ctx, http.MethodPatch, "/api/driver/availability", map[string]bool{"isAvailable": available}, &raw); err != nil {
		return Driver{}, err
	}
	return DecodeDriver(raw)
}

// UpdateLocation uploads the calling driver's latest fix.
func (a *API) UpdateLocation(ctx context.Context, lat, lng float64) error {
	return a.do(ctx, http.MethodPatch, "/api/driver/location", map[string]float64{"lat": lat, "lng": lng}, nil)
}

// DriverProfile reads the calling driver's record.
func (a *API) DriverProfile(ctx context.Context) (Driver, error) {
	var raw json.RawMessage
	if err := a.do(ctx, http.MethodGet, "/api/driver/profile", nil, &raw); err != nil {
		return Driver{}, err
	}
	return DecodeDriver(raw)
}
