package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// memoryState is shared by MemoryRides and MemoryDrivers so a claim can
// check driver eligibility under the same lock it writes the ride with.
type memoryState struct {
	mu      sync.RWMutex
	nextID  uint
	rides   map[uint]models.Ride
	drivers map[uint]models.Driver
}

// MemoryRides is an in-process RideRepository.
type MemoryRides struct {
	state *memoryState
}

// MemoryDrivers is an in-process DriverRepository.
type MemoryDrivers struct {
	state *memoryState
}

// NewMemory returns repositories backed by one in-process store.
func NewMemory() (*MemoryRides, *MemoryDrivers) {
	st := &memoryState{
		rides:   make(map[uint]models.Ride),
		drivers: make(map[uint]models.Driver),
	}
	return &MemoryRides{state: st}, &MemoryDrivers{state: st}
}

func (m *MemoryRides) Create(_ context.Context, ride *models.Ride) error {
	st := m.state
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextID++
	ride.ID = st.nextID
	st.rides[ride.ID] = ride.Clone()
	return nil
}

func (m *MemoryRides) Get(_ context.Context, id uint) (models.Ride, error) {
	st := m.state
	st.mu.RLock()
	defer st.mu.RUnlock()
	r, ok := st.rides[id]
	if !ok {
		return models.Ride{}, rideNotFound(id)
	}
	return r.Clone(), nil
}

func (m *MemoryRides) List(_ context.Context, f RideFilter) ([]models.Ride, error) {
	st := m.state
	st.mu.RLock()
	out := make([]models.Ride, 0)
	for _, r := range st.rides {
		if matches(r, f) {
			out = append(out, r.Clone())
		}
	}
	st.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if f.OldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if f.OldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.Ride{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(r models.Ride, f RideFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PassengerID != nil && r.PassengerID != *f.PassengerID {
		return false
	}
	if f.DriverID != nil && !r.HasDriver(*f.DriverID) {
		return false
	}
	if f.VehicleType != "" && r.VehicleType != f.VehicleType {
		return false
	}
	return true
}

func (m *MemoryRides) ClaimPending(_ context.Context, claimed models.Ride) (models.Ride, error) {
	st := m.state
	st.mu.Lock()
	defer st.mu.Unlock()

	current, ok := st.rides[claimed.ID]
	if !ok {
		return models.Ride{}, rideNotFound(claimed.ID)
	}
	if claimed.DriverID == nil {
		return current.Clone(), classifyClaimMiss(current, nil, false)
	}
	driverID := *claimed.DriverID
	driver, hasDriver := st.drivers[driverID]
	busy := st.hasActiveLocked(driverID)

	eligible := hasDriver && driver.IsAvailable && driver.IsVerified && driver.VehicleType == current.VehicleType
	if current.Status != models.RideStatusPending || !eligible || busy {
		var dp *models.Driver
		if hasDriver {
			dp = &driver
		}
		return current.Clone(), classifyClaimMiss(current, dp, busy)
	}

	current.Status = models.RideStatusAccepted
	current.DriverID = &driverID
	current.AcceptedAt = claimed.AcceptedAt
	current.UpdatedAt = claimed.UpdatedAt
	st.rides[current.ID] = current.Clone()
	return current.Clone(), nil
}

func (m *MemoryRides) CompareAndSet(_ context.Context, from models.RideStatus, next models.Ride) (models.Ride, error) {
	st := m.state
	st.mu.Lock()
	defer st.mu.Unlock()

	current, ok := st.rides[next.ID]
	if !ok {
		return models.Ride{}, rideNotFound(next.ID)
	}
	if current.Status != from {
		return current.Clone(), staleWrite(current, next)
	}
	st.rides[next.ID] = next.Clone()
	return next.Clone(), nil
}

func (m *MemoryRides) HasActiveRide(_ context.Context, driverID uint) (bool, error) {
	st := m.state
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.hasActiveLocked(driverID), nil
}

func (st *memoryState) hasActiveLocked(driverID uint) bool {
	for _, r := range st.rides {
		if r.Status.Active() && r.HasDriver(driverID) {
			return true
		}
	}
	return false
}

func (m *MemoryDrivers) Get(_ context.Context, userID uint) (models.Driver, error) {
	st := m.state
	st.mu.RLock()
	defer st.mu.RUnlock()
	d, ok := st.drivers[userID]
	if !ok {
		return models.Driver{}, driverNotFound(userID)
	}
	return d, nil
}

func (m *MemoryDrivers) UpsertProfile(_ context.Context, profile models.Driver, at time.Time) (models.Driver, error) {
	st := m.state
	st.mu.Lock()
	defer st.mu.Unlock()
	d, ok := st.drivers[profile.UserID]
	if !ok {
		d = models.Driver{UserID: profile.UserID, CreatedAt: at}
	}
	d.Name = profile.Name
	d.VehicleType = profile.VehicleType
	d.VehicleMake = profile.VehicleMake
	d.VehicleModel = profile.VehicleModel
	d.VehiclePlate = profile.VehiclePlate
	d.UpdatedAt = at
	st.drivers[d.UserID] = d
	return d, nil
}

func (m *MemoryDrivers) SetAvailability(_ context.Context, userID uint, available bool, at time.Time) (models.Driver, error) {
	return m.update(userID, func(d *models.Driver) {
		d.IsAvailable = available
		d.UpdatedAt = at
	})
}

func (m *MemoryDrivers) UpdateLocation(_ context.Context, userID uint, lat, lng float64, at time.Time) (models.Driver, error) {
	return m.update(userID, func(d *models.Driver) {
		d.CurrentLatitude = &lat
		d.CurrentLongitude = &lng
		d.LocationUpdatedAt = &at
		d.UpdatedAt = at
	})
}

func (m *MemoryDrivers) SetVerified(_ context.Context, userID uint, verified bool, at time.Time) (models.Driver, error) {
	return m.update(userID, func(d *models.Driver) {
		d.IsVerified = verified
		d.VerifiedAt = nil
		if verified {
			d.VerifiedAt = &at
		}
		d.UpdatedAt = at
	})
}

func (m *MemoryDrivers) update(userID uint, fn func(d *models.Driver)) (models.Driver, error) {
	st := m.state
	st.mu.Lock()
	defer st.mu.Unlock()
	d, ok := st.drivers[userID]
	if !ok {
		return models.Driver{}, driverNotFound(userID)
	}
	fn(&d)
	st.drivers[userID] = d
	return d, nil
}

func (m *MemoryDrivers) ListAvailable(_ context.Context, vehicleType models.VehicleType) ([]models.Driver, error) {
	st := m.state
	st.mu.RLock()
	out := make([]models.Driver, 0)
	for _, d := range st.drivers {
		if !d.IsAvailable || !d.IsVerified {
			continue
		}
		if vehicleType != "" && d.VehicleType != vehicleType {
			continue
		}
		out = append(out, d)
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
