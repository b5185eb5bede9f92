package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps everything behind one mutex. Claim atomicity
// follows from the lock; it is the reference implementation the
// concurrency tests run against.
type MemoryStore struct {
	mu           sync.Mutex
	rides        map[string]*models.Ride
	drivers      map[string]*models.DriverProfile
	transactions map[string]*models.Transaction // keyed by provider ref
	reviews      map[string]*models.RideReview  // keyed by ride id
	messages     []*models.ChatMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:        make(map[string]*models.Ride),
		drivers:      make(map[string]*models.DriverProfile),
		transactions: make(map[string]*models.Transaction),
		reviews:      make(map[string]*models.RideReview),
	}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ClaimRide(_ context.Context, rideID, driverID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.Status != models.StatusSearching {
		return nil, models.ErrRideAlreadyClaimed
	}
	r.DriverID = driverID
	r.Status = models.StatusAccepted
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) TransitionStatus(_ context.Context, rideID, driverID string, from, to models.RideStatus) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.DriverID != driverID {
		return nil, models.ErrNotAuthorized
	}
	if r.Status != from {
		return nil, models.ErrInvalidTransition
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	if to == models.StatusCompleted && r.FinalPrice == nil {
		price := r.EstimatedPrice
		r.FinalPrice = &price
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CancelRide(_ context.Context, rideID, cancelledBy, reason string, feeIfEnRoute float64) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.Status.Terminal() {
		return nil, models.ErrInvalidTransition
	}
	if r.Status == models.StatusArrived || r.Status == models.StatusStarted {
		r.CancellationFee = feeIfEnRoute
	}
	r.Status = models.StatusCanceled
	r.CancelledBy = cancelledBy
	r.CancellationReason = reason
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) RidesByRider(_ context.Context, riderID string) ([]*models.Ride, error) {
	return m.ridesWhere(func(r *models.Ride) bool { return r.RiderID == riderID })
}

func (m *MemoryStore) RidesByDriver(_ context.Context, driverID string) ([]*models.Ride, error) {
	return m.ridesWhere(func(r *models.Ride) bool { return r.DriverID == driverID })
}

func (m *MemoryStore) SearchingRides(_ context.Context) ([]*models.Ride, error) {
	return m.ridesWhere(func(r *models.Ride) bool { return r.Status == models.StatusSearching })
}

func (m *MemoryStore) ridesWhere(keep func(*models.Ride) bool) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ActiveRideForDriver(_ context.Context, driverID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rides {
		if r.DriverID == driverID && r.Status.Active() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryStore) SaveTransaction(_ context.Context, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// provider_ref is unique in postgres; refuse to clobber here too
	if _, ok := m.transactions[t.ProviderRef]; ok {
		return fmt.Errorf("transaction ref %q already recorded", t.ProviderRef)
	}
	cp := *t
	m.transactions[t.ProviderRef] = &cp
	return nil
}

func (m *MemoryStore) TransactionByRef(_ context.Context, providerRef string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[providerRef]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) SetTransactionStatus(_ context.Context, providerRef string, status models.PaymentStatus) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[providerRef]
	if !ok {
		return nil, models.ErrNotFound
	}
	t.Status = status
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) SaveReview(_ context.Context, rv *models.RideReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[rv.RideID]; ok {
		return models.ErrAlreadyReviewed
	}
	cp := *rv
	m.reviews[rv.RideID] = &cp
	return nil
}

func (m *MemoryStore) SaveChatMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *MemoryStore) GetDriver(_ context.Context, id string) (*models.DriverProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpsertDriver(_ context.Context, d *models.DriverProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	cp.Updated = time.Now()
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) SetDriverLocation(_ context.Context, id string, loc models.Coord) (*models.DriverProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	d.LastLocation = &loc
	d.Online = true
	d.Updated = time.Now()
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) SetDriverOnline(_ context.Context, id string, online bool) (*models.DriverProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	d.Online = online
	d.Updated = time.Now()
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) SetIdentityVerified(_ context.Context, id string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.ErrNotFound
	}
	d.IdentityVerified = verified
	d.Updated = time.Now()
	return nil
}
