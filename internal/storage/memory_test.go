package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func seedRide(t *testing.T, m *MemoryStore, id string, status models.RideStatus, driverID string) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID:             id,
		RiderID:        "rider-1",
		DriverID:       driverID,
		Pickup:         models.Coord{Lat: 12.52, Lng: -70.03},
		Dropoff:        models.Coord{Lat: 12.55, Lng: -70.05},
		VehicleClass:   models.ClassEconomy,
		Status:         status,
		EstimatedPrice: 19.19,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := m.CreateRide(context.Background(), r); err != nil {
		t.Fatalf("seed ride: %v", err)
	}
	return r
}

func TestClaimRide_ExactlyOneWinner(t *testing.T) {
	m := NewMemoryStore()
	seedRide(t, m, "r1", models.StatusSearching, "")
	ctx := context.Background()

	const drivers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string

	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("driver-%d", i)
			r, err := m.ClaimRide(ctx, "r1", id)
			if err == nil {
				mu.Lock()
				winners = append(winners, r.DriverID)
				mu.Unlock()
				return
			}
			if !errors.Is(err, models.ErrRideAlreadyClaimed) {
				t.Errorf("driver %s: unexpected error %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	r, err := m.GetRide(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != models.StatusAccepted || r.DriverID != winners[0] {
		t.Fatalf("ride not assigned to the winner: %+v", r)
	}
}

func TestClaimRide_NotFound(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.ClaimRide(context.Background(), "missing", "d1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClaimRide_CancelledRide(t *testing.T) {
	m := NewMemoryStore()
	seedRide(t, m, "r1", models.StatusCanceled, "")
	if _, err := m.ClaimRide(context.Background(), "r1", "d1"); !errors.Is(err, models.ErrRideAlreadyClaimed) {
		t.Fatalf("expected already claimed, got %v", err)
	}
}

func TestTransitionStatus_OwnershipAndOrder(t *testing.T) {
	m := NewMemoryStore()
	seedRide(t, m, "r1", models.StatusAccepted, "d1")
	ctx := context.Background()

	if _, err := m.TransitionStatus(ctx, "r1", "d2", models.StatusAccepted, models.StatusArrived); !errors.Is(err, models.ErrNotAuthorized) {
		t.Fatalf("expected not authorized for wrong driver, got %v", err)
	}
	if _, err := m.TransitionStatus(ctx, "r1", "d1", models.StatusStarted, models.StatusCompleted); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from stale state, got %v", err)
	}

	r, err := m.TransitionStatus(ctx, "r1", "d1", models.StatusAccepted, models.StatusArrived)
	if err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if r.Status != models.StatusArrived {
		t.Fatalf("expected ARRIVED, got %s", r.Status)
	}
}

func TestTransitionStatus_CompleteSetsFinalPrice(t *testing.T) {
	m := NewMemoryStore()
	seedRide(t, m, "r1", models.StatusStarted, "d1")
	r, err := m.TransitionStatus(context.Background(), "r1", "d1", models.StatusStarted, models.StatusCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.FinalPrice == nil || *r.FinalPrice != 19.19 {
		t.Fatalf("expected final price 19.19, got %v", r.FinalPrice)
	}
}

func TestCancelRide_FeeOnlyWhenEnRoute(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		status  models.RideStatus
		wantFee float64
	}{
		{models.StatusSearching, 0},
		{models.StatusAccepted, 0},
		{models.StatusArrived, 5.00},
		{models.StatusStarted, 5.00},
	}
	for _, tc := range cases {
		m := NewMemoryStore()
		seedRide(t, m, "r1", tc.status, "d1")
		r, err := m.CancelRide(ctx, "r1", "rider-1", "changed my mind", 5.00)
		if err != nil {
			t.Fatalf("cancel from %s: %v", tc.status, err)
		}
		if r.Status != models.StatusCanceled {
			t.Fatalf("expected CANCELED, got %s", r.Status)
		}
		if r.CancellationFee != tc.wantFee {
			t.Errorf("cancel from %s: fee = %v, want %v", tc.status, r.CancellationFee, tc.wantFee)
		}
	}
}

func TestCancelRide_TerminalStatesRejected(t *testing.T) {
	ctx := context.Background()
	for _, status := range []models.RideStatus{models.StatusCompleted, models.StatusCanceled} {
		m := NewMemoryStore()
		seedRide(t, m, "r1", status, "d1")
		if _, err := m.CancelRide(ctx, "r1", "rider-1", "", 5.00); !errors.Is(err, models.ErrInvalidTransition) {
			t.Errorf("cancel from %s: expected invalid transition, got %v", status, err)
		}
	}
}

func TestActiveRideForDriver(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedRide(t, m, "done", models.StatusCompleted, "d1")
	seedRide(t, m, "live", models.StatusStarted, "d1")

	r, err := m.ActiveRideForDriver(ctx, "d1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if r.ID != "live" {
		t.Fatalf("expected the active ride, got %s", r.ID)
	}
	if _, err := m.ActiveRideForDriver(ctx, "d2"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for idle driver, got %v", err)
	}
}

func TestTransactions_StatusUpdateByRef(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	tx := &models.Transaction{ID: "t1", RideID: "r1", ProviderRef: "cs_123", Amount: 19.19, Status: models.PaymentPending}
	if err := m.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.SetTransactionStatus(ctx, "cs_123", models.PaymentSuccess)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if got.Status != models.PaymentSuccess || got.RideID != "r1" {
		t.Fatalf("unexpected transaction %+v", got)
	}
	if _, err := m.SetTransactionStatus(ctx, "cs_unknown", models.PaymentSuccess); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for unknown ref, got %v", err)
	}
}

func TestSaveTransaction_RejectsDuplicateRef(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.SaveTransaction(ctx, &models.Transaction{ID: "t1", RideID: "ride-a", ProviderRef: "local:t1", Status: models.PaymentFailed}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := m.SaveTransaction(ctx, &models.Transaction{ID: "t2", RideID: "ride-b", ProviderRef: "local:t1", Status: models.PaymentFailed}); err == nil {
		t.Fatal("expected duplicate ref to be rejected")
	}
	got, err := m.TransactionByRef(ctx, "local:t1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.RideID != "ride-a" {
		t.Fatalf("ride-a's transaction was replaced: ref now holds %s", got.RideID)
	}
}

func TestSaveReview_OncePerRide(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	rv := &models.RideReview{RideID: "r1", RiderID: "rider-1", DriverID: "d1", Rating: 5}
	if err := m.SaveReview(ctx, rv); err != nil {
		t.Fatalf("first review: %v", err)
	}
	if err := m.SaveReview(ctx, rv); !errors.Is(err, models.ErrAlreadyReviewed) {
		t.Fatalf("expected already reviewed, got %v", err)
	}
}

func TestSetDriverLocation_MarksOnline(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.UpsertDriver(ctx, &models.DriverProfile{ID: "d1", Online: false, Active: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	d, err := m.SetDriverLocation(ctx, "d1", models.Coord{Lat: 12.52, Lng: -70.03})
	if err != nil {
		t.Fatalf("set location: %v", err)
	}
	if !d.Online || d.LastLocation == nil || d.LastLocation.Lat != 12.52 {
		t.Fatalf("expected online driver at new location, got %+v", d)
	}
}

func TestGetRide_ReturnsCopy(t *testing.T) {
	m := NewMemoryStore()
	seedRide(t, m, "r1", models.StatusSearching, "")
	ctx := context.Background()
	r, _ := m.GetRide(ctx, "r1")
	r.Status = models.StatusCompleted

	again, _ := m.GetRide(ctx, "r1")
	if again.Status != models.StatusSearching {
		t.Fatalf("store state mutated through a returned ride")
	}
}
