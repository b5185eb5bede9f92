package storage

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// RideStore is the authoritative persistence surface for rides and
// their satellites. Implementations must make ClaimRide atomic across
// concurrent drivers: the claim is the only hard mutual-exclusion
// point in the system.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)

	// ClaimRide atomically assigns the driver to a SEARCHING ride.
	// Exactly one of N concurrent claims succeeds; the rest receive
	// models.ErrRideAlreadyClaimed.
	ClaimRide(ctx context.Context, rideID, driverID string) (*models.Ride, error)

	// TransitionStatus performs a conditional move from -> to for the
	// assigned driver. A zero-row update surfaces as
	// models.ErrInvalidTransition (the state moved underneath us).
	TransitionStatus(ctx context.Context, rideID, driverID string, from, to models.RideStatus) (*models.Ride, error)

	// CancelRide cancels any non-terminal ride. feeIfEnRoute is
	// charged only when the ride was ARRIVED or STARTED at
	// cancellation time; the decision happens atomically with the
	// status write.
	CancelRide(ctx context.Context, rideID, cancelledBy, reason string, feeIfEnRoute float64) (*models.Ride, error)

	RidesByRider(ctx context.Context, riderID string) ([]*models.Ride, error)
	RidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error)
	ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error)
	SearchingRides(ctx context.Context) ([]*models.Ride, error)

	SaveTransaction(ctx context.Context, t *models.Transaction) error
	TransactionByRef(ctx context.Context, providerRef string) (*models.Transaction, error)
	SetTransactionStatus(ctx context.Context, providerRef string, status models.PaymentStatus) (*models.Transaction, error)

	// SaveReview enforces one review per ride
	// (models.ErrAlreadyReviewed).
	SaveReview(ctx context.Context, rv *models.RideReview) error

	SaveChatMessage(ctx context.Context, m *models.ChatMessage) error
}

// DriverStore holds driver availability records.
type DriverStore interface {
	GetDriver(ctx context.Context, id string) (*models.DriverProfile, error)
	UpsertDriver(ctx context.Context, d *models.DriverProfile) error
	SetDriverLocation(ctx context.Context, id string, loc models.Coord) (*models.DriverProfile, error)
	SetDriverOnline(ctx context.Context, id string, online bool) (*models.DriverProfile, error)
	SetIdentityVerified(ctx context.Context, id string, verified bool) error
}

// Store is the combined persistence surface the orchestrator wires.
type Store interface {
	RideStore
	DriverStore
}
