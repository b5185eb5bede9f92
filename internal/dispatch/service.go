// Package dispatch is the ride lifecycle orchestrator: it creates
// rides, prices them, processes claims and status transitions, and
// republishes everything the connected apps need to hear about.
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/storage"
)

// PaymentGateway opens a checkout session when a trip completes.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, r *models.Ride, driverName string) (payments.Session, error)
}

// IdentityVerifier is the KYC black box: match or no match.
type IdentityVerifier interface {
	Verify(ctx context.Context, idCard, selfie io.Reader) bool
}

// LocationQueue is the optional secondary delivery path for location
// updates. Best-effort redundancy, not a correctness requirement.
type LocationQueue interface {
	PublishLocation(loc ingest.RideLocation) error
}

// Config wires the orchestrator's collaborators. Broadcast is an
// explicit dependency, never ambient state.
type Config struct {
	Store     storage.Store
	Geo       geo.Geo
	Fares     fare.ConfigSource
	Broadcast broadcast.Broadcaster
	Payments  PaymentGateway
	KYC       IdentityVerifier
	Locations LocationQueue
	Logger    *slog.Logger

	SearchRadiusKm   float64
	EstimateRadiusKm float64
	CancellationFee  float64
	PaymentTimeout   time.Duration
}

type Service struct {
	store     storage.Store
	geo       geo.Geo
	fares     fare.ConfigSource
	broadcast broadcast.Broadcaster
	payments  PaymentGateway
	kyc       IdentityVerifier
	locations LocationQueue
	logger    *slog.Logger

	searchRadiusKm   float64
	estimateRadiusKm float64
	cancellationFee  float64
	paymentTimeout   time.Duration

	newID func() string
	now   func() time.Time
}

func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SearchRadiusKm <= 0 {
		cfg.SearchRadiusKm = 5
	}
	if cfg.EstimateRadiusKm <= 0 {
		cfg.EstimateRadiusKm = 10
	}
	if cfg.CancellationFee <= 0 {
		cfg.CancellationFee = 5.00
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 10 * time.Second
	}
	return &Service{
		store:            cfg.Store,
		geo:              cfg.Geo,
		fares:            cfg.Fares,
		broadcast:        cfg.Broadcast,
		payments:         cfg.Payments,
		kyc:              cfg.KYC,
		locations:        cfg.Locations,
		logger:           cfg.Logger,
		searchRadiusKm:   cfg.SearchRadiusKm,
		estimateRadiusKm: cfg.EstimateRadiusKm,
		cancellationFee:  cfg.CancellationFee,
		paymentTimeout:   cfg.PaymentTimeout,
		newID:            newID,
		now:              time.Now,
	}
}

// CreateRideInput is the rider's trip request.
type CreateRideInput struct {
	Pickup         models.Coord
	Dropoff        models.Coord
	PickupAddress  string
	DropoffAddress string
	VehicleClass   models.VehicleClass
}

// CreatedRide is the creation response: the ride plus how many
// dispatchable drivers were near the pickup when it was created.
type CreatedRide struct {
	Ride               *models.Ride
	NearbyDriversCount int
}

// CreateRide validates input, prices the trip, persists the ride in
// SEARCHING and announces it to the matching discovery groups. The
// announcement is fire-and-forget: no driver is guaranteed to see it.
func (s *Service) CreateRide(ctx context.Context, riderID string, in CreateRideInput) (*CreatedRide, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	price, err := fare.EstimateOrFallback(ctx, s.fares, in.Pickup, in.Dropoff, in.VehicleClass)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ride := &models.Ride{
		ID:             s.newID(),
		RiderID:        riderID,
		Pickup:         in.Pickup,
		Dropoff:        in.Dropoff,
		PickupAddress:  in.PickupAddress,
		DropoffAddress: in.DropoffAddress,
		VehicleClass:   in.VehicleClass,
		Status:         models.StatusSearching,
		EstimatedPrice: price,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateRide(ctx, ride); err != nil {
		return nil, err
	}
	observability.RidesCreated.Inc()

	nearby := s.geo.Nearby(ctx, in.Pickup, s.searchRadiusKm, in.VehicleClass, 0)

	event := models.NewRideEvent{Event: models.EventNewRideAvailable, Ride: models.Summarize(ride)}
	s.broadcast.Publish(ctx, broadcast.DiscoveryClass(in.VehicleClass), event)
	s.broadcast.Publish(ctx, broadcast.DiscoveryGeneral(), event)

	s.logger.Info("ride created", "ride_id", ride.ID, "class", in.VehicleClass, "nearby_drivers", len(nearby))
	return &CreatedRide{Ride: ride, NearbyDriversCount: len(nearby)}, nil
}

func validateCreate(in CreateRideInput) error {
	if !in.Pickup.Valid() {
		return models.Invalid("pickup", "coordinates out of range")
	}
	if !in.Dropoff.Valid() {
		return models.Invalid("dropoff", "coordinates out of range")
	}
	if in.PickupAddress == "" {
		return models.Invalid("pickup_address", "required")
	}
	if in.DropoffAddress == "" {
		return models.Invalid("dropoff_address", "required")
	}
	if !in.VehicleClass.Valid() {
		return models.Invalid("requested_vehicle_type", "unknown vehicle class")
	}
	return nil
}

// Quote is a per-class fare estimate with live availability.
type Quote struct {
	VehicleClass     models.VehicleClass `json:"vehicle_type"`
	EstimatedPrice   string              `json:"estimated_price"`
	Currency         string              `json:"currency"`
	AvailableDrivers int                 `json:"available_drivers"`
	ETAMinutes       *int                `json:"eta_minutes"`
}

// FareQuote prices the trip for every vehicle class. Missing rate
// configs fall back to the default fare rather than failing.
func (s *Service) FareQuote(ctx context.Context, pickup, dropoff models.Coord) ([]Quote, error) {
	if !pickup.Valid() || !dropoff.Valid() {
		return nil, models.Invalid("coordinates", "out of range")
	}
	quotes := make([]Quote, 0, len(models.VehicleClasses))
	for _, class := range models.VehicleClasses {
		price, err := fare.EstimateOrFallback(ctx, s.fares, pickup, dropoff, class)
		if err != nil {
			return nil, err
		}
		available := len(s.geo.Nearby(ctx, pickup, s.estimateRadiusKm, class, 0))
		q := Quote{
			VehicleClass:     class,
			EstimatedPrice:   models.Money(price),
			Currency:         "AWG",
			AvailableDrivers: available,
		}
		if available > 0 {
			eta := 5
			q.ETAMinutes = &eta
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// RideDetail returns a ride to one of its parties.
func (s *Service) RideDetail(ctx context.Context, user auth.Identity, rideID string) (*models.Ride, error) {
	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.RiderID != user.ID && ride.DriverID != user.ID {
		return nil, models.ErrNotAuthorized
	}
	return ride, nil
}

// RideHistory lists the caller's rides, newest first.
func (s *Service) RideHistory(ctx context.Context, user auth.Identity) ([]*models.Ride, error) {
	if user.Role == auth.RoleDriver {
		return s.store.RidesByDriver(ctx, user.ID)
	}
	return s.store.RidesByRider(ctx, user.ID)
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
