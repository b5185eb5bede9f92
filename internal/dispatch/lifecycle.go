package dispatch

import (
	"context"
	"io"
	"sort"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// AcceptRide runs the claim protocol. Only admin-verified drivers may
// claim; losing the race is a normal outcome surfaced as
// models.ErrRideAlreadyClaimed with no side effects.
func (s *Service) AcceptRide(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	driver, err := s.store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !driver.AdminVerified {
		return nil, models.ErrNotAuthorized
	}

	ride, err := s.store.ClaimRide(ctx, rideID, driverID)
	if err != nil {
		if err == models.ErrRideAlreadyClaimed {
			observability.ClaimsLost.Inc()
		}
		return nil, err
	}
	observability.ClaimsWon.Inc()

	s.broadcast.Publish(ctx, broadcast.RideGroup(ride.ID), models.DriverAcceptedEvent{
		Type:        models.EventDriverAccepted,
		Status:      ride.Status,
		DriverName:  driver.Name,
		DriverPhone: driver.Phone,
		Vehicle:     driver.VehicleDescription(),
	})
	s.logger.Info("ride claimed", "ride_id", ride.ID, "driver_id", driverID)
	return ride, nil
}

// UpdateLocation records the driver's position, refreshes the geo
// index, and (when the driver is on an active ride) pushes a
// LOCATION_UPDATE to the ride group. The Kafka path repeats the
// publish asynchronously as an at-least-once fallback.
func (s *Service) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	if !loc.Valid() {
		return models.Invalid("location", "coordinates out of range")
	}

	driver, err := s.store.SetDriverLocation(ctx, driverID, loc)
	if err != nil {
		return err
	}
	s.geo.Upsert(ctx, *driver)
	observability.LocationUpdates.Inc()

	ride, err := s.store.ActiveRideForDriver(ctx, driverID)
	if err != nil {
		if err == models.ErrNotFound {
			return nil
		}
		return err
	}

	s.broadcast.Publish(ctx, broadcast.RideGroup(ride.ID), models.LocationUpdateEvent{
		Type:     models.EventLocationUpdate,
		Lat:      loc.Lat,
		Lng:      loc.Lng,
		Status:   ride.Status,
		DriverID: driverID,
	})
	if s.locations != nil {
		if err := s.locations.PublishLocation(ingest.RideLocation{
			RideID: ride.ID, DriverID: driverID, Lat: loc.Lat, Lng: loc.Lng, Status: ride.Status,
		}); err != nil {
			s.logger.Warn("queued location publish failed", "ride_id", ride.ID, "error", err)
		}
	}
	return nil
}

// StatusResult carries the transition outcome. PayStatus and PayURL
// are set only on completion; a payment failure degrades PayStatus
// without blocking the transition.
type StatusResult struct {
	Ride             *models.Ride
	PayStatus        models.PaymentStatus
	PayURL           string
	TriggeredPayment bool
}

// UpdateStatus moves a ride along ACCEPTED -> ARRIVED -> STARTED ->
// COMPLETED for its assigned driver. Completion triggers the payment
// session before the status write is persisted; the session outcome
// is recorded in a transaction row either way.
func (s *Service) UpdateStatus(ctx context.Context, driverID, rideID string, newStatus models.RideStatus) (*StatusResult, error) {
	if !newStatus.Valid() {
		return nil, models.Invalid("status", "unknown status")
	}
	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != driverID {
		return nil, models.ErrNotAuthorized
	}
	if !models.CanTransition(ride.Status, newStatus) {
		return nil, models.ErrInvalidTransition
	}

	if newStatus != models.StatusCompleted {
		updated, err := s.store.TransitionStatus(ctx, rideID, driverID, ride.Status, newStatus)
		if err != nil {
			return nil, err
		}
		s.broadcast.Publish(ctx, broadcast.RideGroup(rideID), models.StatusUpdateEvent{
			Type:   models.EventStatusUpdate,
			Status: newStatus,
		})
		return &StatusResult{Ride: updated}, nil
	}

	return s.completeRide(ctx, ride, driverID)
}

func (s *Service) completeRide(ctx context.Context, ride *models.Ride, driverID string) (*StatusResult, error) {
	driver, err := s.store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	txID := s.newID()
	payStatus := models.PaymentPending
	payURL := ""
	providerRef := ""

	payCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	sess, err := s.payments.CreateCheckoutSession(payCtx, ride, driver.Name)
	cancel()
	if err != nil {
		// degraded, not fatal: the trip still completes. There is no
		// gateway session to key the record by, so fall back to our
		// own transaction id; refs must stay unique per record.
		payStatus = models.PaymentFailed
		providerRef = "local:" + txID
		observability.PaymentSessions.WithLabelValues("failed").Inc()
		s.logger.Error("payment session creation failed", "ride_id", ride.ID, "error", err)
	} else {
		payURL = sess.URL
		providerRef = sess.ID
		observability.PaymentSessions.WithLabelValues("created").Inc()
	}

	updated, err := s.store.TransitionStatus(ctx, ride.ID, driverID, ride.Status, models.StatusCompleted)
	if err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		ID:          txID,
		RideID:      ride.ID,
		ProviderRef: providerRef,
		Amount:      ride.EstimatedPrice,
		Status:      payStatus,
		CreatedAt:   s.now(),
	}
	if err := s.store.SaveTransaction(ctx, tx); err != nil {
		s.logger.Error("transaction save failed", "ride_id", ride.ID, "error", err)
	}

	finalFare := updated.EstimatedPrice
	if updated.FinalPrice != nil {
		finalFare = *updated.FinalPrice
	}
	s.broadcast.Publish(ctx, broadcast.RideGroup(ride.ID), models.TripCompletedEvent{
		Type:          models.EventTripCompleted,
		FinalFare:     models.Money(finalFare),
		PaymentStatus: payStatus,
		PaymentURL:    payURL,
	})
	s.logger.Info("trip completed", "ride_id", ride.ID, "pay_status", payStatus)
	return &StatusResult{Ride: updated, PayStatus: payStatus, PayURL: payURL, TriggeredPayment: true}, nil
}

// CancelRide cancels a non-terminal ride on behalf of either party.
// The cancellation fee applies only when a driver was already at the
// door or the trip had started.
func (s *Service) CancelRide(ctx context.Context, user auth.Identity, rideID, reason string) (*models.Ride, error) {
	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.RiderID != user.ID && ride.DriverID != user.ID {
		return nil, models.ErrNotAuthorized
	}
	if reason == "" {
		reason = "Client cancelled"
	}

	cancelled, err := s.store.CancelRide(ctx, rideID, user.ID, reason, s.cancellationFee)
	if err != nil {
		return nil, err
	}

	s.broadcast.Publish(ctx, broadcast.RideGroup(rideID), models.RideCancelledEvent{
		Type:        models.EventRideCancelled,
		CancelledBy: user.Name,
		Reason:      cancelled.CancellationReason,
	})
	s.logger.Info("ride cancelled", "ride_id", rideID, "by", user.ID, "fee", cancelled.CancellationFee)
	return cancelled, nil
}

// SubmitReview records the rider's one-time rating of a completed
// ride.
func (s *Service) SubmitReview(ctx context.Context, riderID, rideID string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return models.Invalid("rating", "must be between 1 and 5")
	}
	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.RiderID != riderID {
		return models.ErrNotAuthorized
	}
	if ride.Status != models.StatusCompleted {
		return models.ErrRideNotCompleted
	}
	return s.store.SaveReview(ctx, &models.RideReview{
		RideID:    rideID,
		RiderID:   riderID,
		DriverID:  ride.DriverID,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: s.now(),
	})
}

// AvailableRides lists SEARCHING rides near the driver's last known
// position, closest pickup first.
func (s *Service) AvailableRides(ctx context.Context, driverID string) ([]*models.Ride, error) {
	driver, err := s.store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver.LastLocation == nil {
		return nil, models.Invalid("location", "update your location first")
	}
	rides, err := s.store.SearchingRides(ctx)
	if err != nil {
		return nil, err
	}
	type withDist struct {
		ride *models.Ride
		km   float64
	}
	near := make([]withDist, 0, len(rides))
	for _, r := range rides {
		km := geo.KilometersBetween(*driver.LastLocation, r.Pickup)
		if km <= s.searchRadiusKm {
			near = append(near, withDist{r, km})
		}
	}
	sort.Slice(near, func(i, j int) bool { return near[i].km < near[j].km })
	out := make([]*models.Ride, len(near))
	for i, n := range near {
		out[i] = n.ride
	}
	return out, nil
}

// ToggleOnline flips the driver's availability. Only admin-verified
// drivers may go online.
func (s *Service) ToggleOnline(ctx context.Context, driverID string) (*models.DriverProfile, error) {
	driver, err := s.store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !driver.AdminVerified {
		return nil, models.ErrNotAuthorized
	}
	updated, err := s.store.SetDriverOnline(ctx, driverID, !driver.Online)
	if err != nil {
		return nil, err
	}
	s.geo.Upsert(ctx, *updated)
	return updated, nil
}

// VerifyIdentity runs the KYC check and records the verdict on the
// driver's profile. A backend failure reads as "no match".
func (s *Service) VerifyIdentity(ctx context.Context, driverID string, idCard, selfie io.Reader) (bool, error) {
	if _, err := s.store.GetDriver(ctx, driverID); err != nil {
		return false, err
	}
	verified := s.kyc.Verify(ctx, idCard, selfie)
	if err := s.store.SetIdentityVerified(ctx, driverID, verified); err != nil {
		return false, err
	}
	return verified, nil
}

// SendChatMessage persists and broadcasts an in-ride chat line. The
// sender must be a party to the ride.
func (s *Service) SendChatMessage(ctx context.Context, user auth.Identity, rideID, content string) error {
	if content == "" {
		return models.Invalid("content", "required")
	}
	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.RiderID != user.ID && ride.DriverID != user.ID {
		return models.ErrNotAuthorized
	}
	msg := &models.ChatMessage{
		RideID:     rideID,
		SenderID:   user.ID,
		SenderName: user.Name,
		Content:    content,
		SentAt:     s.now(),
	}
	if err := s.store.SaveChatMessage(ctx, msg); err != nil {
		return err
	}
	s.broadcast.Publish(ctx, broadcast.ChatGroup(rideID), models.ChatEvent{
		Type:       models.EventChatMessage,
		Content:    content,
		SenderID:   user.ID,
		SenderName: user.Name,
	})
	return nil
}

// HandlePaymentOutcome applies a verified webhook result to the
// transaction and tells the ride group how the payment went.
func (s *Service) HandlePaymentOutcome(ctx context.Context, ref string, succeeded bool, errMsg string) error {
	status := models.PaymentSuccess
	if !succeeded {
		status = models.PaymentFailed
	}
	tx, err := s.store.SetTransactionStatus(ctx, ref, status)
	if err != nil {
		return err
	}
	if succeeded {
		s.broadcast.Publish(ctx, broadcast.RideGroup(tx.RideID), models.PaymentResultEvent{
			Type:   models.EventPaymentSuccess,
			Amount: models.Money(tx.Amount),
		})
	} else {
		s.broadcast.Publish(ctx, broadcast.RideGroup(tx.RideID), models.PaymentResultEvent{
			Type:  models.EventPaymentFailed,
			Error: errMsg,
		})
	}
	return nil
}

// IsParty reports whether the user belongs to the ride. Used by the
// tracking and chat sockets before any group join.
func (s *Service) IsParty(ctx context.Context, user auth.Identity, rideID string) (bool, error) {
	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return false, err
	}
	return ride.RiderID == user.ID || ride.DriverID == user.ID, nil
}

// DriverVerified reports whether the driver exists and has passed
// admin verification. Gates the class discovery feed; unverified
// drivers stay on the general group only.
func (s *Service) DriverVerified(ctx context.Context, driverID string) bool {
	driver, err := s.store.GetDriver(ctx, driverID)
	return err == nil && driver.AdminVerified
}
