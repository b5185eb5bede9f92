package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
)

type createRideRequest struct {
	PickupAddress  string  `json:"pickup_address"`
	DropoffAddress string  `json:"dropoff_address"`
	PickupLat      float64 `json:"pickup_lat"`
	PickupLng      float64 `json:"pickup_lng"`
	DropoffLat     float64 `json:"dropoff_lat"`
	DropoffLng     float64 `json:"dropoff_lng"`
	VehicleClass   string  `json:"requested_vehicle_type"`
}

type createRideResponse struct {
	*models.Ride
	NearbyDriversCount int `json:"nearby_drivers_count"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if req.VehicleClass == "" {
		req.VehicleClass = string(models.ClassEconomy)
	}
	user := identityFromContext(r.Context())
	created, err := s.dispatch.CreateRide(r.Context(), user.ID, dispatch.CreateRideInput{
		Pickup:         models.Coord{Lat: req.PickupLat, Lng: req.PickupLng},
		Dropoff:        models.Coord{Lat: req.DropoffLat, Lng: req.DropoffLng},
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		VehicleClass:   models.VehicleClass(req.VehicleClass),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createRideResponse{Ride: created.Ride, NearbyDriversCount: created.NearbyDriversCount})
}

func (s *Server) handleFareEstimate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PickupLat      float64 `json:"pickup_lat"`
		PickupLng      float64 `json:"pickup_lng"`
		DropoffLat     float64 `json:"dropoff_lat"`
		DropoffLng     float64 `json:"dropoff_lng"`
		PickupAddress  string  `json:"pickup_address"`
		DropoffAddress string  `json:"dropoff_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	quotes, err := s.dispatch.FareQuote(r.Context(),
		models.Coord{Lat: req.PickupLat, Lng: req.PickupLng},
		models.Coord{Lat: req.DropoffLat, Lng: req.DropoffLng})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pickup_address":  req.PickupAddress,
		"dropoff_address": req.DropoffAddress,
		"estimates":       quotes,
	})
}

func (s *Server) handleRideHistory(w http.ResponseWriter, r *http.Request) {
	rides, err := s.dispatch.RideHistory(r.Context(), identityFromContext(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rides == nil {
		rides = []*models.Ride{}
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleRideDetail(w http.ResponseWriter, r *http.Request) {
	ride, err := s.dispatch.RideDetail(r.Context(), identityFromContext(r.Context()), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	ride, err := s.dispatch.CancelRide(r.Context(), identityFromContext(r.Context()), mux.Vars(r)["ride_id"], req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Ride cancelled", "fee": ride.CancellationFee})
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	user := identityFromContext(r.Context())
	if err := s.dispatch.SubmitReview(r.Context(), user.ID, mux.Vars(r)["ride_id"], req.Rating, req.Comment); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Review submitted"})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	user := identityFromContext(r.Context())
	if err := s.dispatch.UpdateLocation(r.Context(), user.ID, models.Coord{Lat: req.Lat, Lng: req.Lng}); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Location updated and broadcasted"})
}

func (s *Server) handleToggleOnline(w http.ResponseWriter, r *http.Request) {
	user := identityFromContext(r.Context())
	driver, err := s.dispatch.ToggleOnline(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	msg := "You are now Offline."
	if driver.Online {
		msg = "You are now Online and searching for rides."
	}
	writeJSON(w, http.StatusOK, map[string]any{"is_online": driver.Online, "message": msg})
}

func (s *Server) handleAvailableRides(w http.ResponseWriter, r *http.Request) {
	user := identityFromContext(r.Context())
	rides, err := s.dispatch.AvailableRides(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rides == nil {
		rides = []*models.Ride{}
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	user := identityFromContext(r.Context())
	ride, err := s.dispatch.AcceptRide(r.Context(), user.ID, mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Ride accepted successfully", "ride_id": ride.ID})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	user := identityFromContext(r.Context())
	res, err := s.dispatch.UpdateStatus(r.Context(), user.ID, mux.Vars(r)["ride_id"], models.RideStatus(req.Status))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{"message": "Status updated", "status": res.Ride.Status}
	if res.TriggeredPayment {
		resp["pay_status"] = res.PayStatus
		if res.PayURL != "" {
			resp["payment_url"] = res.PayURL
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyIdentity(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form required"})
		return
	}
	idCard, _, err := r.FormFile("id_card")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id_card file required"})
		return
	}
	defer idCard.Close()
	selfie, _, err := r.FormFile("selfie")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "selfie file required"})
		return
	}
	defer selfie.Close()

	user := identityFromContext(r.Context())
	verified, err := s.dispatch.VerifyIdentity(r.Context(), user.ID, idCard, selfie)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}

func (s *Server) handlePaymentReturn(succeeded bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg := "Payment was cancelled. You can retry from your ride history."
		if succeeded {
			msg = "Payment received. Thanks for riding with us!"
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": msg,
			"ride_id": r.URL.Query().Get("ride_id"),
		})
	}
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	outcome, err := s.webhook.Parse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.logger.Warn("webhook rejected", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if outcome.Handled {
		if err := s.dispatch.HandlePaymentOutcome(r.Context(), outcome.Ref, outcome.Succeeded, outcome.ErrMsg); err != nil {
			// unknown reference: acknowledge anyway, the gateway retries otherwise
			s.logger.Warn("payment outcome not applied", "ref", outcome.Ref, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}
