package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
)

// Server is the HTTP + WebSocket front of the dispatch core.
type Server struct {
	dispatch  *dispatch.Service
	broadcast broadcast.Broadcaster
	tokens    *auth.Tokens
	webhook   *payments.Webhook
	logger    *slog.Logger
	router    *mux.Router
	upgrader  websocket.Upgrader
}

func NewServer(svc *dispatch.Service, bc broadcast.Broadcaster, tokens *auth.Tokens, wh *payments.Webhook, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		dispatch:  svc,
		broadcast: bc,
		tokens:    tokens,
		webhook:   wh,
		logger:    logger,
		router:    mux.NewRouter(),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/rider/rides", s.withAuth(auth.RoleRider, s.handleCreateRide)).Methods("POST")
	api.HandleFunc("/rider/fare-estimate", s.withAuth("", s.handleFareEstimate)).Methods("POST")
	api.HandleFunc("/rider/rides/{ride_id}/review", s.withAuth(auth.RoleRider, s.handleSubmitReview)).Methods("POST")

	api.HandleFunc("/rides", s.withAuth("", s.handleRideHistory)).Methods("GET")
	api.HandleFunc("/rides/{ride_id}", s.withAuth("", s.handleRideDetail)).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/cancel", s.withAuth("", s.handleCancelRide)).Methods("POST")

	api.HandleFunc("/driver/location", s.withAuth(auth.RoleDriver, s.handleDriverLocation)).Methods("POST")
	api.HandleFunc("/driver/online", s.withAuth(auth.RoleDriver, s.handleToggleOnline)).Methods("POST")
	api.HandleFunc("/driver/rides/available", s.withAuth(auth.RoleDriver, s.handleAvailableRides)).Methods("GET")
	api.HandleFunc("/driver/rides/{ride_id}/accept", s.withAuth(auth.RoleDriver, s.handleAcceptRide)).Methods("POST")
	api.HandleFunc("/driver/rides/{ride_id}/status", s.withAuth(auth.RoleDriver, s.handleUpdateStatus)).Methods("POST")
	api.HandleFunc("/driver/verify-identity", s.withAuth(auth.RoleDriver, s.handleVerifyIdentity)).Methods("POST")

	// gateway redirect targets; the authoritative outcome arrives on
	// the webhook, these only tell the rider's browser what happened
	api.HandleFunc("/rider/payment/success/", s.handlePaymentReturn(true)).Methods("GET")
	api.HandleFunc("/rider/payment/cancel/", s.handlePaymentReturn(false)).Methods("GET")

	s.router.HandleFunc("/webhooks/stripe", s.handleStripeWebhook).Methods("POST")

	s.router.HandleFunc("/ws/drivers/discovery", s.handleDiscoverySocket)
	s.router.HandleFunc("/ws/rides/{ride_id}", s.handleTrackingSocket)
	s.router.HandleFunc("/ws/rides/{ride_id}/chat", s.handleChatSocket)

	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the failure taxonomy onto HTTP statuses. Benign
// claim losses come back 409 without an error-level log line.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case models.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrNotAuthorized):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not authorized"})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, models.ErrRideAlreadyClaimed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "ride already taken or cancelled"})
	case errors.Is(err, models.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "invalid status transition"})
	case errors.Is(err, models.ErrAlreadyReviewed):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "already reviewed"})
	case errors.Is(err, models.ErrRideNotCompleted):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ride not completed"})
	case errors.Is(err, models.ErrExternalService):
		s.logger.Error("external service failure", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream service unavailable"})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
