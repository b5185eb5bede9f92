package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/storage"
)

type stubGateway struct{}

func (stubGateway) CreateCheckoutSession(_ context.Context, r *models.Ride, _ string) (payments.Session, error) {
	return payments.Session{ID: "cs_" + r.ID, URL: "https://pay.example/s/" + r.ID}, nil
}

type testEnv struct {
	ts     *httptest.Server
	tokens *auth.Tokens
	store  *storage.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	// the service and the server share one broadcaster so socket
	// subscribers hear service publishes
	bc := broadcast.NewLocalBroadcaster(nil)
	svc := dispatch.NewService(dispatch.Config{
		Store:     store,
		Geo:       geo.NewIndex(),
		Fares:     fare.DefaultRates(),
		Broadcast: bc,
		Payments:  stubGateway{},
	})
	tokens := auth.NewTokens("test-secret")
	srv := NewServer(svc, bc, tokens, payments.NewWebhook("whsec_test"), nil)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, tokens: tokens, store: store}
}

func (e *testEnv) token(t *testing.T, id, name, role string) string {
	t.Helper()
	raw, err := e.tokens.Issue(auth.Identity{ID: id, Name: name, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return raw
}

func (e *testEnv) seedDriver(t *testing.T, id string) {
	t.Helper()
	err := e.store.UpsertDriver(context.Background(), &models.DriverProfile{
		ID: id, Name: "Driver " + id, VehicleClass: models.ClassEconomy,
		Online: true, Active: true, AdminVerified: true,
		LastLocation: &models.Coord{Lat: 12.52, Lng: -70.03},
	})
	if err != nil {
		t.Fatalf("seed driver: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

var createBody = map[string]any{
	"pickup_address":         "12 Main St",
	"dropoff_address":        "99 Beach Rd",
	"pickup_lat":             12.52,
	"pickup_lng":             -70.03,
	"dropoff_lat":            12.55,
	"dropoff_lng":            -70.05,
	"requested_vehicle_type": "ECONOMY",
}

func TestAuthEnforcement(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(t, "POST", "/api/v1/rider/rides", "", createBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", resp.StatusCode)
	}

	driverTok := e.token(t, "d1", "Dan", auth.RoleDriver)
	resp, _ = e.do(t, "POST", "/api/v1/rider/rides", driverTok, createBody)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong role: expected 403, got %d", resp.StatusCode)
	}

	resp, _ = e.do(t, "POST", "/api/v1/driver/online", e.token(t, "u1", "Ann", auth.RoleRider), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("rider on driver route: expected 403, got %d", resp.StatusCode)
	}
}

func TestCreateAcceptConflictFlow(t *testing.T) {
	e := newTestEnv(t)
	e.seedDriver(t, "d1")
	e.seedDriver(t, "d2")
	riderTok := e.token(t, "rider-1", "Ann", auth.RoleRider)

	resp, body := e.do(t, "POST", "/api/v1/rider/rides", riderTok, createBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%v)", resp.StatusCode, body)
	}
	rideID, _ := body["id"].(string)
	if rideID == "" {
		t.Fatalf("missing ride id in %v", body)
	}
	if body["status"] != string(models.StatusSearching) {
		t.Fatalf("expected SEARCHING, got %v", body["status"])
	}

	resp, _ = e.do(t, "POST", "/api/v1/driver/rides/"+rideID+"/accept", e.token(t, "d1", "Dan", auth.RoleDriver), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = e.do(t, "POST", "/api/v1/driver/rides/"+rideID+"/accept", e.token(t, "d2", "Dee", auth.RoleDriver), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second accept: expected 409, got %d", resp.StatusCode)
	}

	resp, _ = e.do(t, "GET", "/api/v1/rides/"+rideID, riderTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = e.do(t, "GET", "/api/v1/rides/"+rideID, e.token(t, "stranger", "X", auth.RoleRider), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger detail: expected 403, got %d", resp.StatusCode)
	}
	resp, _ = e.do(t, "GET", "/api/v1/rides/does-not-exist", riderTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing ride: expected 404, got %d", resp.StatusCode)
	}
}

func TestStatusCompletionReturnsPayment(t *testing.T) {
	e := newTestEnv(t)
	e.seedDriver(t, "d1")
	riderTok := e.token(t, "rider-1", "Ann", auth.RoleRider)
	driverTok := e.token(t, "d1", "Dan", auth.RoleDriver)

	_, body := e.do(t, "POST", "/api/v1/rider/rides", riderTok, createBody)
	rideID := body["id"].(string)
	e.do(t, "POST", "/api/v1/driver/rides/"+rideID+"/accept", driverTok, nil)

	for _, status := range []string{"ARRIVED", "STARTED"} {
		resp, _ := e.do(t, "POST", "/api/v1/driver/rides/"+rideID+"/status", driverTok, map[string]string{"status": status})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("transition %s: expected 200, got %d", status, resp.StatusCode)
		}
	}
	resp, body := e.do(t, "POST", "/api/v1/driver/rides/"+rideID+"/status", driverTok, map[string]string{"status": "COMPLETED"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", resp.StatusCode)
	}
	if body["pay_status"] != string(models.PaymentPending) {
		t.Fatalf("expected pending pay status, got %v", body)
	}
	if url, _ := body["payment_url"].(string); !strings.Contains(url, rideID) {
		t.Fatalf("expected payment url, got %v", body)
	}

	// skipping a state is rejected
	resp, _ = e.do(t, "POST", "/api/v1/driver/rides/"+rideID+"/status", driverTok, map[string]string{"status": "ARRIVED"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("transition on terminal ride: expected 409, got %d", resp.StatusCode)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	e := newTestEnv(t)
	req, _ := http.NewRequest("POST", e.ts.URL+"/webhooks/stripe", strings.NewReader(`{"type":"checkout.session.completed"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", resp.StatusCode)
	}
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return out
}

func TestDiscoverySocketReceivesNewRides(t *testing.T) {
	e := newTestEnv(t)
	e.seedDriver(t, "d1")
	driverTok := e.token(t, "d1", "Dan", auth.RoleDriver)

	url := fmt.Sprintf("%s?token=%s&vehicle_type=ECONOMY", wsURL(e.ts, "/ws/drivers/discovery"), driverTok)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := readEvent(t, conn)
	if hello["status"] != "Connected" || hello["subscribed_to"] != "discovery:ECONOMY" {
		t.Fatalf("unexpected hello %v", hello)
	}

	riderTok := e.token(t, "rider-1", "Ann", auth.RoleRider)
	resp, _ := e.do(t, "POST", "/api/v1/rider/rides", riderTok, createBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}

	ev := readEvent(t, conn)
	if ev["event"] != models.EventNewRideAvailable {
		t.Fatalf("expected NEW_RIDE_AVAILABLE, got %v", ev)
	}
}

func TestDiscoverySocketUnverifiedDriverStaysGeneral(t *testing.T) {
	e := newTestEnv(t)
	err := e.store.UpsertDriver(context.Background(), &models.DriverProfile{
		ID: "d9", Name: "Driver d9", VehicleClass: models.ClassEconomy,
		Online: true, Active: true, AdminVerified: false,
	})
	if err != nil {
		t.Fatalf("seed driver: %v", err)
	}
	tok := e.token(t, "d9", "Dev", auth.RoleDriver)

	url := fmt.Sprintf("%s?token=%s&vehicle_type=ECONOMY", wsURL(e.ts, "/ws/drivers/discovery"), tok)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := readEvent(t, conn)
	if hello["status"] != "Connected" || hello["subscribed_to"] != "discovery:general" {
		t.Fatalf("unverified driver must stay on the general group, got %v", hello)
	}
}

func TestTrackingSocketAccessControl(t *testing.T) {
	e := newTestEnv(t)
	e.seedDriver(t, "d1")
	riderTok := e.token(t, "rider-1", "Ann", auth.RoleRider)

	_, body := e.do(t, "POST", "/api/v1/rider/rides", riderTok, createBody)
	rideID := body["id"].(string)

	// a stranger is refused before the upgrade
	strangerTok := e.token(t, "nobody", "X", auth.RoleRider)
	_, resp, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("%s?token=%s", wsURL(e.ts, "/ws/rides/"+rideID), strangerTok), nil)
	if err == nil {
		t.Fatalf("expected handshake failure for stranger")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake, got %+v", resp)
	}

	// the rider connects and hears the driver accept
	conn, _, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("%s?token=%s", wsURL(e.ts, "/ws/rides/"+rideID), riderTok), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp2, _ := e.do(t, "POST", "/api/v1/driver/rides/"+rideID+"/accept", e.token(t, "d1", "Dan", auth.RoleDriver), nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", resp2.StatusCode)
	}

	ev := readEvent(t, conn)
	if ev["type"] != models.EventDriverAccepted || ev["driver_name"] != "Driver d1" {
		t.Fatalf("expected DRIVER_ACCEPTED, got %v", ev)
	}
}

func TestChatSocketRelaysMessages(t *testing.T) {
	e := newTestEnv(t)
	e.seedDriver(t, "d1")
	riderTok := e.token(t, "rider-1", "Ann", auth.RoleRider)
	driverTok := e.token(t, "d1", "Dan", auth.RoleDriver)

	_, body := e.do(t, "POST", "/api/v1/rider/rides", riderTok, createBody)
	rideID := body["id"].(string)
	e.do(t, "POST", "/api/v1/driver/rides/"+rideID+"/accept", driverTok, nil)

	riderConn, _, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("%s?token=%s", wsURL(e.ts, "/ws/rides/"+rideID+"/chat"), riderTok), nil)
	if err != nil {
		t.Fatalf("rider dial: %v", err)
	}
	defer riderConn.Close()
	driverConn, _, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("%s?token=%s", wsURL(e.ts, "/ws/rides/"+rideID+"/chat"), driverTok), nil)
	if err != nil {
		t.Fatalf("driver dial: %v", err)
	}
	defer driverConn.Close()

	if err := driverConn.WriteJSON(map[string]string{"content": "arriving in 2"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := readEvent(t, riderConn)
	if ev["type"] != models.EventChatMessage || ev["content"] != "arriving in 2" || ev["sender_name"] != "Dan" {
		t.Fatalf("unexpected chat event %v", ev)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
