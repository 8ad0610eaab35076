package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"

	"github.com/example/order-dispatch/internal/assignment"
	"github.com/example/order-dispatch/internal/auth"
	"github.com/example/order-dispatch/internal/bus"
	"github.com/example/order-dispatch/internal/finance"
	"github.com/example/order-dispatch/internal/lifecycle"
	"github.com/example/order-dispatch/internal/lock"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/notify"
	"github.com/example/order-dispatch/internal/registry"
	"github.com/example/order-dispatch/internal/rooms"
	"github.com/example/order-dispatch/internal/storage"
	"github.com/example/order-dispatch/internal/workflow"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()

	locks := lock.NewMemoryLock()
	hub := rooms.New("node-a", nil, nil)
	reg := registry.New("node-a", locks, hub, nil, nil)
	reg.SetRetryPolicy(2, 5*time.Millisecond)

	store := storage.NewMemoryStore()
	eventBus := bus.New(nil)
	assigner := assignment.NewService(finance.DefaultStaticRules(), nil)
	wf := workflow.NewService(store, lifecycle.NewMachine(store), assigner, eventBus, nil)
	dispatcher := notify.NewDispatcher(locks, hub, store, nil)

	srv := NewServer(reg, hub, wf, dispatcher, eventBus, auth.NewJWTVerifier(testSecret), nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return ts, store
}

func signToken(t *testing.T, actorID string, actorType models.ActorType) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":        actorID,
		"actorType": string(actorType),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func dial(t *testing.T, ts *httptest.Server, actorType models.ActorType, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + string(actorType) + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env.Event, env.Data
}

func TestHandshakeRejections(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := []struct {
		name string
		path string
		want int
	}{
		{"missing token", "/ws/restaurant", http.StatusUnauthorized},
		{"garbage token", "/ws/restaurant?token=garbage", http.StatusUnauthorized},
		{"actor type mismatch", "/ws/driver?token=" + signToken(t, "r1", models.ActorRestaurant), http.StatusForbidden},
		{"unknown actor type", "/ws/admin?token=" + signToken(t, "r1", models.ActorRestaurant), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(ts.URL, "http") + tc.path
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				t.Fatalf("expected handshake failure")
			}
			if resp == nil || resp.StatusCode != tc.want {
				t.Fatalf("expected status %d, got %+v", tc.want, resp)
			}
		})
	}
}

func TestRestaurantAcceptDeliversStatus(t *testing.T) {
	ts, store := newTestServer(t)

	store.PutOrder(&models.Order{
		ID:                "o1",
		Status:            models.StatusPending,
		CustomerID:        "c1",
		RestaurantID:      "r1",
		RestaurantAddress: models.Address{Lat: 10.82, Lng: 106.69},
		CustomerAddress:   models.Address{Lat: 10.79, Lng: 106.71},
	})

	conn := dial(t, ts, models.ActorRestaurant, signToken(t, "r1", models.ActorRestaurant))

	accept := map[string]any{
		"event": models.EventRestaurantAccept,
		"data": models.RestaurantAcceptPayload{
			OrderID:          "o1",
			AvailableDrivers: []models.AvailableDriver{{ID: "d1", Lat: 10.80, Lng: 106.70}},
		},
	}
	if err := conn.WriteJSON(accept); err != nil {
		t.Fatalf("write accept: %v", err)
	}

	event, data := readEnvelope(t, conn)
	if event != models.EventNotifyOrderStatus {
		t.Fatalf("expected %s, got %s", models.EventNotifyOrderStatus, event)
	}
	var p models.TrackingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.Status != models.StatusPreparing {
		t.Fatalf("expected status %s, got %s", models.StatusPreparing, p.Status)
	}
	if p.DriverID != "d1" {
		t.Fatalf("expected driver d1, got %q", p.DriverID)
	}
}

func TestCommandRejectedForMissingOrder(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts, models.ActorRestaurant, signToken(t, "r1", models.ActorRestaurant))

	accept := map[string]any{
		"event": models.EventRestaurantAccept,
		"data":  models.RestaurantAcceptPayload{OrderID: "nope"},
	}
	if err := conn.WriteJSON(accept); err != nil {
		t.Fatalf("write accept: %v", err)
	}

	event, data := readEnvelope(t, conn)
	if event != "commandRejected" {
		t.Fatalf("expected commandRejected, got %s", event)
	}
	var body map[string]string
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body["reason"] != "order not found" {
		t.Fatalf("expected order not found, got %q", body["reason"])
	}
}

func TestRejectedConnectionIsReleased(t *testing.T) {
	locks := lock.NewMemoryLock()
	hub := rooms.New("node-a", nil, nil)
	reg := registry.New("node-a", locks, hub, nil, nil)
	reg.SetRetryPolicy(2, 5*time.Millisecond)

	store := storage.NewMemoryStore()
	eventBus := bus.New(nil)
	assigner := assignment.NewService(finance.DefaultStaticRules(), nil)
	wf := workflow.NewService(store, lifecycle.NewMachine(store), assigner, eventBus, nil)
	dispatcher := notify.NewDispatcher(locks, hub, store, nil)

	srv := NewServer(reg, hub, wf, dispatcher, eventBus, auth.NewJWTVerifier(testSecret), nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	ctx := context.Background()

	// a tracked holder elsewhere still owns the actor's connect lock
	if err := reg.Track(ctx, "conn-live"); err != nil {
		t.Fatal(err)
	}
	if ok, err := locks.TryAcquire(ctx, "lock:connect:driver:d1", "conn-live", 30*time.Second); err != nil || !ok {
		t.Fatalf("seed lock: ok=%v err=%v", ok, err)
	}

	conn := dial(t, ts, models.ActorDriver, signToken(t, "d1", models.ActorDriver))
	event, data := readEnvelope(t, conn)
	if event != "connectionRejected" {
		t.Fatalf("expected connectionRejected, got %s", event)
	}
	var body map[string]string
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body["reason"] == "" {
		t.Fatalf("expected a rejection reason")
	}

	// the server tears the socket down after rejecting
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected rejected connection to be closed")
	}

	// the rejected socket must not linger as a live holder: with the seed
	// lock gone, the same actor admits cleanly on a fresh connection
	if released, err := locks.Release(ctx, "lock:connect:driver:d1", "conn-live"); err != nil || !released {
		t.Fatalf("seed release: released=%v err=%v", released, err)
	}
	reg.Release(ctx, "d1", models.ActorDriver, "conn-live")

	next := dial(t, ts, models.ActorDriver, signToken(t, "d1", models.ActorDriver))
	cancelCmd := map[string]any{
		"event": "cancelOrder",
		"data":  map[string]string{"orderId": "nope"},
	}
	if err := next.WriteJSON(cancelCmd); err != nil {
		t.Fatalf("write cancel: %v", err)
	}
	if event, _ := readEnvelope(t, next); event != "commandRejected" {
		t.Fatalf("expected commandRejected, got %s", event)
	}
}

func TestReconnectEvictsPreviousConnection(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signToken(t, "d1", models.ActorDriver)

	first := dial(t, ts, models.ActorDriver, token)
	second := dial(t, ts, models.ActorDriver, token)

	// the stale seat is cleared when the replacement is admitted
	_ = first.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("expected first connection to be closed")
	}

	// the replacement stays live and keeps receiving command feedback
	cancel := map[string]any{
		"event": "cancelOrder",
		"data":  map[string]string{"orderId": "nope"},
	}
	if err := second.WriteJSON(cancel); err != nil {
		t.Fatalf("write cancel: %v", err)
	}
	event, _ := readEnvelope(t, second)
	if event != "commandRejected" {
		t.Fatalf("expected commandRejected, got %s", event)
	}
}
