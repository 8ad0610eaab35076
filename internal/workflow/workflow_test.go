package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/example/order-dispatch/internal/assignment"
	"github.com/example/order-dispatch/internal/bus"
	"github.com/example/order-dispatch/internal/finance"
	"github.com/example/order-dispatch/internal/lifecycle"
	"github.com/example/order-dispatch/internal/lock"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/notify"
	"github.com/example/order-dispatch/internal/rooms"
	"github.com/example/order-dispatch/internal/storage"
)

func pendingOrder() *models.Order {
	return &models.Order{
		ID:                "O1",
		Status:            models.StatusPending,
		TrackingInfo:      models.TrackingOrderPlaced,
		CustomerID:        "u1",
		RestaurantID:      "r1",
		RestaurantAddress: models.Address{Lat: 10.82, Lng: 106.69},
		CustomerAddress:   models.Address{Lat: 10.76, Lng: 106.66},
		Items:             []models.OrderItem{{Name: "pho", Quantity: 2, Price: 60000}},
	}
}

func testService(t *testing.T) (*Service, *storage.MemoryStore, *bus.Bus) {
	t.Helper()
	store := storage.NewMemoryStore()
	store.PutOrder(pendingOrder())
	b := bus.New(nil)
	svc := NewService(store, lifecycle.NewMachine(store), assignment.NewService(finance.DefaultStaticRules(), nil), b, nil)
	return svc, store, b
}

type countingConn struct {
	id     string
	events []string
}

func (c *countingConn) ID() string { return c.id }

func (c *countingConn) Send(event string, payload any) error {
	c.events = append(c.events, event)
	return nil
}

func (c *countingConn) Close() error { return nil }

// The full acceptance path: accept with one candidate, transition to
// PREPARING, deliver notifyOrderStatus to the restaurant and driver rooms.
func TestAcceptOrderScenario(t *testing.T) {
	svc, store, b := testService(t)
	ctx := context.Background()

	// wire the dispatcher the way the server does: bus tracking events feed
	// NotifyOnce, which fans out to the actor rooms
	rm := rooms.New("node-test", nil, nil)
	restaurantConn := &countingConn{id: "c-r1"}
	driverConn := &countingConn{id: "c-d1"}
	_ = rm.Join(ctx, rooms.RoomFor("restaurant", "r1"), restaurantConn)
	_ = rm.Join(ctx, rooms.RoomFor("driver", "D1"), driverConn)
	dispatcher := notify.NewDispatcher(lock.NewMemoryLock(), rm, store, nil)
	b.Subscribe(bus.TopicOrderTracking, "notifier", func(ctx context.Context, payload any) {
		if o, ok := payload.(models.Order); ok {
			dispatcher.NotifyOnce(ctx, o)
		}
	})

	updated, err := svc.AcceptOrder(ctx, models.RestaurantAcceptPayload{
		OrderID: "O1",
		AvailableDrivers: []models.AvailableDriver{
			{ID: "D1", Lat: 10.80, Lng: 106.70},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if updated.Status != models.StatusPreparing || updated.TrackingInfo != models.TrackingPreparing {
		t.Fatalf("order = %s/%s, want PREPARING", updated.Status, updated.TrackingInfo)
	}
	if updated.DriverID != "D1" {
		t.Fatalf("driverId = %q, want D1", updated.DriverID)
	}
	// ~2.4km from restaurant: the 3km band
	if updated.Distance <= 1 || updated.Distance > 5 {
		t.Fatalf("distance = %f, expected a fixed-band distance", updated.Distance)
	}
	if updated.DriverWage != 25000 {
		t.Fatalf("wage = %f, want the 3km band (25000)", updated.DriverWage)
	}

	stored, err := store.GetOrder(ctx, "O1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.StatusPreparing || stored.DriverID != "D1" {
		t.Fatalf("persisted order = %s driver=%s", stored.Status, stored.DriverID)
	}

	if len(restaurantConn.events) != 1 || restaurantConn.events[0] != models.EventNotifyOrderStatus {
		t.Fatalf("restaurant room events = %v", restaurantConn.events)
	}
	if len(driverConn.events) != 1 || driverConn.events[0] != models.EventNotifyOrderStatus {
		t.Fatalf("driver room events = %v", driverConn.events)
	}
}

func TestAcceptOrderSubKilometerTier(t *testing.T) {
	svc, store, _ := testService(t)
	o := pendingOrder()
	o.ID = "O2"
	store.PutOrder(o)

	updated, err := svc.AcceptOrder(context.Background(), models.RestaurantAcceptPayload{
		OrderID: "O2",
		AvailableDrivers: []models.AvailableDriver{
			{ID: "D1", Lat: 10.8205, Lng: 106.6905},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Distance > 1 {
		t.Fatalf("distance = %f, expected under 1km", updated.Distance)
	}
	if updated.DriverWage != 15000 {
		t.Fatalf("wage = %f, want the 0-1km band (15000)", updated.DriverWage)
	}
}

func TestAcceptOrderNoSuitableDriver(t *testing.T) {
	svc, store, _ := testService(t)
	_, err := svc.AcceptOrder(context.Background(), models.RestaurantAcceptPayload{OrderID: "O1"})
	if !errors.Is(err, assignment.ErrNoSuitableDriver) {
		t.Fatalf("expected ErrNoSuitableDriver, got %v", err)
	}
	// order untouched on failure
	stored, _ := store.GetOrder(context.Background(), "O1")
	if stored.Status != models.StatusPending || stored.DriverID != "" {
		t.Fatalf("order mutated on failed assignment: %s/%q", stored.Status, stored.DriverID)
	}
}

type downRules struct{}

func (downRules) TierWage(context.Context, int) (float64, bool, error) {
	return 0, false, errors.New("down")
}
func (downRules) WageFormula(context.Context) (string, error) { return "", errors.New("down") }

func TestAcceptOrderWageUnavailableIsHardStop(t *testing.T) {
	store := storage.NewMemoryStore()
	store.PutOrder(pendingOrder())
	svc := NewService(store, lifecycle.NewMachine(store), assignment.NewService(downRules{}, nil), bus.New(nil), nil)

	_, err := svc.AcceptOrder(context.Background(), models.RestaurantAcceptPayload{
		OrderID:          "O1",
		AvailableDrivers: []models.AvailableDriver{{ID: "D1", Lat: 10.80, Lng: 106.70}},
	})
	if !errors.Is(err, assignment.ErrWageUnavailable) {
		t.Fatalf("expected ErrWageUnavailable, got %v", err)
	}
	stored, _ := store.GetOrder(context.Background(), "O1")
	if stored.Status != models.StatusPending {
		t.Fatal("order must not transition when the wage is unavailable")
	}
}

func TestAcceptOrderNotFound(t *testing.T) {
	svc, _, _ := testService(t)
	_, err := svc.AcceptOrder(context.Background(), models.RestaurantAcceptPayload{OrderID: "missing"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrderReadyTransition(t *testing.T) {
	svc, store, _ := testService(t)
	o := pendingOrder()
	o.Status = models.StatusPreparing
	o.TrackingInfo = models.TrackingPreparing
	store.PutOrder(o)

	updated, err := svc.OrderReady(context.Background(), models.RestaurantOrderReadyPayload{OrderID: "O1"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.StatusReadyForPickup || updated.TrackingInfo != models.TrackingRestaurantPickup {
		t.Fatalf("order = %s/%s", updated.Status, updated.TrackingInfo)
	}
}

func TestOrderReadyRejectsFromTerminal(t *testing.T) {
	svc, store, _ := testService(t)
	o := pendingOrder()
	o.Status = models.StatusCancelled
	store.PutOrder(o)

	_, err := svc.OrderReady(context.Background(), models.RestaurantOrderReadyPayload{OrderID: "O1"})
	if !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

type recordingPayouts struct {
	held, captured, cancelled []string
}

func (r *recordingPayouts) HoldWage(_ context.Context, orderID string, _ int64) error {
	r.held = append(r.held, orderID)
	return nil
}

func (r *recordingPayouts) CaptureForOrder(_ context.Context, orderID string) error {
	r.captured = append(r.captured, orderID)
	return nil
}

func (r *recordingPayouts) CancelForOrder(_ context.Context, orderID string) error {
	r.cancelled = append(r.cancelled, orderID)
	return nil
}

func TestCancelOrderRecordsCancellationAndSettles(t *testing.T) {
	svc, store, _ := testService(t)
	payouts := &recordingPayouts{}
	svc.Payouts = payouts

	updated, err := svc.CancelOrder(context.Background(), "O1", models.Cancellation{
		By:     models.ActorRestaurant,
		ByID:   "r1",
		Reason: "out of stock",
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.StatusCancelled || updated.Cancellation == nil {
		t.Fatalf("order = %s cancellation=%v", updated.Status, updated.Cancellation)
	}
	if updated.Cancellation.At.IsZero() {
		t.Fatal("cancellation timestamp must be stamped")
	}
	if len(payouts.cancelled) != 1 || payouts.cancelled[0] != "O1" {
		t.Fatalf("payout cancels = %v", payouts.cancelled)
	}
	stored, _ := store.GetOrder(context.Background(), "O1")
	if stored.Cancellation == nil || stored.Cancellation.Reason != "out of stock" {
		t.Fatal("cancellation must persist")
	}
}

func TestDeliveredCapturesWage(t *testing.T) {
	svc, store, _ := testService(t)
	payouts := &recordingPayouts{}
	svc.Payouts = payouts
	o := pendingOrder()
	o.Status = models.StatusOutForDelivery
	o.DriverID = "D1"
	store.PutOrder(o)

	updated, err := svc.UpdateStatus(context.Background(), "O1", models.StatusDelivered)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.StatusDelivered {
		t.Fatalf("status = %s", updated.Status)
	}
	if len(payouts.captured) != 1 {
		t.Fatalf("payout captures = %v", payouts.captured)
	}
}

func TestAnnounceOrderPublishesNewOrderTopic(t *testing.T) {
	svc, _, b := testService(t)
	var got models.IncomingOrderPayload
	b.Subscribe(bus.TopicNewOrder, "test", func(ctx context.Context, payload any) {
		got, _ = payload.(models.IncomingOrderPayload)
	})

	if err := svc.AnnounceOrder(context.Background(), "O1"); err != nil {
		t.Fatal(err)
	}
	if got.OrderID != "O1" || got.CustomerID != "u1" {
		t.Fatalf("announced payload = %+v", got)
	}
}
