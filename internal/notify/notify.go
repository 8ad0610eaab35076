package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/order-dispatch/internal/lock"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/observability"
	"github.com/example/order-dispatch/internal/rooms"
	"github.com/example/order-dispatch/internal/storage"
)

const (
	notifyLockTTL    = 10 * time.Second
	emptyRoomRetries = 3
	defaultDelay     = 500 * time.Millisecond
)

// RoomEmitter is the slice of room delivery the dispatcher needs.
type RoomEmitter interface {
	Emit(ctx context.Context, room, event string, payload any) (int, error)
}

// Dispatcher fans tracking updates out to the rooms of the order's actors.
// Delivery is best-effort: the authoritative state is the persisted order,
// never the notification.
type Dispatcher struct {
	Locks    lock.Lock
	Rooms    RoomEmitter
	Profiles storage.ProfileStore
	Logger   *slog.Logger

	retryDelay time.Duration
}

func NewDispatcher(locks lock.Lock, emitter RoomEmitter, profiles storage.ProfileStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Locks:      locks,
		Rooms:      emitter,
		Profiles:   profiles,
		Logger:     logger,
		retryDelay: defaultDelay,
	}
}

// NotifyOnce delivers the order's tracking payload at most once per in-flight
// attempt. The per-order lock serializes concurrent callers; losers no-op so
// near-simultaneous triggers for one order merge into a single delivery.
func (d *Dispatcher) NotifyOnce(ctx context.Context, order models.Order) {
	key := "lock:notify:" + order.ID
	token := uuid.NewString()

	ok, err := d.Locks.TryAcquire(ctx, key, token, notifyLockTTL)
	if err != nil {
		d.Logger.Warn("notify lock unavailable", "order", order.ID, "error", err)
		return
	}
	if !ok {
		// another delivery is already in flight for this order
		observability.NotificationsMerged.Inc()
		return
	}
	defer func() {
		if _, err := d.Locks.Release(ctx, key, token); err != nil {
			d.Logger.Warn("notify lock release failed", "order", order.ID, "error", err)
		}
	}()

	payload := d.buildPayload(ctx, order)
	observability.NotificationsTotal.Inc()

	// restaurant room first; an empty room here is usually a join/emit race,
	// so retry briefly before concluding the restaurant is offline
	restaurantRoom := rooms.RoomFor(string(models.ActorRestaurant), order.RestaurantID)
	delivered := false
	for attempt := 0; attempt <= emptyRoomRetries; attempt++ {
		if attempt > 0 {
			observability.EmptyRoomRetries.Inc()
			time.Sleep(d.retryDelay)
		}
		n, err := d.Rooms.Emit(ctx, restaurantRoom, models.EventNotifyOrderStatus, payload)
		if err != nil {
			// each actor's delivery is independent; the driver and customer
			// emits below still run
			d.Logger.Warn("restaurant delivery failed", "order", order.ID, "error", err)
			break
		}
		if n > 0 {
			delivered = true
			break
		}
	}
	if !delivered {
		d.Logger.Info("restaurant delivery gave up", "order", order.ID, "room", restaurantRoom)
	}

	// driver and customer deliveries are independent and best-effort
	if order.DriverID != "" {
		driverRoom := rooms.RoomFor(string(models.ActorDriver), order.DriverID)
		if _, err := d.Rooms.Emit(ctx, driverRoom, models.EventNotifyOrderStatus, payload); err != nil {
			d.Logger.Warn("driver delivery failed", "order", order.ID, "error", err)
		}
	}
	customerRoom := rooms.RoomFor(string(models.ActorCustomer), order.CustomerID)
	if _, err := d.Rooms.Emit(ctx, customerRoom, models.EventNotifyOrderStatus, payload); err != nil {
		d.Logger.Warn("customer delivery failed", "order", order.ID, "error", err)
	}
}

// buildPayload denormalizes restaurant/driver snapshots into the tracking
// body. Profile lookups are best-effort; a missing avatar never blocks a
// status update.
func (d *Dispatcher) buildPayload(ctx context.Context, order models.Order) models.TrackingPayload {
	p := models.TrackingPayload{
		OrderID:           order.ID,
		Status:            order.Status,
		TrackingInfo:      order.TrackingInfo,
		CustomerID:        order.CustomerID,
		RestaurantID:      order.RestaurantID,
		DriverID:          order.DriverID,
		Distance:          order.Distance,
		DriverWage:        order.DriverWage,
		Items:             order.Items,
		RestaurantAddress: order.RestaurantAddress,
		CustomerAddress:   order.CustomerAddress,
		Cancellation:      order.Cancellation,
	}
	if d.Profiles == nil {
		return p
	}
	if prof, err := d.Profiles.GetProfile(ctx, models.ActorRestaurant, order.RestaurantID); err == nil {
		p.RestaurantName = prof.Name
		p.RestaurantAvatar = prof.Avatar
	} else if !errors.Is(err, storage.ErrNotFound) {
		d.Logger.Warn("restaurant profile lookup failed", "order", order.ID, "error", err)
	}
	if order.DriverID != "" {
		if prof, err := d.Profiles.GetProfile(ctx, models.ActorDriver, order.DriverID); err == nil {
			p.DriverName = prof.Name
			p.DriverAvatar = prof.Avatar
		} else if !errors.Is(err, storage.ErrNotFound) {
			d.Logger.Warn("driver profile lookup failed", "order", order.ID, "error", err)
		}
	}
	return p
}
