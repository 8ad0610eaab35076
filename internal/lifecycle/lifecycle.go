package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/order-dispatch/internal/models"
)

// ErrInvalidTransition marks a status change with no edge in the table.
// Callers must not retry blindly; the stored order is left untouched.
var ErrInvalidTransition = errors.New("invalid order status transition")

// Repository is the slice of order persistence the state machine needs.
type Repository interface {
	UpdateOrder(ctx context.Context, o *models.Order) error
}

// forward edges of the order state machine. CANCELLED and DELIVERY_FAILED
// are additionally reachable from every non-terminal state.
var forward = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:            {models.StatusRestaurantAccepted, models.StatusPreparing},
	models.StatusRestaurantAccepted: {models.StatusPreparing, models.StatusReadyForPickup},
	models.StatusPreparing:          {models.StatusReadyForPickup},
	models.StatusReadyForPickup:     {models.StatusDispatched},
	models.StatusDispatched:         {models.StatusEnRoute},
	models.StatusEnRoute:            {models.StatusOutForDelivery},
	models.StatusOutForDelivery:     {models.StatusDelivered},
}

var tracking = map[models.OrderStatus]models.TrackingInfo{
	models.StatusPending:            models.TrackingOrderPlaced,
	models.StatusRestaurantAccepted: models.TrackingOrderReceived,
	models.StatusPreparing:          models.TrackingPreparing,
	models.StatusReadyForPickup:     models.TrackingRestaurantPickup,
	models.StatusDispatched:         models.TrackingOnTheWay,
	models.StatusEnRoute:            models.TrackingOnTheWay,
	models.StatusOutForDelivery:     models.TrackingOnTheWay,
	models.StatusDelivered:          models.TrackingDelivered,
	models.StatusDeliveryFailed:     models.TrackingDeliveryFailed,
	models.StatusCancelled:          models.TrackingCancelled,
}

// Terminal reports whether no further transition is permitted.
func Terminal(s models.OrderStatus) bool {
	switch s {
	case models.StatusDelivered, models.StatusDeliveryFailed, models.StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to models.OrderStatus) bool {
	if Terminal(from) {
		return false
	}
	if to == models.StatusCancelled || to == models.StatusDeliveryFailed {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TrackingFor maps a fine-grained status to its user-facing label.
func TrackingFor(s models.OrderStatus) models.TrackingInfo {
	return tracking[s]
}

// Machine applies validated transitions and persists the result. It carries
// no other side effects: wage computation and driver lock-in happen before
// Transition is called, never inside it.
type Machine struct {
	repo Repository
}

func NewMachine(repo Repository) *Machine {
	return &Machine{repo: repo}
}

// Transition validates the edge, stamps the new status and tracking label,
// persists, and returns the snapshot used for notification.
func (m *Machine) Transition(ctx context.Context, order models.Order, target models.OrderStatus) (models.Order, error) {
	if !CanTransition(order.Status, target) {
		return order, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
	}
	order.Status = target
	order.TrackingInfo = TrackingFor(target)
	order.UpdatedAt = time.Now()
	if err := m.repo.UpdateOrder(ctx, &order); err != nil {
		return order, fmt.Errorf("persist order %s: %w", order.ID, err)
	}
	return order, nil
}
