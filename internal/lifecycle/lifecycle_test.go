package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/example/order-dispatch/internal/models"
)

type memRepo struct {
	updated *models.Order
	calls   int
}

func (m *memRepo) UpdateOrder(_ context.Context, o *models.Order) error {
	m.calls++
	cp := *o
	m.updated = &cp
	return nil
}

var allStatuses = []models.OrderStatus{
	models.StatusPending,
	models.StatusRestaurantAccepted,
	models.StatusPreparing,
	models.StatusReadyForPickup,
	models.StatusDispatched,
	models.StatusEnRoute,
	models.StatusOutForDelivery,
	models.StatusDelivered,
	models.StatusDeliveryFailed,
	models.StatusCancelled,
}

// edges lists every permitted (from, to) pair; anything else must reject.
var edges = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:            {models.StatusRestaurantAccepted, models.StatusPreparing, models.StatusCancelled, models.StatusDeliveryFailed},
	models.StatusRestaurantAccepted: {models.StatusPreparing, models.StatusReadyForPickup, models.StatusCancelled, models.StatusDeliveryFailed},
	models.StatusPreparing:          {models.StatusReadyForPickup, models.StatusCancelled, models.StatusDeliveryFailed},
	models.StatusReadyForPickup:     {models.StatusDispatched, models.StatusCancelled, models.StatusDeliveryFailed},
	models.StatusDispatched:         {models.StatusEnRoute, models.StatusCancelled, models.StatusDeliveryFailed},
	models.StatusEnRoute:            {models.StatusOutForDelivery, models.StatusCancelled, models.StatusDeliveryFailed},
	models.StatusOutForDelivery:     {models.StatusDelivered, models.StatusCancelled, models.StatusDeliveryFailed},
	models.StatusDelivered:          nil,
	models.StatusDeliveryFailed:     nil,
	models.StatusCancelled:          nil,
}

func allowed(from, to models.OrderStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

func TestTransitionTableClosure(t *testing.T) {
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			repo := &memRepo{}
			m := NewMachine(repo)
			order := models.Order{ID: "O1", Status: from, TrackingInfo: TrackingFor(from)}
			updated, err := m.Transition(context.Background(), order, to)

			if allowed(from, to) {
				if err != nil {
					t.Errorf("%s -> %s: unexpected reject: %v", from, to, err)
					continue
				}
				if updated.Status != to || updated.TrackingInfo != TrackingFor(to) {
					t.Errorf("%s -> %s: got status=%s tracking=%s", from, to, updated.Status, updated.TrackingInfo)
				}
				if repo.calls != 1 {
					t.Errorf("%s -> %s: persisted %d times", from, to, repo.calls)
				}
			} else {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
				}
				if repo.calls != 0 {
					t.Errorf("%s -> %s: rejected transition must not persist", from, to)
				}
			}
		}
	}
}

func TestTrackingStaysInLockStep(t *testing.T) {
	if TrackingFor(models.StatusReadyForPickup) != models.TrackingRestaurantPickup {
		t.Fatal("READY_FOR_PICKUP must map to RESTAURANT_PICKUP")
	}
	if TrackingFor(models.StatusPreparing) != models.TrackingPreparing {
		t.Fatal("PREPARING must map to PREPARING")
	}
	for _, s := range []models.OrderStatus{models.StatusDispatched, models.StatusEnRoute, models.StatusOutForDelivery} {
		if TrackingFor(s) != models.TrackingOnTheWay {
			t.Fatalf("%s must map to ON_THE_WAY", s)
		}
	}
}

func TestTerminalStatesAreClosed(t *testing.T) {
	for _, s := range []models.OrderStatus{models.StatusDelivered, models.StatusDeliveryFailed, models.StatusCancelled} {
		if !Terminal(s) {
			t.Fatalf("%s must be terminal", s)
		}
		if CanTransition(s, models.StatusCancelled) {
			t.Fatalf("%s must not transition to CANCELLED", s)
		}
	}
}
