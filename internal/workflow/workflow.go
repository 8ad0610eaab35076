package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/order-dispatch/internal/assignment"
	"github.com/example/order-dispatch/internal/bus"
	"github.com/example/order-dispatch/internal/lifecycle"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/storage"
)

// PresenceReader enriches candidate sketches with fleet metadata.
type PresenceReader interface {
	DriverMeta(ctx context.Context, driverID string) (activePoints, currentOrderCount int, err error)
}

// EventPublisher streams persisted transitions to downstream consumers.
type EventPublisher interface {
	PublishStatus(o models.Order) error
}

// Payouts manages the driver-wage hold attached to an order.
type Payouts interface {
	HoldWage(ctx context.Context, orderID string, amount int64) error
	CaptureForOrder(ctx context.Context, orderID string) error
	CancelForOrder(ctx context.Context, orderID string) error
}

// Service orchestrates the order-acceptance workflow: select a driver, lock
// in the wage, transition the order, then hand the snapshot to the bus for
// fan-out. Typed failures flow back to the command handler, which informs
// the restaurant actor.
type Service struct {
	Orders    storage.OrderRepository
	Lifecycle *lifecycle.Machine
	Assigner  *assignment.Service
	Bus       *bus.Bus
	Presence  PresenceReader  // optional
	Events    EventPublisher  // optional
	Payouts   Payouts         // optional
	Logger    *slog.Logger
}

func NewService(orders storage.OrderRepository, machine *lifecycle.Machine, assigner *assignment.Service, b *bus.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Orders: orders, Lifecycle: machine, Assigner: assigner, Bus: b, Logger: logger}
}

// AcceptOrder drives the restaurantAcceptWithAvailableDrivers command.
// Assignment side effects (wage, driver lock-in) happen before the status
// transition; the transition itself only persists.
func (s *Service) AcceptOrder(ctx context.Context, p models.RestaurantAcceptPayload) (models.Order, error) {
	order, err := s.Orders.GetOrder(ctx, p.OrderID)
	if err != nil {
		return models.Order{}, fmt.Errorf("order %s: %w", p.OrderID, err)
	}

	candidates := s.enrich(ctx, p.AvailableDrivers)
	driver, distanceKm, err := s.Assigner.SelectDriver(candidates, *order)
	if err != nil {
		return models.Order{}, err
	}
	wage, err := s.Assigner.ComputeWage(ctx, distanceKm)
	if err != nil {
		// hard stop: never assign on a zero or defaulted wage
		return models.Order{}, err
	}

	order.DriverID = driver.ID
	order.Distance = distanceKm
	order.DriverWage = wage

	updated, err := s.Lifecycle.Transition(ctx, *order, models.StatusPreparing)
	if err != nil {
		return models.Order{}, err
	}

	if s.Payouts != nil {
		if err := s.Payouts.HoldWage(ctx, updated.ID, int64(wage)); err != nil {
			s.Logger.Warn("wage hold failed", "order", updated.ID, "error", err)
		}
	}
	s.afterTransition(ctx, updated)
	s.Bus.Publish(ctx, bus.TopicOrderAssigned, updated)
	return updated, nil
}

// OrderReady drives the restaurantOrderReady command.
func (s *Service) OrderReady(ctx context.Context, p models.RestaurantOrderReadyPayload) (models.Order, error) {
	order, err := s.Orders.GetOrder(ctx, p.OrderID)
	if err != nil {
		return models.Order{}, fmt.Errorf("order %s: %w", p.OrderID, err)
	}
	updated, err := s.Lifecycle.Transition(ctx, *order, models.StatusReadyForPickup)
	if err != nil {
		return models.Order{}, err
	}
	s.afterTransition(ctx, updated)
	return updated, nil
}

// UpdateStatus drives driver-side progress updates (dispatched, en route,
// out for delivery, delivered, delivery failed).
func (s *Service) UpdateStatus(ctx context.Context, orderID string, target models.OrderStatus) (models.Order, error) {
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, fmt.Errorf("order %s: %w", orderID, err)
	}
	updated, err := s.Lifecycle.Transition(ctx, *order, target)
	if err != nil {
		return models.Order{}, err
	}
	s.settlePayout(ctx, updated)
	s.afterTransition(ctx, updated)
	return updated, nil
}

// CancelOrder records who cancelled and why, then transitions to CANCELLED.
func (s *Service) CancelOrder(ctx context.Context, orderID string, c models.Cancellation) (models.Order, error) {
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, fmt.Errorf("order %s: %w", orderID, err)
	}
	if c.At.IsZero() {
		c.At = time.Now()
	}
	order.Cancellation = &c
	updated, err := s.Lifecycle.Transition(ctx, *order, models.StatusCancelled)
	if err != nil {
		return models.Order{}, err
	}
	s.settlePayout(ctx, updated)
	s.afterTransition(ctx, updated)
	return updated, nil
}

// AnnounceOrder relays a freshly created order to its restaurant's room.
func (s *Service) AnnounceOrder(ctx context.Context, orderID string) error {
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("order %s: %w", orderID, err)
	}
	s.Bus.Publish(ctx, bus.TopicNewOrder, models.IncomingOrderPayload{
		OrderID:         order.ID,
		CustomerID:      order.CustomerID,
		Items:           order.Items,
		CustomerAddress: order.CustomerAddress,
	})
	return nil
}

func (s *Service) enrich(ctx context.Context, sketches []models.AvailableDriver) []models.DriverCandidate {
	out := make([]models.DriverCandidate, 0, len(sketches))
	for _, d := range sketches {
		c := models.DriverCandidate{ID: d.ID, Loc: models.Coord{Lat: d.Lat, Lng: d.Lng}}
		if s.Presence != nil {
			points, count, err := s.Presence.DriverMeta(ctx, d.ID)
			if err != nil {
				// missing meta never disqualifies; the driver scores as new
				s.Logger.Warn("presence lookup failed", "driver", d.ID, "error", err)
			} else {
				c.ActivePoints = points
				c.CurrentOrderCount = count
			}
		}
		out = append(out, c)
	}
	return out
}

// afterTransition publishes the snapshot for fan-out and streams it to the
// event log. Both are best-effort; the persisted order is the truth.
func (s *Service) afterTransition(ctx context.Context, updated models.Order) {
	if s.Events != nil {
		if err := s.Events.PublishStatus(updated); err != nil {
			s.Logger.Warn("order event publish failed", "order", updated.ID, "error", err)
		}
	}
	s.Bus.Publish(ctx, bus.TopicOrderTracking, updated)
}

func (s *Service) settlePayout(ctx context.Context, updated models.Order) {
	if s.Payouts == nil {
		return
	}
	var err error
	switch updated.Status {
	case models.StatusDelivered:
		err = s.Payouts.CaptureForOrder(ctx, updated.ID)
	case models.StatusCancelled, models.StatusDeliveryFailed:
		err = s.Payouts.CancelForOrder(ctx, updated.ID)
	default:
		return
	}
	if err != nil {
		s.Logger.Warn("wage settlement failed", "order", updated.ID, "status", updated.Status, "error", err)
	}
}
